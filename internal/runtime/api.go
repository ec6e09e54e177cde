package runtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-gesture/internal/eventstore"
	"github.com/loqalabs/loqa-gesture/internal/recording"
)

const defaultRecordingLimit = 50

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}
	if r.pipeline == nil {
		return mux
	}
	mux.Handle("/feed", r.feed)
	mux.HandleFunc("GET /api/status", r.handleStatus)
	mux.HandleFunc("POST /api/recording/label", r.handleSetLabel)
	mux.HandleFunc("POST /api/recording/save", r.handleSave)
	mux.HandleFunc("POST /api/recording/trash", r.handleTrash)
	mux.HandleFunc("POST /api/reset", r.handleReset)
	mux.HandleFunc("GET /api/recordings", r.handleListRecordings)
	mux.HandleFunc("GET /api/recordings/{name}", r.handleGetRecording)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	checks := r.healthy()
	ok := r.ready.Load()
	for _, healthy := range checks {
		ok = ok && healthy
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ok, "checks": checks})
}

type statusResponse struct {
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
	Link      string `json:"link"`
	Peers     int    `json:"peers"`
	Pipeline  any    `json:"pipeline"`
	Feed      int    `json:"feed_clients"`
}

func (r *Runtime) handleStatus(w http.ResponseWriter, req *http.Request) {
	st, err := r.pipeline.Status(req.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	resp := statusResponse{
		Role:      r.cfg.Node.Role,
		SessionID: r.sessionID,
		Pipeline:  st,
		Feed:      r.feed.Clients(),
	}
	if r.receiver != nil {
		resp.Link = r.receiver.State().String()
	}
	if r.presence != nil {
		resp.Peers = len(r.presence.Peers())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Runtime) handleSetLabel(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := r.pipeline.SetLabel(req.Context(), body.Label); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, recording.ErrUnknownLabel) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"label": body.Label})
}

func (r *Runtime) handleSave(w http.ResponseWriter, req *http.Request) {
	name, err := r.pipeline.Save(req.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recording.ErrEmptyRecording) || errors.Is(err, recording.ErrRecordingExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (r *Runtime) handleTrash(w http.ResponseWriter, req *http.Request) {
	if err := r.pipeline.Trash(req.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleReset(w http.ResponseWriter, req *http.Request) {
	if err := r.pipeline.Reset(req.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleListRecordings(w http.ResponseWriter, req *http.Request) {
	limit := defaultRecordingLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := r.store.ListRecordings(req.Context(), limit)
	if err != nil {
		writeError(w, recordingStatus(err), err)
		return
	}
	if list == nil {
		list = []eventstore.RecordingInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (r *Runtime) handleGetRecording(w http.ResponseWriter, req *http.Request) {
	body, err := r.store.GetRecording(req.Context(), req.PathValue("name"))
	if err != nil {
		writeError(w, recordingStatus(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func recordingStatus(err error) int {
	switch {
	case errors.Is(err, eventstore.ErrRecordingNotFound):
		return http.StatusNotFound
	case errors.Is(err, eventstore.ErrPersistenceDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
