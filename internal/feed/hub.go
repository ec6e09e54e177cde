// Package feed streams pipeline updates to read-only websocket clients.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-gesture/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 32
)

// Source is satisfied by pipeline.Pipeline.
type Source interface {
	Subscribe(buffer int) (<-chan pipeline.Update, func())
}

// Frame is the JSON object written for every update.
type Frame struct {
	Type string          `json:"type"`
	Data pipeline.Update `json:"data"`
	At   time.Time       `json:"at"`
}

type Hub struct {
	source   Source
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(source Source, log *slog.Logger) *Hub {
	h := &Hub{
		source: source,
		log:    log.With(slog.String("component", "feed")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-gesture/feed")
	gauge, err := meter.Int64ObservableGauge("gesture_feed_clients", metric.WithDescription("Connected feed clients"))
	if err == nil {
		_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
			obs.ObserveInt64(gauge, int64(h.Clients()))
			return nil
		}, gauge)
	}
	if err != nil {
		h.log.Warn("failed to register feed gauge", slog.String("error", err.Error()))
	}
	return h
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	h.log.Info("feed client connected", slog.String("remote", r.RemoteAddr))
	updates, cancel := h.source.Subscribe(clientBuffer)
	go h.serve(conn, updates, cancel)
}

func (h *Hub) serve(conn *websocket.Conn, updates <-chan pipeline.Update, cancel func()) {
	defer h.wg.Done()
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Clients are read-only. Reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case u, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "pipeline stopped"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Frame{Type: u.Kind(), Data: u, At: time.Now().UTC()}); err != nil {
				h.log.Debug("feed write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	h.wg.Wait()
}
