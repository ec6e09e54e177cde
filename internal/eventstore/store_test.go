package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTemp(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "events.db")
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.Put(ctx, "x.csv", []byte("a")); !errors.Is(err, ErrPersistenceDisabled) {
		t.Fatalf("expected persistence disabled error, got %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "session"})
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	es.clock = func() time.Time { return fixed }

	sessionID := "session-123"
	if err := es.AppendSession(context.Background(), sessionID, "phone-1", "wrist"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: sessionID, Type: EventGesture, Payload: []byte(`{"label":"hello"}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: sessionID, Type: EventSentence, Payload: []byte(`{"text":"Hello."}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventGesture || events[1].Type != EventSentence {
		t.Fatalf("unexpected order: %s, %s", events[0].Type, events[1].Type)
	}
	if !events[0].CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected timestamp %v", events[0].CreatedAt)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "old-session", "phone", "wrist"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: EventGesture}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.Put(context.Background(), "1735689600_sensor_data.csv", []byte("header\nrow\n")); err != nil {
		t.Fatalf("put recording: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "new-session", "phone", "wrist"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	recs, err := es.ListRecordings(context.Background(), 10)
	if err != nil {
		t.Fatalf("list recordings: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("recordings must survive pruning, got %d", len(recs))
	}
}

func TestRecordings(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()
	body := []byte("timestamp,xAccel,yAccel,zAccel,xRot,yRot,zRot,gesture\n1,0,0,0,0,0,0,hello\n2,0,0,0,0,0,0,hello\n")

	if err := es.Put(ctx, "100_sensor_data.csv", body); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := es.Put(ctx, "100_sensor_data.csv", body); err == nil {
		t.Fatal("expected duplicate name to fail")
	}

	recs, err := es.ListRecordings(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].Rows != 2 || recs[0].Bytes != len(body) {
		t.Fatalf("unexpected recordings %+v", recs)
	}

	got, err := es.GetRecording(ctx, "100_sensor_data.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("body mismatch")
	}
	if _, err := es.GetRecording(ctx, "missing.csv"); !errors.Is(err, ErrRecordingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
