package feed

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-gesture/internal/gesture"
	"github.com/loqalabs/loqa-gesture/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	chans     []chan pipeline.Update
	cancelled int
}

func (s *fakeSource) Subscribe(buffer int) (<-chan pipeline.Update, func()) {
	ch := make(chan pipeline.Update, buffer)
	s.mu.Lock()
	s.chans = append(s.chans, ch)
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		s.cancelled++
		s.mu.Unlock()
	}
}

func (s *fakeSource) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chans)
}

func (s *fakeSource) broadcast(u pipeline.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chans {
		ch <- u
	}
}

func (s *fakeSource) cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsFrames(t *testing.T) {
	src := &fakeSource{}
	hub := NewHub(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return src.subscribers() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.Clients())

	src.broadcast(pipeline.GestureEvent{Event: gesture.Event{Label: "hello", Confidence: 0.9}})

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, "gesture", frame.Type)

		var evt gesture.Event
		require.NoError(t, json.Unmarshal(frame.Data, &evt))
		assert.Equal(t, "hello", evt.Label)
	}
}

func TestHubReleasesSubscriptionOnDisconnect(t *testing.T) {
	src := &fakeSource{}
	hub := NewHub(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 0 && src.cancels() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	src := &fakeSource{}
	hub := NewHub(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
