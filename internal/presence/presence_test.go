package presence

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(role string) (*Tracker, *time.Time) {
	cfg := config.NodeConfig{ID: "self", Role: role, HeartbeatInterval: 1000, HeartbeatTimeout: 3000}
	tr := New(cfg, "wrist", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.clock = func() time.Time { return now }
	return tr, &now
}

func TestCounterpartBecomesReachable(t *testing.T) {
	tr, _ := newTestTracker("phone")
	var changes []bool
	tr.OnReachabilityChanged(func(r bool) { changes = append(changes, r) })

	tr.observe(protocol.Heartbeat{NodeID: "w1", Role: "watch", PairingID: "wrist"})
	assert.True(t, tr.PeerReachable())
	tr.observe(protocol.Heartbeat{NodeID: "w1", Role: "watch", PairingID: "wrist"})
	assert.Equal(t, []bool{true}, changes, "repeated heartbeats must not re-notify")
}

func TestIgnoresSelfOtherPairingAndSameRole(t *testing.T) {
	tr, _ := newTestTracker("phone")
	tr.observe(protocol.Heartbeat{NodeID: "self", Role: "watch", PairingID: "wrist"})
	tr.observe(protocol.Heartbeat{NodeID: "w2", Role: "watch", PairingID: "other"})
	tr.observe(protocol.Heartbeat{NodeID: "p2", Role: "phone", PairingID: "wrist"})
	assert.False(t, tr.PeerReachable())
	assert.Len(t, tr.Peers(), 1, "only the same-pairing phone is tracked")
}

func TestHeartbeatTimeout(t *testing.T) {
	tr, now := newTestTracker("watch")
	var changes []bool
	tr.OnReachabilityChanged(func(r bool) { changes = append(changes, r) })

	tr.observe(protocol.Heartbeat{NodeID: "p1", Role: "phone", PairingID: "wrist"})
	require.True(t, tr.PeerReachable())

	*now = now.Add(2 * time.Second)
	tr.evaluateHealth()
	assert.True(t, tr.PeerReachable())

	*now = now.Add(2 * time.Second)
	tr.evaluateHealth()
	assert.False(t, tr.PeerReachable())
	assert.Equal(t, []bool{true, false}, changes)
	assert.Equal(t, int64(0), tr.healthyCount())
}
