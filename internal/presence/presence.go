// Package presence tracks which paired nodes are alive through periodic
// heartbeats on the bus.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Conn is the subset of the bus client presence needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

type Peer struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	PairingID string    `json:"pairing_id"`
	LastSeen  time.Time `json:"last_seen"`
	Healthy   bool      `json:"healthy"`
}

type Tracker struct {
	cfg       config.NodeConfig
	pairingID string
	log       *slog.Logger
	conn      Conn
	clock     func() time.Time

	mu        sync.RWMutex
	peers     map[string]*Peer
	reachable bool
	observers []func(bool)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
}

// New builds a tracker without touching the bus. Call Start to begin
// publishing and listening.
func New(cfg config.NodeConfig, pairingID string, conn Conn, log *slog.Logger) *Tracker {
	return &Tracker{
		cfg:       cfg,
		pairingID: pairingID,
		conn:      conn,
		log:       log.With(slog.String("component", "presence")),
		clock:     time.Now,
		peers:     make(map[string]*Peer),
	}
}

func (t *Tracker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	if err := t.initMetrics(); err != nil {
		t.log.Warn("failed to initialize metrics", slogError(err))
	}

	sub, err := t.conn.Subscribe(protocol.SubjectPresencePrefix+".*.*", t.handleHeartbeat)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe presence: %w", err)
	}
	t.subs = append(t.subs, sub)

	if err := t.publishHeartbeat(); err != nil {
		t.log.Warn("failed to publish heartbeat", slogError(err))
	}

	t.wg.Add(2)
	go t.runHeartbeat(ctx)
	go t.monitorHealth(ctx)
	return nil
}

func (t *Tracker) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	for _, sub := range t.subs {
		_ = sub.Unsubscribe()
	}
	t.wg.Wait()
}

// OnReachabilityChanged registers fn to run whenever a counterpart peer
// becomes reachable or unreachable.
func (t *Tracker) OnReachabilityChanged(fn func(bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// PeerReachable reports whether a healthy counterpart is known.
func (t *Tracker) PeerReachable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reachable
}

func (t *Tracker) Peers() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

func (t *Tracker) runHeartbeat(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(time.Duration(t.cfg.HeartbeatInterval) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.publishHeartbeat(); err != nil {
				t.log.Warn("failed to publish heartbeat", slogError(err))
			}
		}
	}
}

func (t *Tracker) monitorHealth(ctx context.Context) {
	defer t.wg.Done()
	interval := time.Duration(t.cfg.HeartbeatInterval) * time.Millisecond / 2
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.evaluateHealth()
		}
	}
}

func (t *Tracker) publishHeartbeat() error {
	payload, err := json.Marshal(protocol.Heartbeat{
		NodeID:    t.cfg.ID,
		Role:      t.cfg.Role,
		PairingID: t.pairingID,
		Timestamp: t.clock().UTC(),
	})
	if err != nil {
		return err
	}
	return t.conn.Publish(protocol.PresenceSubject(t.cfg.Role, t.cfg.ID), payload)
}

func (t *Tracker) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.Heartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		t.log.Warn("invalid heartbeat message", slogError(err))
		return
	}
	t.observe(hb)
}

// observe records a heartbeat. Heartbeats are stamped on receipt so peer
// clock skew does not affect liveness.
func (t *Tracker) observe(hb protocol.Heartbeat) {
	if hb.NodeID == "" || hb.NodeID == t.cfg.ID || hb.PairingID != t.pairingID {
		return
	}
	t.mu.Lock()
	peer, ok := t.peers[hb.NodeID]
	if !ok {
		peer = &Peer{ID: hb.NodeID, PairingID: hb.PairingID}
		t.peers[hb.NodeID] = peer
		t.log.Info("peer discovered", slog.String("peer", hb.NodeID), slog.String("role", hb.Role))
	}
	peer.Role = hb.Role
	peer.LastSeen = t.clock()
	peer.Healthy = true
	notify := t.recomputeLocked()
	t.mu.Unlock()
	notify()
}

func (t *Tracker) evaluateHealth() {
	t.mu.Lock()
	timeout := time.Duration(t.cfg.HeartbeatTimeout) * time.Millisecond
	now := t.clock()
	for _, peer := range t.peers {
		if peer.Healthy && now.Sub(peer.LastSeen) > timeout {
			peer.Healthy = false
			t.log.Info("peer heartbeat timed out", slog.String("peer", peer.ID))
		}
	}
	notify := t.recomputeLocked()
	t.mu.Unlock()
	notify()
}

// recomputeLocked updates reachability and returns a func that notifies
// observers outside the lock.
func (t *Tracker) recomputeLocked() func() {
	reachable := false
	for _, peer := range t.peers {
		if peer.Healthy && isCounterpart(t.cfg.Role, peer.Role) {
			reachable = true
			break
		}
	}
	if reachable == t.reachable {
		return func() {}
	}
	t.reachable = reachable
	observers := append([]func(bool){}, t.observers...)
	return func() {
		for _, fn := range observers {
			fn(reachable)
		}
	}
}

func isCounterpart(self, other string) bool {
	switch self {
	case "watch":
		return other == "phone" || other == "standalone"
	case "phone":
		return other == "watch" || other == "standalone"
	default:
		return true
	}
}

func (t *Tracker) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-gesture/presence")
	gauge, err := meter.Int64ObservableGauge("gesture_presence_peers", metric.WithDescription("Number of healthy paired peers"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, t.healthyCount())
		return nil
	}, gauge)
	return err
}

func (t *Tracker) healthyCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n int64
	for _, p := range t.peers {
		if p.Healthy {
			n++
		}
	}
	return n
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
