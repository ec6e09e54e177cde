package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-gesture/internal/bus"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Peers reports whether the paired counterpart is alive. presence.Tracker
// satisfies it.
type Peers interface {
	PeerReachable() bool
	OnReachabilityChanged(fn func(bool))
}

// NATSLink carries envelopes over core NATS on gesture.motion.<pairing>.
type NATSLink struct {
	client  *bus.Client
	subject string
	peers   Peers
	log     *slog.Logger

	mu       sync.Mutex
	sub      *nats.Subscription
	receiver func([]byte)
	observer func(LinkEvent)
}

// NewNATSLink wires connection handlers on the shared bus client. peers may
// be nil, in which case reachability only follows the connection.
func NewNATSLink(client *bus.Client, pairingID string, peers Peers, log *slog.Logger) *NATSLink {
	l := &NATSLink{
		client:  client,
		subject: protocol.MotionSubject(pairingID),
		peers:   peers,
		log:     log.With(slog.String("component", "nats-link")),
	}
	conn := client.Conn()
	conn.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err == nil {
			err = errors.New("nats disconnected")
		}
		l.emit(LinkEvent{Kind: Deactivated, Err: err})
	})
	conn.SetReconnectHandler(func(c *nats.Conn) {
		l.log.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		l.emit(LinkEvent{Kind: Activated})
	})
	if peers != nil {
		peers.OnReachabilityChanged(func(reachable bool) {
			l.emit(LinkEvent{Kind: ReachabilityChanged, Reachable: reachable})
		})
	}
	return l
}

func (l *NATSLink) emit(evt LinkEvent) {
	l.mu.Lock()
	fn := l.observer
	l.mu.Unlock()
	if fn != nil {
		fn(evt)
	}
}

// Activate subscribes when a receiver is installed and reports Activated
// once the connection is up. Subscriptions survive reconnects.
func (l *NATSLink) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := l.client.Conn()
	if conn.IsClosed() {
		return nats.ErrConnectionClosed
	}

	l.mu.Lock()
	if l.receiver != nil && l.sub == nil {
		sub, err := l.client.Subscribe(l.subject, l.handleMsg)
		if err != nil {
			l.mu.Unlock()
			return fmt.Errorf("subscribe %s: %w", l.subject, err)
		}
		l.sub = sub
	}
	l.mu.Unlock()

	if conn.Status() != nats.CONNECTED {
		return fmt.Errorf("nats not connected: %s", conn.Status())
	}
	l.emit(LinkEvent{Kind: Activated})
	return nil
}

func (l *NATSLink) handleMsg(msg *nats.Msg) {
	l.mu.Lock()
	fn := l.receiver
	l.mu.Unlock()
	if fn != nil {
		fn(msg.Data)
	}
}

func (l *NATSLink) IsReachable() bool {
	if !l.client.Healthy() {
		return false
	}
	return l.peers == nil || l.peers.PeerReachable()
}

// Send publishes into the client's outbound buffer; it does not wait for
// a flush.
func (l *NATSLink) Send(payload []byte, onError func(error)) {
	if err := l.client.Publish(l.subject, payload); err != nil {
		report(onError, err)
	}
}

func (l *NATSLink) SetReceiver(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiver = fn
}

func (l *NATSLink) SetStateObserver(fn func(LinkEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = fn
}

// Close drops the subscription. The bus client is owned by the caller.
func (l *NATSLink) Close() error {
	l.mu.Lock()
	sub := l.sub
	l.sub = nil
	l.observer = nil
	l.mu.Unlock()
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}
