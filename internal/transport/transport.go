// Package transport carries motion rows from the watch to the phone over a
// pluggable Link and tracks the link's session state.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrUnreachable = errors.New("transport: counterpart unreachable")

type State int32

const (
	Inactive State = iota
	Activating
	Active
	Unreachable
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

type Transport struct {
	link            Link
	log             *slog.Logger
	minGap          time.Duration
	activateTimeout time.Duration
	clock           func() time.Time

	state        atomic.Int32
	reactivating atomic.Bool
	pending      atomic.Bool

	mu           sync.Mutex
	activated    bool
	closed       bool
	lastActivate time.Time
	handler      func(protocol.Message)
	stateWatch   []func(State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sentCounter    metric.Int64Counter
	dropCounter    metric.Int64Counter
	recvCounter    metric.Int64Counter
	decodeErrors   metric.Int64Counter
	linkErrCounter metric.Int64Counter
	stateGaugeReg  metric.Registration
}

func New(parent context.Context, link Link, cfg config.TransportConfig, log *slog.Logger) *Transport {
	ctx, cancel := context.WithCancel(parent)
	t := &Transport{
		link:            link,
		log:             log.With(slog.String("component", "transport")),
		minGap:          time.Duration(cfg.ReactivateMinGap) * time.Millisecond,
		activateTimeout: time.Duration(cfg.ActivateTimeout) * time.Millisecond,
		clock:           time.Now,
		ctx:             ctx,
		cancel:          cancel,
	}
	if t.activateTimeout <= 0 {
		t.activateTimeout = 5 * time.Second
	}
	t.state.Store(int32(Inactive))
	t.initMetrics()

	link.SetStateObserver(t.handleLinkEvent)
	return t
}

func (t *Transport) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-gesture/transport")
	var err error
	if t.sentCounter, err = meter.Int64Counter("gesture_samples_sent_total", metric.WithDescription("Motion rows handed to the link")); err != nil {
		t.log.Warn("failed to create counter", slogError(err))
	}
	if t.dropCounter, err = meter.Int64Counter("gesture_samples_dropped_total", metric.WithDescription("Motion rows dropped because the link was not active")); err != nil {
		t.log.Warn("failed to create counter", slogError(err))
	}
	if t.recvCounter, err = meter.Int64Counter("gesture_rows_received_total", metric.WithDescription("Messages received from the link")); err != nil {
		t.log.Warn("failed to create counter", slogError(err))
	}
	if t.decodeErrors, err = meter.Int64Counter("gesture_decode_errors_total", metric.WithDescription("Received payloads that failed to decode")); err != nil {
		t.log.Warn("failed to create counter", slogError(err))
	}
	if t.linkErrCounter, err = meter.Int64Counter("gesture_link_errors_total", metric.WithDescription("Delivery errors reported by the link")); err != nil {
		t.log.Warn("failed to create counter", slogError(err))
	}
	gauge, err := meter.Int64ObservableGauge("gesture_link_state", metric.WithDescription("Link state: 0 inactive, 1 activating, 2 active, 3 unreachable"))
	if err != nil {
		t.log.Warn("failed to create gauge", slogError(err))
		return
	}
	t.stateGaugeReg, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(t.State()))
		return nil
	}, gauge)
	if err != nil {
		t.log.Warn("failed to register gauge callback", slogError(err))
	}
}

// Start requests the first activation. Failure leaves the transport
// Unreachable and schedules a retry; it is not returned to the caller.
func (t *Transport) Start() {
	t.mu.Lock()
	if t.closed || State(t.state.Load()) != Inactive {
		t.mu.Unlock()
		return
	}
	t.setStateLocked(Activating)
	t.mu.Unlock()
	t.kickActivation()
}

func (t *Transport) State() State {
	return State(t.state.Load())
}

// OnStateChange registers fn to run after every state transition.
func (t *Transport) OnStateChange(fn func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateWatch = append(t.stateWatch, fn)
}

// OnReceive registers the handler for decoded messages and makes the link
// listen. Call it before Start. The handler runs on the link's delivery
// goroutine and must not block.
func (t *Transport) OnReceive(handler func(protocol.Message)) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
	t.link.SetReceiver(t.handlePayload)
}

// Send hands one sample to the link. It never blocks: when the link is not
// Active the sample is dropped and a re-activation is attempted.
func (t *Transport) Send(sample protocol.MotionSample) {
	payload, err := protocol.EncodeMotion(sample, t.clock())
	if err != nil {
		t.log.Warn("failed to encode motion sample", slogError(err))
		return
	}
	t.sendPayload(payload)
}

// SendValues sends a key/value control payload to the counterpart.
func (t *Transport) SendValues(values map[string]string) {
	payload, err := protocol.EncodeKeyValue(values, t.clock())
	if err != nil {
		t.log.Warn("failed to encode key/value payload", slogError(err))
		return
	}
	t.sendPayload(payload)
}

func (t *Transport) sendPayload(payload []byte) {
	if t.State() != Active || !t.link.IsReachable() {
		t.log.Debug("dropping payload, link not active", slog.String("state", t.State().String()))
		t.add(t.dropCounter, 1)
		t.kickActivation()
		return
	}
	t.link.Send(payload, t.handleSendError)
	t.add(t.sentCounter, 1)
}

func (t *Transport) handleSendError(err error) {
	t.log.Warn("link delivery failed", slogError(err))
	t.add(t.linkErrCounter, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.activated = false
	t.setStateLocked(Unreachable)
	watchers := t.watchersLocked()
	t.mu.Unlock()
	notify(watchers, Unreachable)
	t.kickActivation()
}

func (t *Transport) handlePayload(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		t.log.Warn("failed to decode payload", slogError(err))
		t.add(t.decodeErrors, 1)
		return
	}
	t.add(t.recvCounter, 1)
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (t *Transport) handleLinkEvent(evt LinkEvent) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	retry := false
	switch evt.Kind {
	case Activated:
		t.activated = true
		if t.link.IsReachable() {
			t.setStateLocked(Active)
		} else {
			t.setStateLocked(Unreachable)
		}
	case Deactivated:
		t.activated = false
		if evt.Err != nil {
			t.log.Warn("link deactivated", slogError(evt.Err))
		} else {
			t.log.Info("link deactivated")
		}
		t.setStateLocked(Unreachable)
		retry = true
	case ReachabilityChanged:
		// Notifications may arrive out of order; the link's current view wins.
		reachable := t.link.IsReachable()
		switch {
		case reachable && t.activated:
			t.setStateLocked(Active)
		case !reachable && State(t.state.Load()) == Active:
			t.setStateLocked(Unreachable)
		}
	}
	watchers := t.watchersLocked()
	state := State(t.state.Load())
	t.mu.Unlock()

	notify(watchers, state)
	if retry {
		t.pending.Store(true)
		t.kickActivation()
	}
}

func (t *Transport) setStateLocked(next State) {
	prev := State(t.state.Swap(int32(next)))
	if prev != next {
		t.log.Info("link state changed", slog.String("from", prev.String()), slog.String("to", next.String()))
	}
}

func (t *Transport) watchersLocked() []func(State) {
	return append([]func(State){}, t.stateWatch...)
}

func notify(watchers []func(State), state State) {
	for _, fn := range watchers {
		fn(state)
	}
}

// kickActivation starts at most one background activation attempt, spaced
// at least minGap apart. A pending request raised during an attempt runs
// once that attempt finishes.
func (t *Transport) kickActivation() {
	if !t.reactivating.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	if t.closed || t.activated {
		t.mu.Unlock()
		t.reactivating.Store(false)
		return
	}
	wait := t.minGap - t.clock().Sub(t.lastActivate)
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer func() {
			t.reactivating.Store(false)
			if t.pending.Swap(false) {
				t.kickActivation()
			}
		}()
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-t.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		t.mu.Lock()
		t.lastActivate = t.clock()
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(t.ctx, t.activateTimeout)
		defer cancel()
		if err := t.link.Activate(ctx); err != nil {
			t.log.Debug("link activation failed", slogError(err))
			t.mu.Lock()
			if t.closed || t.activated {
				t.mu.Unlock()
				return
			}
			t.setStateLocked(Unreachable)
			watchers := t.watchersLocked()
			t.mu.Unlock()
			notify(watchers, Unreachable)
		}
	}()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	if t.stateGaugeReg != nil {
		_ = t.stateGaugeReg.Unregister()
	}
	t.state.Store(int32(Inactive))
	return t.link.Close()
}

func (t *Transport) add(counter metric.Int64Counter, n int64) {
	if counter == nil {
		return
	}
	counter.Add(t.ctx, n, metric.WithAttributes(attribute.String("state", t.State().String())))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
