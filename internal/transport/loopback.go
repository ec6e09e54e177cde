package transport

import (
	"context"
	"errors"
	"sync"
)

var errLoopbackFull = errors.New("loopback: peer inbox full")

const loopbackInbox = 1024

// Loopback is an in-process Link. Two ends created by NewLoopbackPair
// deliver to each other; a delivery goroutine per end runs the receiver.
type Loopback struct {
	peer *Loopback

	mu       sync.Mutex
	shared   *loopbackShared
	receiver func([]byte)
	observer func(LinkEvent)
	closed   bool

	inbox chan []byte
	done  chan struct{}
	wg    sync.WaitGroup
}

type loopbackShared struct {
	mu        sync.Mutex
	reachable bool
}

func NewLoopbackPair() (*Loopback, *Loopback) {
	shared := &loopbackShared{reachable: true}
	a := newLoopback(shared)
	b := newLoopback(shared)
	a.peer, b.peer = b, a
	return a, b
}

func newLoopback(shared *loopbackShared) *Loopback {
	l := &Loopback{
		shared: shared,
		inbox:  make(chan []byte, loopbackInbox),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.deliver()
	return l
}

func (l *Loopback) deliver() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case payload := <-l.inbox:
			l.mu.Lock()
			fn := l.receiver
			l.mu.Unlock()
			if fn != nil {
				fn(payload)
			}
		}
	}
}

func (l *Loopback) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New("loopback: closed")
	}
	observer := l.observer
	l.mu.Unlock()
	if observer != nil {
		observer(LinkEvent{Kind: Activated})
	}
	return nil
}

// Deactivate simulates the session dropping on this end.
func (l *Loopback) Deactivate(err error) {
	l.mu.Lock()
	observer := l.observer
	l.mu.Unlock()
	if observer != nil {
		observer(LinkEvent{Kind: Deactivated, Err: err})
	}
}

// SetReachable toggles reachability for both ends of the pair and notifies
// their observers.
func (l *Loopback) SetReachable(reachable bool) {
	l.shared.mu.Lock()
	changed := l.shared.reachable != reachable
	l.shared.reachable = reachable
	l.shared.mu.Unlock()
	if !changed {
		return
	}
	for _, end := range []*Loopback{l, l.peer} {
		end.mu.Lock()
		observer := end.observer
		end.mu.Unlock()
		if observer != nil {
			observer(LinkEvent{Kind: ReachabilityChanged, Reachable: reachable})
		}
	}
}

func (l *Loopback) IsReachable() bool {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	return l.shared.reachable
}

func (l *Loopback) Send(payload []byte, onError func(error)) {
	if !l.IsReachable() {
		report(onError, ErrUnreachable)
		return
	}
	peer := l.peer
	peer.mu.Lock()
	closed := peer.closed
	peer.mu.Unlock()
	if closed {
		report(onError, ErrUnreachable)
		return
	}
	buf := append([]byte(nil), payload...)
	select {
	case peer.inbox <- buf:
	default:
		report(onError, errLoopbackFull)
	}
}

func report(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}

func (l *Loopback) SetReceiver(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiver = fn
}

func (l *Loopback) SetStateObserver(fn func(LinkEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = fn
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	close(l.done)
	l.wg.Wait()
	return nil
}
