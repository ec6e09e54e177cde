package transport

import "context"

type LinkEventKind int

const (
	Activated LinkEventKind = iota
	Deactivated
	ReachabilityChanged
)

func (k LinkEventKind) String() string {
	switch k {
	case Activated:
		return "activated"
	case Deactivated:
		return "deactivated"
	case ReachabilityChanged:
		return "reachability_changed"
	default:
		return "unknown"
	}
}

// LinkEvent is reported by a Link whenever its session or reachability
// changes. Err is set for Deactivated, Reachable for ReachabilityChanged.
type LinkEvent struct {
	Kind      LinkEventKind
	Err       error
	Reachable bool
}

// Link is the physical channel between the paired devices. Implementations
// must not block in Send; delivery failures are reported through onError.
type Link interface {
	Activate(ctx context.Context) error
	IsReachable() bool
	Send(payload []byte, onError func(error))
	SetReceiver(fn func([]byte))
	SetStateObserver(fn func(LinkEvent))
	Close() error
}
