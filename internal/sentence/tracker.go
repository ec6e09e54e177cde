package sentence

import "strings"

// InitialResponse is reported before any generation has succeeded.
const InitialResponse = "no response"

// Tracker keeps the latest generated sentence and the fingerprint of the last
// dispatched request. It is owned by the pipeline goroutine.
type Tracker struct {
	latest     string
	dispatched string
}

func NewTracker() *Tracker {
	return &Tracker{latest: InitialResponse}
}

// Observe records a response and reports whether it differs from the previous
// one. Empty responses are ignored.
func (t *Tracker) Observe(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || text == t.latest {
		return false
	}
	t.latest = text
	return true
}

func (t *Tracker) Latest() string { return t.latest }

// MarkDispatched reports whether req differs from the last dispatched request
// and remembers it if so.
func (t *Tracker) MarkDispatched(req Request) bool {
	if req.Fingerprint == t.dispatched {
		return false
	}
	t.dispatched = req.Fingerprint
	return true
}

func (t *Tracker) Reset() {
	t.latest = InitialResponse
	t.dispatched = ""
}
