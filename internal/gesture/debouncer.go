// Package gesture turns the per-tick classifier stream into discrete gesture
// events and keeps the bounded history of accepted distributions.
package gesture

import (
	"time"

	"github.com/loqalabs/loqa-gesture/internal/classifier"
)

// NoGesture is the accepted label before any gesture has been seen.
const NoGesture = "none"

type Event struct {
	Label        string             `json:"label"`
	Confidence   float64            `json:"confidence"`
	EmittedAt    time.Time          `json:"emitted_at"`
	Distribution map[string]float64 `json:"distribution"`
}

// Debouncer emits an Event only when a confident result carries a label
// different from the last accepted one.
type Debouncer struct {
	threshold float64
	last      string
	handlers  []func(Event)
	clock     func() time.Time
}

func NewDebouncer(threshold float64) *Debouncer {
	return &Debouncer{
		threshold: threshold,
		last:      NoGesture,
		clock:     time.Now,
	}
}

// OnEvent registers a side effect run synchronously for every emitted event.
func (d *Debouncer) OnEvent(fn func(Event)) {
	if fn != nil {
		d.handlers = append(d.handlers, fn)
	}
}

// Observe applies the confidence gate and then the change gate. Results with
// confidence equal to the threshold pass.
func (d *Debouncer) Observe(res classifier.Result) (Event, bool) {
	if res.Confidence < d.threshold {
		return Event{}, false
	}
	if res.Label == d.last {
		return Event{}, false
	}
	d.last = res.Label

	evt := Event{
		Label:        res.Label,
		Confidence:   res.Confidence,
		EmittedAt:    d.clock(),
		Distribution: copyDistribution(res.Distribution),
	}
	for _, fn := range d.handlers {
		fn(evt)
	}
	return evt, true
}

func (d *Debouncer) Last() string { return d.last }

func (d *Debouncer) Reset() { d.last = NoGesture }

func copyDistribution(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
