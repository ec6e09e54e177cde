package pipeline

import (
	"sync"

	"github.com/loqalabs/loqa-gesture/internal/classifier"
	"github.com/loqalabs/loqa-gesture/internal/gesture"
)

// Update is one observable change produced by the pipeline.
type Update interface {
	Kind() string
}

// GestureEvent is emitted for every debounced gesture.
type GestureEvent struct {
	gesture.Event
}

func (GestureEvent) Kind() string { return "gesture" }

// DistributionUpdate carries every classification, accepted or not.
type DistributionUpdate struct {
	classifier.Result
}

func (DistributionUpdate) Kind() string { return "distribution" }

// SentenceUpdate is emitted when the generated sentence changes.
type SentenceUpdate struct {
	Text        string  `json:"text"`
	Fingerprint string  `json:"fingerprint"`
	LatencyMS   float64 `json:"latency_ms"`
}

func (SentenceUpdate) Kind() string { return "sentence" }

// RecordingUpdate reports the recording buffer after a label change, save
// or trash.
type RecordingUpdate struct {
	Label string `json:"label"`
	Rows  int    `json:"rows"`
	Saved string `json:"saved,omitempty"`
}

func (RecordingUpdate) Kind() string { return "recording" }

type fanout struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Update
	closed bool
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int]chan Update)}
}

func (f *fanout) subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Update, buffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

// publish never blocks; it returns how many subscribers missed u.
func (f *fanout) publish(u Update) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	dropped := 0
	for _, ch := range f.subs {
		select {
		case ch <- u:
		default:
			dropped++
		}
	}
	return dropped
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
