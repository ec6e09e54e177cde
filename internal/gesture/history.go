package gesture

import "fmt"

// History is a ring of the last K accepted distributions, oldest first.
type History struct {
	entries []map[string]float64
	start   int
	count   int
}

func NewHistory(capacity int) (*History, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("history capacity must be > 0, got %d", capacity)
	}
	return &History{entries: make([]map[string]float64, capacity)}, nil
}

func (h *History) Append(dist map[string]float64) {
	entry := copyDistribution(dist)
	if h.count < len(h.entries) {
		h.entries[(h.start+h.count)%len(h.entries)] = entry
		h.count++
		return
	}
	h.entries[h.start] = entry
	h.start = (h.start + 1) % len(h.entries)
}

// Snapshot returns a deep copy of the entries in window order.
func (h *History) Snapshot() []map[string]float64 {
	out := make([]map[string]float64, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, copyDistribution(h.entries[(h.start+i)%len(h.entries)]))
	}
	return out
}

func (h *History) Len() int { return h.count }

func (h *History) Cap() int { return len(h.entries) }

func (h *History) Reset() {
	for i := range h.entries {
		h.entries[i] = nil
	}
	h.start = 0
	h.count = 0
}
