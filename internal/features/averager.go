// Package features keeps the rolling window of recent samples and reduces it
// to the averaged feature vector consumed by the classifier.
package features

import (
	"fmt"

	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"gonum.org/v1/gonum/floats"
)

// FeatureVector is ordered xAccel,yAccel,zAccel,xRot,yRot,zRot.
type FeatureVector [6]float64

// RollingAverager is a fixed capacity FIFO of samples. It is owned by a
// single goroutine and is not safe for concurrent use.
type RollingAverager struct {
	window [][6]float64
	next   int
	count  int
}

func NewRollingAverager(capacity int) (*RollingAverager, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("window capacity must be > 0, got %d", capacity)
	}
	return &RollingAverager{window: make([][6]float64, capacity)}, nil
}

// Push inserts a sample, evicting the oldest one once the window is full.
func (r *RollingAverager) Push(sample protocol.MotionSample) {
	r.window[r.next] = sample.Features()
	r.next = (r.next + 1) % len(r.window)
	if r.count < len(r.window) {
		r.count++
	}
}

// Average returns the column-wise mean of the samples currently held. While
// the window is filling it divides by the number of samples seen so far.
func (r *RollingAverager) Average() (FeatureVector, bool) {
	if r.count == 0 {
		return FeatureVector{}, false
	}
	sum := make([]float64, 6)
	start := (r.next - r.count + len(r.window)) % len(r.window)
	for i := 0; i < r.count; i++ {
		row := r.window[(start+i)%len(r.window)]
		floats.Add(sum, row[:])
	}
	floats.Scale(1/float64(r.count), sum)

	var out FeatureVector
	copy(out[:], sum)
	return out, true
}

func (r *RollingAverager) Len() int { return r.count }

func (r *RollingAverager) Cap() int { return len(r.window) }

func (r *RollingAverager) Full() bool { return r.count == len(r.window) }

func (r *RollingAverager) Reset() {
	r.next = 0
	r.count = 0
}
