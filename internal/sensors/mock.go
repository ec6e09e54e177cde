package sensors

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/protocol"
)

const (
	mockHold = 2 * time.Second
	mockRest = time.Second
)

// MockSource generates smooth wrist motion. With a script it cycles through
// the named gestures, holding each centroid pose for two seconds followed by
// a one second rest.
type MockSource struct {
	start  time.Time
	clock  func() time.Time
	script [][6]float64
}

// ParseScript splits a comma separated gesture list, ignoring blanks.
func ParseScript(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func NewMockSource(script []string, centroids map[string][]float64) (*MockSource, error) {
	m := &MockSource{start: time.Now(), clock: time.Now}
	for _, name := range script {
		c, ok := centroids[name]
		if !ok {
			return nil, fmt.Errorf("mock script: no centroid for gesture %q", name)
		}
		if len(c) != 6 {
			return nil, fmt.Errorf("mock script: centroid %q has %d values, want 6", name, len(c))
		}
		var pose [6]float64
		copy(pose[:], c)
		m.script = append(m.script, pose)
	}
	return m, nil
}

func (m *MockSource) ReadAccelerometer() (protocol.Vec3, bool) {
	v := m.at(m.clock().Sub(m.start))
	return protocol.Vec3{X: v[0], Y: v[1], Z: v[2]}, true
}

func (m *MockSource) ReadRotationRate() (protocol.Vec3, bool) {
	v := m.at(m.clock().Sub(m.start))
	return protocol.Vec3{X: v[3], Y: v[4], Z: v[5]}, true
}

func (m *MockSource) Close() error { return nil }

func (m *MockSource) at(elapsed time.Duration) [6]float64 {
	e := elapsed.Seconds()
	wobble := [6]float64{
		0.05 * math.Sin(e),
		0.05 * math.Cos(e*0.7),
		0.02 * math.Sin(e*2),
		0.1 * math.Sin(e*1.3),
		0.1 * math.Cos(e),
		0.05 * math.Sin(e*0.5),
	}
	base := [6]float64{0, 0, -1, 0, 0, 0}
	if len(m.script) > 0 {
		slot := mockHold + mockRest
		n := int(elapsed / slot)
		if elapsed%slot < mockHold {
			base = m.script[n%len(m.script)]
		}
	}
	var out [6]float64
	for i := range out {
		out[i] = base[i] + wobble[i]
	}
	return out
}
