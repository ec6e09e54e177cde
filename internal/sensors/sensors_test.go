package sensors

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestParseScript(t *testing.T) {
	assert.Equal(t, []string{"hello", "world"}, ParseScript(" hello, ,world,"))
	assert.Empty(t, ParseScript(""))
}

func TestMockSourceFollowsScript(t *testing.T) {
	centroids := config.Default().Classifier.Centroids
	src, err := NewMockSource([]string{"hello", "world"}, centroids)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(1000, 0)}
	src.start = clock.Now()
	src.clock = clock.Now

	near := func(want []float64) {
		t.Helper()
		a, ok := src.ReadAccelerometer()
		require.True(t, ok)
		r, ok := src.ReadRotationRate()
		require.True(t, ok)
		got := []float64{a.X, a.Y, a.Z, r.X, r.Y, r.Z}
		for i := range want {
			assert.InDelta(t, want[i], got[i], 0.11, "axis %d", i)
		}
	}

	clock.Advance(500 * time.Millisecond)
	near(centroids["hello"])
	clock.Advance(2 * time.Second) // rest
	near([]float64{0, 0, -1, 0, 0, 0})
	clock.Advance(time.Second) // second slot
	near(centroids["world"])
	clock.Advance(3 * time.Second) // wraps
	near(centroids["hello"])
}

func TestMockSourceRejectsUnknownGesture(t *testing.T) {
	_, err := NewMockSource([]string{"wave"}, config.Default().Classifier.Centroids)
	assert.Error(t, err)
}

func TestNewSelectsMode(t *testing.T) {
	cfg := config.Default().Sensor
	src, err := New(cfg, config.Default().Classifier.Centroids, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &MockSource{}, src)

	cfg.Mode = "camera"
	_, err = New(cfg, nil, discardLogger())
	assert.Error(t, err)
}

func TestScales(t *testing.T) {
	accel, gyro := Scales(0, 0)
	assert.InDelta(t, 1.0/16384, accel, 1e-12)
	assert.InDelta(t, math.Pi/180/131, gyro, 1e-12)

	accel, gyro = Scales(2, 3)
	assert.InDelta(t, 4.0/16384, accel, 1e-12)
	assert.InDelta(t, 8*math.Pi/180/131, gyro, 1e-12)
}

func TestSerialSourceParsesLines(t *testing.T) {
	clock := &fakeClock{now: time.Unix(2000, 0)}
	pr, pw := io.Pipe()
	src := newLineSource(pr, 200*time.Millisecond, clock.Now, discardLogger())
	defer src.Close()

	_, ok := src.ReadAccelerometer()
	assert.False(t, ok, "no reading before the first line")

	_, err := io.WriteString(pw, "0.1,0.2,-0.9,1,2,3\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := src.ReadRotationRate()
		return ok
	}, time.Second, 5*time.Millisecond)

	a, ok := src.ReadAccelerometer()
	require.True(t, ok)
	assert.Equal(t, protocol.Vec3{X: 0.1, Y: 0.2, Z: -0.9}, a)

	_, err = io.WriteString(pw, "garbage\nA,1,1,1\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		a, _ := src.ReadAccelerometer()
		return a.X == 1
	}, time.Second, 5*time.Millisecond)

	r, ok := src.ReadRotationRate()
	require.True(t, ok)
	assert.Equal(t, protocol.Vec3{X: 1, Y: 2, Z: 3}, r)
}

func TestSerialSourceGoesStale(t *testing.T) {
	clock := &fakeClock{now: time.Unix(2000, 0)}
	pr, pw := io.Pipe()
	src := newLineSource(pr, 200*time.Millisecond, clock.Now, discardLogger())
	defer src.Close()

	_, err := io.WriteString(pw, "G,0.5,0.5,0.5\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := src.ReadRotationRate()
		return ok
	}, time.Second, 5*time.Millisecond)

	_, ok := src.ReadAccelerometer()
	assert.False(t, ok, "accelerometer never reported")

	clock.Advance(250 * time.Millisecond)
	_, ok = src.ReadRotationRate()
	assert.False(t, ok, "stale rotation should read as missing")
}
