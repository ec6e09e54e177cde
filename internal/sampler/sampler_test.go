package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	accel, rot     protocol.Vec3
	accelOK, rotOK bool
	readDelay      time.Duration
	inFlight       atomic.Int32
	maxInFlight    atomic.Int32
	closed         atomic.Bool
	closeErr       error
}

func (f *fakeSource) enter() {
	n := f.inFlight.Add(1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.readDelay)
	f.inFlight.Add(-1)
}

func (f *fakeSource) ReadAccelerometer() (protocol.Vec3, bool) {
	f.enter()
	return f.accel, f.accelOK
}

func (f *fakeSource) ReadRotationRate() (protocol.Vec3, bool) {
	return f.rot, f.rotOK
}

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

type collector struct {
	mu      sync.Mutex
	samples []protocol.MotionSample
}

func (c *collector) Send(s protocol.MotionSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func TestSampleZeroFillsMissingVectors(t *testing.T) {
	src := &fakeSource{accel: protocol.Vec3{X: 1, Y: 2, Z: 3}, accelOK: true, rot: protocol.Vec3{X: 9, Y: 9, Z: 9}, rotOK: false}
	s := New(src, &collector{}, discardLogger())
	fixed := time.Unix(1700000000, 500_000_000)
	s.clock = func() time.Time { return fixed }

	got := s.Sample(context.Background())
	assert.Equal(t, protocol.Vec3{X: 1, Y: 2, Z: 3}, got.Accel)
	assert.Equal(t, protocol.Vec3{}, got.Rot)
	assert.InDelta(t, 1700000000.5, got.Timestamp, 1e-6)

	src.accelOK = false
	got = s.Sample(context.Background())
	assert.Equal(t, protocol.Vec3{}, got.Accel)
}

func TestStartDeliversAndStopIsSynchronous(t *testing.T) {
	src := &fakeSource{accelOK: true, rotOK: true}
	sink := &collector{}
	s := New(src, sink, discardLogger())

	require.NoError(t, s.Start(context.Background(), 200))
	assert.True(t, s.Running())
	require.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.True(t, src.closed.Load())
	assert.False(t, s.Running())
	after := sink.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, sink.count(), "no ticks after Stop returns")

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Start(context.Background(), 15), ErrStopped)
}

func TestTicksNeverOverlap(t *testing.T) {
	src := &fakeSource{accelOK: true, rotOK: true, readDelay: 15 * time.Millisecond}
	sink := &collector{}
	s := New(src, sink, discardLogger())

	require.NoError(t, s.Start(context.Background(), 500))
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, int32(1), src.maxInFlight.Load())
	assert.Less(t, sink.count(), 60, "slow reads must drop ticks")
}

func TestStartValidation(t *testing.T) {
	s := New(&fakeSource{}, &collector{}, discardLogger())
	assert.Error(t, s.Start(context.Background(), 0))
	require.NoError(t, s.Start(context.Background(), 10))
	assert.ErrorIs(t, s.Start(context.Background(), 10), ErrRunning)
	require.NoError(t, s.Stop())
}

func TestStopReportsCloseError(t *testing.T) {
	src := &fakeSource{closeErr: errors.New("bus busy")}
	s := New(src, &collector{}, discardLogger())
	assert.Error(t, s.Stop())
	assert.True(t, src.closed.Load())
}

func TestParentCancellationEndsLoop(t *testing.T) {
	src := &fakeSource{accelOK: true, rotOK: true}
	sink := &collector{}
	s := New(src, sink, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, 200))
	require.Eventually(t, func() bool { return sink.count() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, s.Stop())
}
