// Package sampler drives the sensor source at a fixed rate and hands every
// reading to the transport.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"github.com/loqalabs/loqa-gesture/internal/sensors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrRunning = errors.New("sampler already running")
	ErrStopped = errors.New("sampler stopped")
)

// Sink receives samples. transport.Transport satisfies it; Send must not
// block.
type Sink interface {
	Send(sample protocol.MotionSample)
}

type Sampler struct {
	source sensors.Source
	sink   Sink
	log    *slog.Logger
	clock  func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	ticks   metric.Int64Counter
	missing metric.Int64Counter
}

func New(source sensors.Source, sink Sink, log *slog.Logger) *Sampler {
	s := &Sampler{
		source: source,
		sink:   sink,
		log:    log.With(slog.String("component", "sampler")),
		clock:  time.Now,
	}
	meter := otel.Meter("github.com/loqalabs/loqa-gesture/sampler")
	var err error
	if s.ticks, err = meter.Int64Counter("gesture_sampler_ticks_total", metric.WithDescription("Sensor samples taken")); err != nil {
		s.log.Warn("failed to create counter", slogError(err))
	}
	if s.missing, err = meter.Int64Counter("gesture_sensor_missing_total", metric.WithDescription("Sensor vectors zero-filled because no data was available")); err != nil {
		s.log.Warn("failed to create counter", slogError(err))
	}
	return s
}

// Start begins sampling at hz. Ticks that fire while a read is still
// running are dropped, so reads never overlap.
func (s *Sampler) Start(ctx context.Context, hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("sample rate must be positive, got %v", hz)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.done != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	interval := time.Duration(float64(time.Second) / hz)
	s.log.Info("sampler started", slog.Float64("hz", hz), slog.Duration("interval", interval))
	go s.run(ctx, interval, s.done)
	return nil
}

func (s *Sampler) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a tick may race with cancellation
			if ctx.Err() != nil {
				return
			}
			s.sink.Send(s.Sample(ctx))
		}
	}
}

// Sample reads both vectors once, zero-filling any that are unavailable.
func (s *Sampler) Sample(ctx context.Context) protocol.MotionSample {
	accel, ok := s.source.ReadAccelerometer()
	if !ok {
		accel = protocol.Vec3{}
		s.countMissing(ctx, "accelerometer")
	}
	rot, ok := s.source.ReadRotationRate()
	if !ok {
		rot = protocol.Vec3{}
		s.countMissing(ctx, "rotation_rate")
	}
	if s.ticks != nil {
		s.ticks.Add(ctx, 1)
	}
	now := s.clock()
	return protocol.MotionSample{
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		Accel:     accel,
		Rot:       rot,
	}
}

func (s *Sampler) countMissing(ctx context.Context, vector string) {
	s.log.Debug("sensor reported no data", slog.String("vector", vector))
	if s.missing != nil {
		s.missing.Add(ctx, 1, metric.WithAttributes(attribute.String("vector", vector)))
	}
}

// Stop halts sampling and releases the sensor. When it returns no further
// tick runs. It is safe to call more than once.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := s.source.Close(); err != nil {
		return fmt.Errorf("close sensor: %w", err)
	}
	s.log.Info("sampler stopped")
	return nil
}

// Running reports whether the tick loop is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil && !s.stopped
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
