package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-gesture/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Result is delivered for every request that was not superseded.
type Result struct {
	Fingerprint string
	Text        string
	Err         error
	Latency     time.Duration
}

// Service runs generation off the caller's goroutine. Only the most recent
// request matters: submitting a new one cancels the one in flight, and a
// superseded request never reports back.
type Service struct {
	cfg       config.LLMConfig
	generator Generator
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
	tracer    trace.Tracer

	mu       sync.Mutex
	seq      uint64
	inflight context.CancelFunc
	closed   bool

	requests metric.Int64Counter
	failures metric.Int64Counter
}

func NewService(parent context.Context, cfg config.LLMConfig, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:       cfg,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "llm-service")),
		tracer:    otel.Tracer("github.com/loqalabs/loqa-gesture/llm"),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-gesture/llm")
	var err error
	if s.requests, err = meter.Int64Counter("gesture_generation_requests_total", metric.WithDescription("Sentence generation requests dispatched")); err != nil {
		s.logger.Warn("failed to create counter", slogError(err))
	}
	if s.failures, err = meter.Int64Counter("gesture_generation_failures_total", metric.WithDescription("Sentence generation requests that failed")); err != nil {
		s.logger.Warn("failed to create counter", slogError(err))
	}
	return s
}

func (s *Service) Enabled() bool { return s.cfg.Enabled && s.generator != nil }

// Submit starts generation for req and calls done with the outcome unless the
// request is superseded or the service is closed first.
func (s *Service) Submit(req Request, done func(Result)) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.inflight != nil {
		s.inflight()
	}
	s.seq++
	seq := s.seq
	timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	s.inflight = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	go func() {
		defer s.wg.Done()
		defer cancel()

		ctx, span := s.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
			attribute.String("llm.mode", s.cfg.Mode),
			attribute.String("llm.fingerprint", req.Fingerprint),
			attribute.String("trace.id", req.TraceID),
		))
		defer span.End()
		if s.requests != nil {
			s.requests.Add(ctx, 1)
		}

		start := time.Now()
		var sb strings.Builder
		err := s.generator.Generate(ctx, req, func(chunk Chunk) error {
			sb.WriteString(chunk.Content)
			return nil
		})
		res := Result{
			Fingerprint: req.Fingerprint,
			Text:        strings.TrimSpace(sb.String()),
			Err:         err,
			Latency:     time.Since(start),
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		s.mu.Lock()
		current := seq == s.seq && !s.closed
		if seq == s.seq {
			s.inflight = nil
		}
		s.mu.Unlock()
		if !current {
			s.logger.Debug("discarding superseded generation", slog.String("trace_id", req.TraceID))
			return
		}

		if err != nil {
			if s.failures != nil {
				s.failures.Add(context.Background(), 1)
			}
			s.logger.Warn("llm generation failed", slogError(err), slog.String("trace_id", req.TraceID))
		} else {
			s.logger.Info("llm generation complete", slog.Duration("latency", res.Latency), slog.String("trace_id", req.TraceID))
		}
		done(res)
	}()
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cfg.Enabled || !s.closed
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
