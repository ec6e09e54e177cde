package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/bus"
	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/eventstore"
	"github.com/loqalabs/loqa-gesture/internal/feed"
	"github.com/loqalabs/loqa-gesture/internal/llm"
	"github.com/loqalabs/loqa-gesture/internal/pipeline"
	"github.com/loqalabs/loqa-gesture/internal/presence"
	"github.com/loqalabs/loqa-gesture/internal/sampler"
	"github.com/loqalabs/loqa-gesture/internal/transport"
	"github.com/loqalabs/loqa-gesture/internal/tts"
)

const pruneInterval = time.Hour

// Runtime assembles the components for the configured node role and serves
// the HTTP surface until its context ends.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	metrics       http.Handler
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	// closers run in reverse order on shutdown.
	closers []func(context.Context) error

	sessionID string
	bus       *bus.Client
	presence  *presence.Tracker
	sender    *transport.Transport
	receiver  *transport.Transport
	sampler   *sampler.Sampler
	pipeline  *pipeline.Pipeline
	llm       *llm.Service
	readout   *tts.Readout
	store     *eventstore.Store
	feed      *feed.Hub
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metricsHandler

	if err := r.assemble(ctx); err != nil {
		cancel()
		r.shutdown()
		return err
	}

	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = &http.Server{
			Addr:              addr,
			Handler:           r.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.httpServer, "http")
	}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && r.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.metrics)
		r.metricsServer = &http.Server{
			Addr:              bind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("role", r.cfg.Node.Role),
		slog.String("node_id", r.cfg.Node.ID),
		slog.String("link", r.cfg.Transport.Link))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.closeComponents(shutdownCtx)

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) onClose(fn func(context.Context) error) {
	r.closers = append(r.closers, fn)
}

func (r *Runtime) closeComponents(ctx context.Context) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			r.logger.Warn("component shutdown error", slog.String("error", err.Error()))
		}
	}
	r.closers = nil
}

// healthy reports per-component health for /readyz.
func (r *Runtime) healthy() map[string]bool {
	checks := map[string]bool{}
	if r.bus != nil {
		checks["bus"] = r.bus.Healthy()
	}
	if r.llm != nil {
		checks["llm"] = r.llm.Healthy()
	}
	if r.readout != nil {
		checks["tts"] = r.readout.Healthy()
	}
	if r.store != nil {
		checks["event_store"] = r.store.Ensure() == nil
	}
	return checks
}
