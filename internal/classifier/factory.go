package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/config"
)

// New builds the adapter for the configured backend. The returned closer
// releases backend resources and is never nil.
func New(ctx context.Context, cfg config.ClassifierConfig, log *slog.Logger) (*Adapter, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	var (
		model  Model
		closer = noop
	)
	switch cfg.Mode {
	case "centroid", "":
		m, err := NewCentroidModel(cfg.Centroids, cfg.Sharpness)
		if err != nil {
			return nil, noop, err
		}
		model = m
	case "exec":
		m, err := NewExecModel(cfg.Command)
		if err != nil {
			return nil, noop, err
		}
		model = m
	case "http":
		model = NewHTTPModel(cfg.Endpoint, nil)
	case "wasm":
		m, err := NewWasmModel(ctx, cfg.Module, cfg.Entrypoint, log)
		if err != nil {
			return nil, noop, err
		}
		model = m
		closer = m.Close
	default:
		return nil, noop, fmt.Errorf("unsupported classifier mode %q", cfg.Mode)
	}
	log.Info("classifier ready", slog.String("mode", cfg.Mode), slog.Int("labels", len(cfg.Labels)))
	return NewAdapter(model, cfg.Labels, time.Duration(cfg.TimeoutMS)*time.Millisecond), closer, nil
}
