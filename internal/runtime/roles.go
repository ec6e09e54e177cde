package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-gesture/internal/bus"
	"github.com/loqalabs/loqa-gesture/internal/classifier"
	"github.com/loqalabs/loqa-gesture/internal/eventstore"
	"github.com/loqalabs/loqa-gesture/internal/feed"
	"github.com/loqalabs/loqa-gesture/internal/llm"
	"github.com/loqalabs/loqa-gesture/internal/natsserver"
	"github.com/loqalabs/loqa-gesture/internal/pipeline"
	"github.com/loqalabs/loqa-gesture/internal/presence"
	"github.com/loqalabs/loqa-gesture/internal/recording"
	"github.com/loqalabs/loqa-gesture/internal/sampler"
	"github.com/loqalabs/loqa-gesture/internal/sensors"
	"github.com/loqalabs/loqa-gesture/internal/transport"
	"github.com/loqalabs/loqa-gesture/internal/tts"
)

// assemble builds and starts every component the role needs. On error the
// components started so far are left registered with onClose.
func (r *Runtime) assemble(ctx context.Context) error {
	switch r.cfg.Node.Role {
	case "watch":
		link, err := r.openLink(ctx)
		if err != nil {
			return err
		}
		return r.startWatch(ctx, link)
	case "phone":
		link, err := r.openLink(ctx)
		if err != nil {
			return err
		}
		return r.startPhone(ctx, link)
	case "standalone":
		watchEnd, phoneEnd := transport.NewLoopbackPair()
		if err := r.startPhone(ctx, phoneEnd); err != nil {
			_ = watchEnd.Close()
			return err
		}
		return r.startWatch(ctx, watchEnd)
	default:
		return fmt.Errorf("unsupported node role %q", r.cfg.Node.Role)
	}
}

// openLink returns the link selected by transport.link for a single-role
// process, starting the bus and presence tracker when NATS is used.
func (r *Runtime) openLink(ctx context.Context) (transport.Link, error) {
	switch r.cfg.Transport.Link {
	case "nats":
		if err := r.connectBus(ctx); err != nil {
			return nil, err
		}
		tracker := presence.New(r.cfg.Node, r.cfg.Transport.PairingID, r.bus, r.logger)
		if err := tracker.Start(ctx); err != nil {
			return nil, fmt.Errorf("start presence: %w", err)
		}
		r.presence = tracker
		r.onClose(func(context.Context) error {
			tracker.Close()
			return nil
		})
		return transport.NewNATSLink(r.bus, r.cfg.Transport.PairingID, tracker, r.logger), nil
	case "mqtt":
		return transport.NewMQTTLink(r.cfg.MQTT, r.cfg.Transport.PairingID, r.cfg.Node.ID, r.logger), nil
	case "loopback":
		return nil, errors.New("transport.link=loopback is only available in the standalone role")
	default:
		return nil, fmt.Errorf("unsupported transport link %q", r.cfg.Transport.Link)
	}
}

func (r *Runtime) connectBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
		r.onClose(func(context.Context) error {
			embedded.Shutdown()
			return nil
		})
	}

	client, err := bus.Connect(ctx, busCfg, fmt.Sprintf("%s-%s", r.cfg.RuntimeName, r.cfg.Node.ID), r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	r.onClose(func(context.Context) error {
		client.Close()
		return nil
	})
	return nil
}

func (r *Runtime) newTransport(ctx context.Context, link transport.Link) *transport.Transport {
	t := transport.New(ctx, link, r.cfg.Transport, r.logger)
	t.OnStateChange(func(s transport.State) {
		r.logger.Info("link state changed", slog.String("state", s.String()))
	})
	r.onClose(func(context.Context) error { return t.Close() })
	return t
}

func (r *Runtime) startWatch(ctx context.Context, link transport.Link) error {
	source, err := sensors.New(r.cfg.Sensor, r.cfg.Classifier.Centroids, r.logger)
	if err != nil {
		_ = link.Close()
		return fmt.Errorf("open sensor: %w", err)
	}
	r.sender = r.newTransport(ctx, link)
	r.sender.Start()

	s := sampler.New(source, r.sender, r.logger)
	if err := s.Start(ctx, r.cfg.Sampler.RateHz); err != nil {
		_ = source.Close()
		return fmt.Errorf("start sampler: %w", err)
	}
	r.sampler = s
	r.onClose(func(context.Context) error { return s.Stop() })
	return nil
}

func (r *Runtime) startPhone(ctx context.Context, link transport.Link) error {
	r.sessionID = uuid.NewString()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		_ = link.Close()
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store
	r.onClose(func(context.Context) error { return store.Close() })
	if err := store.AppendSession(ctx, r.sessionID, r.cfg.Node.ID, r.cfg.Transport.PairingID); err != nil && !errors.Is(err, eventstore.ErrPersistenceDisabled) {
		r.logger.Warn("failed to record session", slogError(err))
	}
	r.startPruner(ctx)

	sink, err := r.recordingSink()
	if err != nil {
		_ = link.Close()
		return err
	}
	labels, err := recording.NewLabels(r.cfg.Recording.Labels, r.cfg.Recording.DefaultLabel)
	if err != nil {
		_ = link.Close()
		return fmt.Errorf("recording labels: %w", err)
	}
	recorder := recording.NewRecorder(labels, sink, r.cfg.Storage.ObjectKey)

	adapter, closeClassifier, err := classifier.New(ctx, r.cfg.Classifier, r.logger)
	if err != nil {
		_ = link.Close()
		return fmt.Errorf("classifier: %w", err)
	}
	r.onClose(closeClassifier)

	generator, err := llm.NewGenerator(r.cfg.LLM)
	if err != nil {
		_ = link.Close()
		return fmt.Errorf("llm: %w", err)
	}
	r.llm = llm.NewService(ctx, r.cfg.LLM, generator, r.logger)
	r.onClose(func(context.Context) error {
		r.llm.Close()
		return nil
	})

	if err := r.startReadout(ctx); err != nil {
		_ = link.Close()
		return err
	}

	deps := pipeline.Deps{
		Classifier: adapter,
		Recorder:   recorder,
		Generator:  r.llm,
		Journal:    store,
		SessionID:  r.sessionID,
	}
	if r.readout != nil {
		deps.Speaker = r.readout
	}
	p, err := pipeline.New(ctx, r.cfg.Pipeline, r.cfg.LLM, deps, r.logger)
	if err != nil {
		_ = link.Close()
		return fmt.Errorf("pipeline: %w", err)
	}
	r.pipeline = p
	p.Start()
	r.onClose(func(context.Context) error {
		p.Stop()
		return nil
	})

	r.receiver = r.newTransport(ctx, link)
	r.receiver.OnReceive(p.Handle)
	r.receiver.Start()

	r.feed = feed.NewHub(p, r.logger)
	r.onClose(func(context.Context) error {
		r.feed.Close()
		return nil
	})

	r.logger.Info("phone pipeline ready",
		slog.String("session_id", r.sessionID),
		slog.String("storage", r.cfg.Storage.Mode),
		slog.Bool("llm", r.llm.Enabled()),
		slog.Bool("tts", r.cfg.TTS.Enabled))
	return nil
}

func (r *Runtime) recordingSink() (recording.Sink, error) {
	switch r.cfg.Storage.Mode {
	case "event_store", "":
		return r.store, nil
	case "directory":
		sink, err := recording.NewDirSink(r.cfg.Storage.Directory, r.logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported storage mode %q", r.cfg.Storage.Mode)
	}
}

func (r *Runtime) startReadout(ctx context.Context) error {
	if !r.cfg.TTS.Enabled {
		return nil
	}
	synth, err := tts.NewSynthesizer(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	var sink tts.AudioSink
	if r.bus != nil {
		sink = tts.NewBusSink(r.bus)
	}
	r.readout = tts.NewReadout(ctx, r.cfg.TTS, synth, sink, r.logger)
	r.readout.Start()
	r.onClose(func(context.Context) error {
		r.readout.Close()
		return nil
	})
	return nil
}

func (r *Runtime) startPruner(ctx context.Context) {
	if r.cfg.EventStore.RetentionMode == "ephemeral" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
					r.logger.Warn("event store prune failed", slogError(err))
				}
			}
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
