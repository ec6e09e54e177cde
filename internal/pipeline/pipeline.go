// Package pipeline is the phone's single serial processing context. One
// goroutine owns the averager, classifier adapter, debouncer, history,
// sentence builder, response tracker and recorder; everything else talks to
// it through channels.
package pipeline

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/classifier"
	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/eventstore"
	"github.com/loqalabs/loqa-gesture/internal/features"
	"github.com/loqalabs/loqa-gesture/internal/gesture"
	"github.com/loqalabs/loqa-gesture/internal/llm"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"github.com/loqalabs/loqa-gesture/internal/recording"
	"github.com/loqalabs/loqa-gesture/internal/sentence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrStopped = errors.New("pipeline stopped")

type Classifier interface {
	Classify(ctx context.Context, fv features.FeatureVector) (classifier.Result, error)
}

// Generator is satisfied by llm.Service.
type Generator interface {
	Enabled() bool
	Submit(req llm.Request, done func(llm.Result))
}

// Speaker is satisfied by tts.Readout.
type Speaker interface {
	SpeakGesture(label string) bool
	SpeakSentence(text string) bool
}

// Journal is satisfied by eventstore.Store.
type Journal interface {
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// Deps are the collaborators handed to New. Classifier and Recorder are
// required; the rest may be nil.
type Deps struct {
	Classifier Classifier
	Recorder   *recording.Recorder
	Generator  Generator
	Speaker    Speaker
	Journal    Journal
	SessionID  string
}

type Pipeline struct {
	cfg    config.PipelineConfig
	llmCfg config.LLMConfig
	deps   Deps
	log    *slog.Logger

	averager  *features.RollingAverager
	debouncer *gesture.Debouncer
	history   *gesture.History
	builder   sentence.Builder
	tracker   *sentence.Tracker

	inbox    chan protocol.Message
	results  chan llm.Result
	commands chan command
	updates  *fanout

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	classifications metric.Int64Counter
	classifyErrors  metric.Int64Counter
	gestures        metric.Int64Counter
	inboxDrops      metric.Int64Counter
	updateDrops     metric.Int64Counter
}

func New(parent context.Context, cfg config.PipelineConfig, llmCfg config.LLMConfig, deps Deps, log *slog.Logger) (*Pipeline, error) {
	if deps.Classifier == nil {
		return nil, errors.New("pipeline requires a classifier")
	}
	if deps.Recorder == nil {
		return nil, errors.New("pipeline requires a recorder")
	}
	averager, err := features.NewRollingAverager(cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("averager: %w", err)
	}
	history, err := gesture.NewHistory(cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 256
	}

	ctx, cancel := context.WithCancel(parent)
	p := &Pipeline{
		cfg:       cfg,
		llmCfg:    llmCfg,
		deps:      deps,
		log:       log.With(slog.String("component", "pipeline")),
		averager:  averager,
		debouncer: gesture.NewDebouncer(cfg.ConfidenceThreshold),
		history:   history,
		builder:   sentence.NewBuilder(),
		tracker:   sentence.NewTracker(),
		inbox:     make(chan protocol.Message, inboxSize),
		results:   make(chan llm.Result, 4),
		commands:  make(chan command),
		updates:   newFanout(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if deps.Speaker != nil {
		p.debouncer.OnEvent(func(evt gesture.Event) {
			deps.Speaker.SpeakGesture(evt.Label)
		})
	}
	p.initMetrics()
	return p, nil
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-gesture/pipeline")
	var err error
	if p.classifications, err = meter.Int64Counter("gesture_classifications_total", metric.WithDescription("Feature vectors classified")); err != nil {
		p.log.Warn("failed to create counter", slogError(err))
	}
	if p.classifyErrors, err = meter.Int64Counter("gesture_classifier_failures_total", metric.WithDescription("Classification calls that failed")); err != nil {
		p.log.Warn("failed to create counter", slogError(err))
	}
	if p.gestures, err = meter.Int64Counter("gesture_events_total", metric.WithDescription("Debounced gestures emitted")); err != nil {
		p.log.Warn("failed to create counter", slogError(err))
	}
	if p.inboxDrops, err = meter.Int64Counter("gesture_inbox_dropped_total", metric.WithDescription("Received messages dropped because the pipeline was saturated")); err != nil {
		p.log.Warn("failed to create counter", slogError(err))
	}
	if p.updateDrops, err = meter.Int64Counter("gesture_updates_dropped_total", metric.WithDescription("Updates not delivered to slow subscribers")); err != nil {
		p.log.Warn("failed to create counter", slogError(err))
	}
}

func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Stop ends the loop and closes every update subscription. A generation
// that finishes afterwards is discarded.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.updates.close()
	})
}

// Handle enqueues a received message without blocking. It is the
// transport's receive handler; when the inbox is full the message is dropped.
func (p *Pipeline) Handle(msg protocol.Message) {
	if p.ctx.Err() != nil {
		return
	}
	select {
	case p.inbox <- msg:
	default:
		p.log.Debug("pipeline inbox full, dropping message")
		if p.inboxDrops != nil {
			p.inboxDrops.Add(p.ctx, 1)
		}
	}
}

// Subscribe returns a channel of updates and a func that ends the
// subscription. A subscriber that falls behind by more than buffer updates
// misses the excess.
func (p *Pipeline) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = p.cfg.UpdateBuffer
	}
	return p.updates.subscribe(buffer)
}

// Updates subscribes for the pipeline's lifetime.
func (p *Pipeline) Updates() <-chan Update {
	ch, _ := p.Subscribe(0)
	return ch
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	p.log.Info("pipeline started",
		slog.Int("window_size", p.cfg.WindowSize),
		slog.Int("history_size", p.cfg.HistorySize),
		slog.Float64("confidence_threshold", p.cfg.ConfidenceThreshold))
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg := <-p.inbox:
			p.handleMessage(msg)
		case res := <-p.results:
			p.handleResult(res)
		case cmd := <-p.commands:
			cmd.reply <- p.apply(cmd)
		}
	}
}

func (p *Pipeline) handleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.MotionMessage:
		p.handleMotion(m)
	case protocol.KeyValueMessage:
		p.handleValues(m)
	default:
		p.log.Debug("ignoring message", slog.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (p *Pipeline) handleMotion(m protocol.MotionMessage) {
	row := m.Row
	if row == "" {
		row = m.Sample.Row()
	}
	p.deps.Recorder.Record(row)

	p.averager.Push(m.Sample)
	if !p.averager.Full() && !p.cfg.ClassifyDuringWarmup {
		return
	}
	fv, ok := p.averager.Average()
	if !ok {
		return
	}

	res, err := p.deps.Classifier.Classify(p.ctx, fv)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.log.Warn("classification failed", slogError(err))
		if p.classifyErrors != nil {
			p.classifyErrors.Add(p.ctx, 1)
		}
		return
	}
	if p.classifications != nil {
		p.classifications.Add(p.ctx, 1)
	}
	p.publish(DistributionUpdate{Result: res})

	evt, ok := p.debouncer.Observe(res)
	if !ok {
		return
	}
	p.onGesture(evt)
}

func (p *Pipeline) onGesture(evt gesture.Event) {
	p.log.Info("gesture", slog.String("label", evt.Label), slog.Float64("confidence", evt.Confidence))
	if p.gestures != nil {
		p.gestures.Add(p.ctx, 1, metric.WithAttributes(attribute.String("label", evt.Label)))
	}
	p.publish(GestureEvent{Event: evt})
	p.journal(eventstore.EventGesture, map[string]any{
		"label":        evt.Label,
		"confidence":   evt.Confidence,
		"distribution": evt.Distribution,
	})

	p.history.Append(evt.Distribution)
	req := p.builder.Build(p.history.Snapshot())
	if p.deps.Generator == nil || !p.deps.Generator.Enabled() {
		return
	}
	if !p.tracker.MarkDispatched(req) {
		return
	}
	genReq := llm.RequestFromConfig(p.llmCfg, req.System, req.Prompt)
	genReq.Fingerprint = req.Fingerprint
	p.deps.Generator.Submit(genReq, p.deliver)
}

// deliver runs on the generator's goroutine.
func (p *Pipeline) deliver(res llm.Result) {
	select {
	case p.results <- res:
	case <-p.ctx.Done():
	}
}

func (p *Pipeline) handleResult(res llm.Result) {
	if res.Err != nil {
		p.log.Warn("sentence generation failed, keeping previous response", slogError(res.Err))
		return
	}
	if !p.tracker.Observe(res.Text) {
		return
	}
	text := p.tracker.Latest()
	p.publish(SentenceUpdate{
		Text:        text,
		Fingerprint: res.Fingerprint,
		LatencyMS:   float64(res.Latency) / float64(time.Millisecond),
	})
	if p.deps.Speaker != nil {
		p.deps.Speaker.SpeakSentence(text)
	}
	p.journal(eventstore.EventSentence, map[string]any{
		"text":        text,
		"fingerprint": res.Fingerprint,
	})
}

// controlKeyOrder fixes the order remote control keys are applied in: the
// label is switched before a command acts on the recording.
var controlKeyOrder = map[string]int{"label": 0, "command": 1}

func controlKeys(values map[string]string) []string {
	keys := slices.Collect(maps.Keys(values))
	slices.SortFunc(keys, func(a, b string) int {
		ra, oka := controlKeyOrder[a]
		rb, okb := controlKeyOrder[b]
		switch {
		case oka && okb:
			return cmp.Compare(ra, rb)
		case oka:
			return -1
		case okb:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
	return keys
}

func (p *Pipeline) handleValues(m protocol.KeyValueMessage) {
	for _, key := range controlKeys(m.Values) {
		value := m.Values[key]
		var err error
		switch key {
		case "label":
			err = p.setLabel(value)
		case "command":
			switch value {
			case "save":
				_, err = p.save()
			case "trash":
				p.trash()
			case "reset":
				p.reset()
			default:
				err = fmt.Errorf("unknown command %q", value)
			}
		default:
			p.log.Debug("ignoring key/value entry", slog.String("key", key))
		}
		if err != nil {
			p.log.Warn("remote control failed", slog.String("key", key), slog.String("value", value), slogError(err))
		}
	}
}

func (p *Pipeline) publish(u Update) {
	if dropped := p.updates.publish(u); dropped > 0 && p.updateDrops != nil {
		p.updateDrops.Add(p.ctx, int64(dropped), metric.WithAttributes(attribute.String("kind", u.Kind())))
	}
}

func (p *Pipeline) journal(eventType string, payload map[string]any) {
	if p.deps.Journal == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("failed to encode journal payload", slogError(err))
		return
	}
	err = p.deps.Journal.AppendEvent(p.ctx, eventstore.Event{
		SessionID: p.deps.SessionID,
		Type:      eventType,
		Payload:   body,
	})
	if err != nil {
		p.log.Warn("failed to append journal event", slog.String("type", eventType), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
