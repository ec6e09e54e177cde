package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-gesture/internal/bus"
	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
)

// AudioSink receives synthesized audio for playback.
type AudioSink interface {
	PlayChunk(chunk protocol.AudioChunk) error
}

// BusSink publishes audio chunks on the bus for a player to pick up.
type BusSink struct {
	bus *bus.Client
}

func NewBusSink(client *bus.Client) *BusSink { return &BusSink{bus: client} }

func (b *BusSink) PlayChunk(chunk protocol.AudioChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return b.bus.Publish(protocol.SubjectTTSAudio, data)
}

// readoutQueue bounds pending readouts; extra requests are dropped.
const readoutQueue = 8

// Readout speaks gesture labels and sentences on a single worker. Failures
// are logged and never reach the caller.
type Readout struct {
	cfg    config.TTSConfig
	synth  Synthesizer
	sink   AudioSink
	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewReadout accepts a nil sink, in which case audio is discarded.
func NewReadout(parent context.Context, cfg config.TTSConfig, synth Synthesizer, sink AudioSink, log *slog.Logger) *Readout {
	ctx, cancel := context.WithCancel(parent)
	return &Readout{
		cfg:    cfg,
		synth:  synth,
		sink:   sink,
		queue:  make(chan string, readoutQueue),
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "tts-readout")),
	}
}

func (r *Readout) Start() {
	if !r.cfg.Enabled {
		return
	}
	r.wg.Add(1)
	go r.run()
}

func (r *Readout) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Readout) Healthy() bool { return !r.cfg.Enabled || r.ctx.Err() == nil }

// SpeakGesture queues a gesture label if gesture readout is enabled.
func (r *Readout) SpeakGesture(label string) bool {
	if !r.cfg.ReadGestures {
		return false
	}
	return r.enqueue(label)
}

// SpeakSentence queues a generated sentence if sentence readout is enabled.
func (r *Readout) SpeakSentence(text string) bool {
	if !r.cfg.ReadSentences {
		return false
	}
	return r.enqueue(text)
}

func (r *Readout) enqueue(text string) bool {
	if !r.cfg.Enabled || text == "" || r.ctx.Err() != nil {
		return false
	}
	select {
	case r.queue <- text:
		return true
	default:
		r.logger.Debug("readout queue full, dropping", slog.String("text", text))
		return false
	}
}

func (r *Readout) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case text := <-r.queue:
			r.speak(text)
		}
	}
}

func (r *Readout) speak(text string) {
	ctx, cancel := context.WithTimeout(r.ctx, 45*time.Second)
	defer cancel()

	readoutID := uuid.NewString()
	chunks, errs := r.synth.Synthesize(ctx, SynthRequest{ReadoutID: readoutID, Text: text, Voice: r.cfg.Voice})
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				break
			}
			r.play(text, chunk)
		case err, ok := <-errs:
			if ok && err != nil {
				r.logger.Warn("tts synthesis error", slogError(err))
			}
			errs = nil
		case <-ctx.Done():
			r.logger.Warn("tts synthesis cancelled", slogError(ctx.Err()))
			return
		}
		if chunks == nil && errs == nil {
			return
		}
	}
}

func (r *Readout) play(text string, chunk SynthChunk) {
	if r.sink == nil {
		r.logger.Debug("no audio sink, discarding chunk", slog.Int("sequence", chunk.Sequence))
		return
	}
	err := r.sink.PlayChunk(protocol.AudioChunk{
		ReadoutID:  chunk.ReadoutID,
		Text:       text,
		Sequence:   chunk.Sequence,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	})
	if err != nil {
		r.logger.Warn("failed to play tts chunk", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
