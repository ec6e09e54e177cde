package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-gesture/internal/config"
)

// SynthRequest is one phrase to speak: a gesture label or a sentence.
type SynthRequest struct {
	ReadoutID string
	Text      string
	Voice     string
}

// SynthChunk carries PCM for one readout. The last chunk has Final set.
type SynthChunk struct {
	ReadoutID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer streams audio for a request. Both channels are closed when
// synthesis ends; at most one error is sent.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// NewSynthesizer builds the synthesizer selected by cfg.Mode.
func NewSynthesizer(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockSynth(cfg.SampleRate, cfg.Channels, cfg.ChunkDurationMS), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
