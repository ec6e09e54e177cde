package tts

import (
	"context"
	"time"
)

// mockSynth emits silent PCM sized to the text, split into fixed duration
// chunks. Useful for exercising the readout path without an engine.
type mockSynth struct {
	sampleRate int
	channels   int
	chunk      time.Duration
}

// msPerRune approximates speaking rate for the mock.
const msPerRune = 60

func NewMockSynth(sampleRate, channels, chunkMS int) Synthesizer {
	if chunkMS <= 0 {
		chunkMS = 400
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels, chunk: time.Duration(chunkMS) * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		total := time.Duration(len([]rune(req.Text))*msPerRune) * time.Millisecond
		if total < m.chunk {
			total = m.chunk
		}
		bytesPerChunk := int(m.chunk.Seconds()*float64(m.sampleRate)) * m.channels * 2
		sequence := 0
		for sent := time.Duration(0); sent < total; sent += m.chunk {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(5 * time.Millisecond):
			}
			chunks <- SynthChunk{
				ReadoutID:  req.ReadoutID,
				Sequence:   sequence,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        make([]byte, bytesPerChunk),
				Final:      sent+m.chunk >= total,
			}
			sequence++
		}
	}()
	return chunks, errs
}
