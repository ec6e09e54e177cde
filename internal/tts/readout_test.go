package tts

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
)

type recordingSink struct {
	mu     sync.Mutex
	chunks []protocol.AudioChunk
}

func (s *recordingSink) PlayChunk(c protocol.AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
	return nil
}

func (s *recordingSink) finals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.chunks {
		if c.Final {
			out = append(out, c.Text)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enabledConfig() config.TTSConfig {
	cfg := config.Default().TTS
	cfg.Enabled = true
	return cfg
}

func TestMockSynthChunks(t *testing.T) {
	synth := NewMockSynth(16000, 1, 100)
	chunks, errs := synth.Synthesize(context.Background(), SynthRequest{ReadoutID: "r1", Text: "hello"})
	var got []SynthChunk
	for c := range chunks {
		got = append(got, c)
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks for 300ms of speech, got %d", len(got))
	}
	if !got[len(got)-1].Final || got[0].Final {
		t.Fatalf("only the last chunk should be final")
	}
	if len(got[0].PCM) != 3200 {
		t.Fatalf("expected 3200 bytes per 100ms chunk, got %d", len(got[0].PCM))
	}
}

func TestReadoutSpeaksInOrder(t *testing.T) {
	cfg := enabledConfig()
	sink := &recordingSink{}
	r := NewReadout(context.Background(), cfg, NewMockSynth(cfg.SampleRate, cfg.Channels, cfg.ChunkDurationMS), sink, testLogger())
	r.Start()
	defer r.Close()

	if !r.SpeakGesture("clench") {
		t.Fatal("gesture readout rejected")
	}
	if !r.SpeakSentence("Hello world.") {
		t.Fatal("sentence readout rejected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sink.finals()) < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	finals := sink.finals()
	if len(finals) != 2 || finals[0] != "clench" || finals[1] != "Hello world." {
		t.Fatalf("unexpected readouts %v", finals)
	}
}

func TestReadoutDisabled(t *testing.T) {
	cfg := config.Default().TTS
	r := NewReadout(context.Background(), cfg, NewMockSynth(22050, 1, 400), nil, testLogger())
	r.Start()
	defer r.Close()
	if r.SpeakGesture("hello") {
		t.Fatal("disabled readout accepted a request")
	}
}

func TestReadoutRespectsToggles(t *testing.T) {
	cfg := enabledConfig()
	cfg.ReadGestures = false
	r := NewReadout(context.Background(), cfg, NewMockSynth(22050, 1, 400), nil, testLogger())
	defer r.Close()
	if r.SpeakGesture("hello") {
		t.Fatal("gesture readout should be off")
	}
	if !r.SpeakSentence("Hello.") {
		t.Fatal("sentence readout should be on")
	}
}

func TestNewSynthesizer(t *testing.T) {
	cfg := enabledConfig()
	if _, err := NewSynthesizer(cfg); err != nil {
		t.Fatalf("mock synth: %v", err)
	}
	cfg.Mode = "exec"
	cfg.Command = ""
	if _, err := NewSynthesizer(cfg); err == nil {
		t.Fatal("expected error for empty exec command")
	}
	cfg.Mode = "cloud"
	if _, err := NewSynthesizer(cfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
