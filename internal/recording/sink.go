package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var ErrRecordingExists = errors.New("recording already exists")

// Sink persists a finished recording under name.
type Sink interface {
	Put(ctx context.Context, name string, body []byte) error
}

// ObjectName returns `<unix-seconds>_<key>.csv`. Sub-second precision is
// kept as a decimal fraction without trailing zeros.
func ObjectName(at time.Time, key string) string {
	stamp := strconv.FormatInt(at.Unix(), 10)
	if ns := at.Nanosecond(); ns != 0 {
		frac := strings.TrimRight(fmt.Sprintf("%09d", ns), "0")
		stamp += "." + frac
	}
	return stamp + "_" + key + ".csv"
}

// DirSink writes each recording to its own file in a directory.
type DirSink struct {
	dir string
	log *slog.Logger
}

func NewDirSink(dir string, log *slog.Logger) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &DirSink{dir: dir, log: log.With(slog.String("component", "recording-dir"))}, nil
}

func (s *DirSink) Put(ctx context.Context, name string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid recording name %q", name)
	}
	final := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, ".recording-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close recording: %w", err)
	}
	// Link fails when final exists, so an earlier recording is never replaced.
	err = os.Link(tmp.Name(), final)
	os.Remove(tmp.Name())
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrRecordingExists, name)
	}
	if err != nil {
		return fmt.Errorf("link recording: %w", err)
	}
	s.log.Info("recording stored", slog.String("name", name), slog.Int("bytes", len(body)))
	return nil
}
