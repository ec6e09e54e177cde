package recording

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrEmptyRecording = errors.New("recording has no rows")

// Recorder combines the accumulator, the label selection and a sink. It is
// owned by the pipeline goroutine.
type Recorder struct {
	acc    *Accumulator
	labels *Labels
	sink   Sink
	key    string
	clock  func() time.Time
	// lastSave is the stamp of the previous successful save.
	lastSave time.Time
}

func NewRecorder(labels *Labels, sink Sink, objectKey string) *Recorder {
	if objectKey == "" {
		objectKey = "sensor_data"
	}
	return &Recorder{
		acc:    NewAccumulator(),
		labels: labels,
		sink:   sink,
		key:    objectKey,
		clock:  time.Now,
	}
}

// Record appends the raw wire row under the current label.
func (r *Recorder) Record(raw string) {
	r.acc.AppendRaw(raw, r.labels.Current())
}

func (r *Recorder) SetLabel(label string) error { return r.labels.Set(label) }

func (r *Recorder) Label() string { return r.labels.Current() }

func (r *Recorder) Labels() []string { return r.labels.All() }

func (r *Recorder) Rows() int { return r.acc.Rows() }

func (r *Recorder) Export() string { return r.acc.Export() }

// Save hands the export to the sink and resets on success. On failure the
// buffer is kept so the caller can retry.
func (r *Recorder) Save(ctx context.Context) (string, error) {
	if r.acc.Rows() == 0 {
		return "", ErrEmptyRecording
	}
	if r.sink == nil {
		return "", errors.New("no recording sink configured")
	}
	at := r.clock()
	if !at.After(r.lastSave) {
		at = r.lastSave.Add(time.Nanosecond)
	}
	name := ObjectName(at, r.key)
	if err := r.sink.Put(ctx, name, []byte(r.acc.Export())); err != nil {
		return "", fmt.Errorf("store recording %s: %w", name, err)
	}
	r.lastSave = at
	r.acc.Reset()
	return name, nil
}

// Trash discards the accumulated rows.
func (r *Recorder) Trash() { r.acc.Reset() }
