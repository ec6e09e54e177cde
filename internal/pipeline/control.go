package pipeline

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-gesture/internal/eventstore"
)

type op int

const (
	opSetLabel op = iota
	opSave
	opTrash
	opReset
	opStatus
)

type command struct {
	op    op
	label string
	reply chan reply
}

type reply struct {
	name   string
	status Status
	err    error
}

// Status is a point-in-time view of the pipeline's state.
type Status struct {
	Label       string               `json:"label"`
	Labels      []string             `json:"labels"`
	Rows        int                  `json:"rows"`
	WindowFill  int                  `json:"window_fill"`
	LastGesture string               `json:"last_gesture"`
	Sentence    string               `json:"sentence"`
	History     []map[string]float64 `json:"history"`
}

// SetLabel selects the label stamped on subsequently recorded rows.
func (p *Pipeline) SetLabel(ctx context.Context, label string) error {
	r, err := p.do(ctx, command{op: opSetLabel, label: label})
	if err != nil {
		return err
	}
	return r.err
}

// Save hands the recording to the storage sink and returns the stored name.
// The buffer is kept when the sink fails.
func (p *Pipeline) Save(ctx context.Context) (string, error) {
	r, err := p.do(ctx, command{op: opSave})
	if err != nil {
		return "", err
	}
	return r.name, r.err
}

// Trash discards the recording buffer.
func (p *Pipeline) Trash(ctx context.Context) error {
	_, err := p.do(ctx, command{op: opTrash})
	return err
}

// Reset clears the averaging window, the debouncer and the word history.
func (p *Pipeline) Reset(ctx context.Context) error {
	_, err := p.do(ctx, command{op: opReset})
	return err
}

func (p *Pipeline) Status(ctx context.Context) (Status, error) {
	r, err := p.do(ctx, command{op: opStatus})
	if err != nil {
		return Status{}, err
	}
	return r.status, nil
}

func (p *Pipeline) do(ctx context.Context, cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)
	select {
	case p.commands <- cmd:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-p.ctx.Done():
		return reply{}, ErrStopped
	}
	select {
	case r := <-cmd.reply:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (p *Pipeline) apply(cmd command) reply {
	switch cmd.op {
	case opSetLabel:
		return reply{err: p.setLabel(cmd.label)}
	case opSave:
		name, err := p.save()
		return reply{name: name, err: err}
	case opTrash:
		p.trash()
	case opReset:
		p.reset()
	case opStatus:
		return reply{status: p.status()}
	}
	return reply{}
}

func (p *Pipeline) setLabel(label string) error {
	if err := p.deps.Recorder.SetLabel(label); err != nil {
		return err
	}
	p.log.Info("recording label changed", slog.String("label", label))
	p.publish(RecordingUpdate{Label: label, Rows: p.deps.Recorder.Rows()})
	p.journal(eventstore.EventLabelChanged, map[string]any{"label": label})
	return nil
}

func (p *Pipeline) save() (string, error) {
	rows := p.deps.Recorder.Rows()
	name, err := p.deps.Recorder.Save(p.ctx)
	if err != nil {
		p.log.Warn("recording save failed, buffer kept", slogError(err))
		return "", err
	}
	p.log.Info("recording saved", slog.String("name", name), slog.Int("rows", rows))
	p.publish(RecordingUpdate{Label: p.deps.Recorder.Label(), Rows: 0, Saved: name})
	p.journal(eventstore.EventRecordingSave, map[string]any{"name": name, "rows": rows})
	return name, nil
}

func (p *Pipeline) trash() {
	p.deps.Recorder.Trash()
	p.publish(RecordingUpdate{Label: p.deps.Recorder.Label()})
}

func (p *Pipeline) reset() {
	p.averager.Reset()
	p.debouncer.Reset()
	p.history.Reset()
	p.tracker.Reset()
}

func (p *Pipeline) status() Status {
	return Status{
		Label:       p.deps.Recorder.Label(),
		Labels:      p.deps.Recorder.Labels(),
		Rows:        p.deps.Recorder.Rows(),
		WindowFill:  p.averager.Len(),
		LastGesture: p.debouncer.Last(),
		Sentence:    p.tracker.Latest(),
		History:     p.history.Snapshot(),
	}
}
