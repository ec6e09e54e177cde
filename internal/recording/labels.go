package recording

import (
	"errors"
	"fmt"
)

var ErrUnknownLabel = errors.New("unknown recording label")

// Labels is the closed set of names a recording row may carry plus the one
// currently selected.
type Labels struct {
	allowed []string
	current string
}

func NewLabels(allowed []string, initial string) (*Labels, error) {
	if len(allowed) == 0 {
		return nil, errors.New("at least one recording label is required")
	}
	l := &Labels{allowed: append([]string(nil), allowed...)}
	if err := l.Set(initial); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Labels) Set(label string) error {
	for _, a := range l.allowed {
		if a == label {
			l.current = label
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownLabel, label)
}

func (l *Labels) Current() string { return l.current }

func (l *Labels) All() []string { return append([]string(nil), l.allowed...) }
