package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	KindMotion   = "motion"
	KindKeyValue = "kv"
)

var ErrUnknownKind = errors.New("unknown envelope kind")

// Envelope is the only shape that crosses the link. It is decoded once at the
// receiving boundary into a typed Message.
type Envelope struct {
	Kind   string            `json:"kind"`
	Sample *MotionSample     `json:"sample,omitempty"`
	Row    string            `json:"row,omitempty"`
	Values map[string]string `json:"values,omitempty"`
	SentAt time.Time         `json:"sent_at"`
}

// Message is either a MotionMessage or a KeyValueMessage.
type Message interface {
	kind() string
}

type MotionMessage struct {
	Sample MotionSample
	// Row is the raw wire text as sent, appended verbatim to recordings.
	Row    string
	SentAt time.Time
}

func (MotionMessage) kind() string { return KindMotion }

type KeyValueMessage struct {
	Values map[string]string
	SentAt time.Time
}

func (KeyValueMessage) kind() string { return KindKeyValue }

func EncodeMotion(sample MotionSample, sentAt time.Time) ([]byte, error) {
	s := sample
	return json.Marshal(Envelope{
		Kind:   KindMotion,
		Sample: &s,
		Row:    sample.Row(),
		SentAt: sentAt.UTC(),
	})
}

func EncodeKeyValue(values map[string]string, sentAt time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		Kind:   KindKeyValue,
		Values: values,
		SentAt: sentAt.UTC(),
	})
}

// Decode validates a raw payload and returns its typed message.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Kind {
	case KindMotion:
		msg := MotionMessage{Row: env.Row, SentAt: env.SentAt}
		switch {
		case env.Sample != nil:
			msg.Sample = *env.Sample
			if msg.Row == "" {
				msg.Row = env.Sample.Row()
			}
		case env.Row != "":
			row, err := ParseRow(env.Row)
			if err != nil {
				return nil, err
			}
			msg.Sample = row.Sample
		default:
			return nil, fmt.Errorf("%w: motion envelope without sample", ErrMalformedRow)
		}
		return msg, nil
	case KindKeyValue:
		values := env.Values
		if values == nil {
			values = map[string]string{}
		}
		return KeyValueMessage{Values: values, SentAt: env.SentAt}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}
