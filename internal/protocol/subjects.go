package protocol

import "time"

const (
	SubjectMotionPrefix   = "gesture.motion"
	SubjectPresencePrefix = "gesture.presence"
	SubjectTTSAudio       = "gesture.tts.audio"
	TopicMotionPrefix     = "gesture/motion"
)

func MotionSubject(pairingID string) string {
	return SubjectMotionPrefix + "." + pairingID
}

func MotionTopic(pairingID string) string {
	return TopicMotionPrefix + "/" + pairingID
}

func PresenceSubject(role, nodeID string) string {
	return SubjectPresencePrefix + "." + role + "." + nodeID
}

// Heartbeat is published by every node on its presence subject.
type Heartbeat struct {
	NodeID    string    `json:"node_id"`
	Role      string    `json:"role"`
	PairingID string    `json:"pairing_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioChunk carries synthesized PCM for a readout.
type AudioChunk struct {
	ReadoutID  string `json:"readout_id"`
	Text       string `json:"text"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}
