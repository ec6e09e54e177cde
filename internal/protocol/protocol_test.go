package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRow(t *testing.T) {
	s := MotionSample{
		Timestamp: 1700000000.25,
		Accel:     Vec3{X: 0.5, Y: -1, Z: 0},
		Rot:       Vec3{X: 0, Y: 0.125, Z: 3},
	}
	assert.Equal(t, "1700000000.25,0.5,-1,0,0,0.125,3", s.Row())
	assert.Equal(t, "1700000000.25,0.5,-1,0,0,0.125,3,clench", SampleRow{Sample: s, Label: "clench"}.String())
}

func TestParseRow(t *testing.T) {
	t.Run("labelled", func(t *testing.T) {
		row, err := ParseRow("12.5,1,2,3,4,5,6,hello\n")
		require.NoError(t, err)
		assert.Equal(t, "hello", row.Label)
		assert.Equal(t, [6]float64{1, 2, 3, 4, 5, 6}, row.Sample.Features())
		assert.Equal(t, 12.5, row.Sample.Timestamp)
	})
	t.Run("unlabelled", func(t *testing.T) {
		row, err := ParseRow("1,0,0,0,0,0,0")
		require.NoError(t, err)
		assert.Empty(t, row.Label)
	})
	t.Run("too few fields", func(t *testing.T) {
		_, err := ParseRow("1,2,3")
		assert.ErrorIs(t, err, ErrMalformedRow)
	})
	t.Run("not a number", func(t *testing.T) {
		_, err := ParseRow("1,x,0,0,0,0,0")
		assert.ErrorIs(t, err, ErrMalformedRow)
	})
}

func TestDecodeMotion(t *testing.T) {
	s := MotionSample{Timestamp: 42, Accel: Vec3{X: 1}, Rot: Vec3{Z: -2}}
	data, err := EncodeMotion(s, time.Unix(42, 0))
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	motion, ok := msg.(MotionMessage)
	require.True(t, ok, "expected MotionMessage, got %T", msg)
	assert.Equal(t, s, motion.Sample)
	assert.Equal(t, s.Row(), motion.Row)
}

func TestDecodeMotionRowOnly(t *testing.T) {
	msg, err := Decode([]byte(`{"kind":"motion","row":"3,1,1,1,0,0,0"}`))
	require.NoError(t, err)
	motion := msg.(MotionMessage)
	assert.Equal(t, Vec3{X: 1, Y: 1, Z: 1}, motion.Sample.Accel)
	assert.Equal(t, "3,1,1,1,0,0,0", motion.Row)
}

func TestDecodeKeyValue(t *testing.T) {
	data, err := EncodeKeyValue(map[string]string{"label": "clench"}, time.Now())
	require.NoError(t, err)
	msg, err := Decode(data)
	require.NoError(t, err)
	kv, ok := msg.(KeyValueMessage)
	require.True(t, ok)
	assert.Equal(t, "clench", kv.Values["label"])
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"video"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode([]byte(`{"kind":"motion"}`))
	assert.ErrorIs(t, err, ErrMalformedRow)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "gesture.motion.wrist", MotionSubject("wrist"))
	assert.Equal(t, "gesture/motion/wrist", MotionTopic("wrist"))
	assert.Equal(t, "gesture.presence.watch.n1", PresenceSubject("watch", "n1"))
}
