package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CSVHeader is the first line of every exported recording.
const CSVHeader = "timestamp,xAccel,yAccel,zAccel,xRot,yRot,zRot,gesture"

var ErrMalformedRow = errors.New("malformed motion row")

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MotionSample is one sampler tick. Timestamp is seconds since epoch.
type MotionSample struct {
	Timestamp float64 `json:"timestamp"`
	Accel     Vec3    `json:"accel"`
	Rot       Vec3    `json:"rot"`
}

// Features returns the sample in feature order xAccel,yAccel,zAccel,xRot,yRot,zRot.
func (s MotionSample) Features() [6]float64 {
	return [6]float64{s.Accel.X, s.Accel.Y, s.Accel.Z, s.Rot.X, s.Rot.Y, s.Rot.Z}
}

// Row renders the sample as an unlabelled wire row.
func (s MotionSample) Row() string {
	f := s.Features()
	var b strings.Builder
	b.WriteString(formatFloat(s.Timestamp))
	for _, v := range f {
		b.WriteByte(',')
		b.WriteString(formatFloat(v))
	}
	return b.String()
}

// SampleRow is a received sample with the label assigned on the phone side.
type SampleRow struct {
	Sample MotionSample
	Label  string
}

// String renders the row in CSV export form without the trailing newline.
func (r SampleRow) String() string {
	return r.Sample.Row() + "," + r.Label
}

// ParseRow parses `timestamp,xAccel,yAccel,zAccel,xRot,yRot,zRot[,label]`.
func ParseRow(line string) (SampleRow, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 7 && len(fields) != 8 {
		return SampleRow{}, fmt.Errorf("%w: expected 7 or 8 fields, got %d", ErrMalformedRow, len(fields))
	}
	var values [7]float64
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return SampleRow{}, fmt.Errorf("%w: field %d: %v", ErrMalformedRow, i, err)
		}
		values[i] = v
	}
	row := SampleRow{
		Sample: MotionSample{
			Timestamp: values[0],
			Accel:     Vec3{X: values[1], Y: values[2], Z: values[3]},
			Rot:       Vec3{X: values[4], Y: values[5], Z: values[6]},
		},
	}
	if len(fields) == 8 {
		row.Label = strings.TrimSpace(fields[7])
	}
	return row, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
