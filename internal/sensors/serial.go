package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"go.bug.st/serial"
)

var errBadLine = errors.New("malformed sensor line")

// SerialSource reads a BLE-UART or USB bridge that prints one reading per
// line. Accepted forms:
//
//	ax,ay,az,gx,gy,gz
//	A,ax,ay,az
//	G,gx,gy,gz
//
// A vector older than StaleAfter reads as missing.
type SerialSource struct {
	port  io.ReadCloser
	log   *slog.Logger
	stale time.Duration
	clock func() time.Time

	mu       sync.Mutex
	accel    protocol.Vec3
	accelAt  time.Time
	rot      protocol.Vec3
	rotAt    time.Time
	closed   bool
	readDone chan struct{}
}

func NewSerialSource(cfg config.SensorConfig, log *slog.Logger) (*SerialSource, error) {
	port, err := serial.Open(cfg.SerialPort, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.SerialPort, err)
	}
	log.Info("serial sensor opened", slog.String("port", cfg.SerialPort), slog.Int("baud", cfg.BaudRate))
	return newLineSource(port, time.Duration(cfg.StaleAfter)*time.Millisecond, time.Now, log), nil
}

func newLineSource(port io.ReadCloser, stale time.Duration, clock func() time.Time, log *slog.Logger) *SerialSource {
	s := &SerialSource{
		port:     port,
		log:      log,
		stale:    stale,
		clock:    clock,
		readDone: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *SerialSource) readLoop() {
	defer close(s.readDone)
	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.apply(line); err != nil {
			s.log.Debug("skipping sensor line", slog.String("line", line), slog.String("error", err.Error()))
		}
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if err := scanner.Err(); err != nil && !closed {
		s.log.Warn("serial read stopped", slog.String("error", err.Error()))
	}
}

func (s *SerialSource) apply(line string) error {
	fields := strings.Split(line, ",")
	now := s.clock()
	switch {
	case len(fields) == 6:
		v, err := parseFloats(fields)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.accel, s.accelAt = protocol.Vec3{X: v[0], Y: v[1], Z: v[2]}, now
		s.rot, s.rotAt = protocol.Vec3{X: v[3], Y: v[4], Z: v[5]}, now
		s.mu.Unlock()
	case len(fields) == 4 && (fields[0] == "A" || fields[0] == "G"):
		v, err := parseFloats(fields[1:])
		if err != nil {
			return err
		}
		vec := protocol.Vec3{X: v[0], Y: v[1], Z: v[2]}
		s.mu.Lock()
		if fields[0] == "A" {
			s.accel, s.accelAt = vec, now
		} else {
			s.rot, s.rotAt = vec, now
		}
		s.mu.Unlock()
	default:
		return errBadLine
	}
	return nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadLine, err)
		}
		out[i] = v
	}
	return out, nil
}

func (s *SerialSource) fresh(at time.Time) bool {
	if at.IsZero() {
		return false
	}
	return s.stale <= 0 || s.clock().Sub(at) <= s.stale
}

func (s *SerialSource) ReadAccelerometer() (protocol.Vec3, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh(s.accelAt) {
		return protocol.Vec3{}, false
	}
	return s.accel, true
}

func (s *SerialSource) ReadRotationRate() (protocol.Vec3, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh(s.rotAt) {
		return protocol.Vec3{}, false
	}
	return s.rot, true
}

func (s *SerialSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	err := s.port.Close()
	<-s.readDone
	return err
}
