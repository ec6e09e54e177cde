// Package sensors provides motion sources for the watch role: a synthetic
// mock, an MPU9250 over SPI and a line-oriented serial bridge.
package sensors

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
)

// Source yields the latest accelerometer (g) and rotation rate (rad/s)
// vectors. ok=false means the sensor had no reading for that vector.
type Source interface {
	ReadAccelerometer() (protocol.Vec3, bool)
	ReadRotationRate() (protocol.Vec3, bool)
	Close() error
}

// New builds the source selected by cfg.Mode. centroids seed the mock's
// scripted gestures.
func New(cfg config.SensorConfig, centroids map[string][]float64, log *slog.Logger) (Source, error) {
	log = log.With(slog.String("component", "sensor"), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case "", "mock":
		return NewMockSource(ParseScript(cfg.MockScript), centroids)
	case "mpu9250":
		return NewMPU9250Source(cfg, log)
	case "serial":
		return NewSerialSource(cfg, log)
	default:
		return nil, fmt.Errorf("unknown sensor mode %q", cfg.Mode)
	}
}
