package sensors

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/protocol"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// Full-scale sensitivity at range 0 (±2g, ±250°/s). Each range step halves it.
const (
	accelLSBPerG   = 16384.0
	gyroLSBPerDegS = 131.0
)

type MPU9250Source struct {
	imu        *mpu9250.MPU9250
	log        *slog.Logger
	accelScale float64
	gyroScale  float64
}

func NewMPU9250Source(cfg config.SensorConfig, log *slog.Logger) (*MPU9250Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("CS pin %q not found", cfg.CSPin)
	}
	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("SPI transport (%s): %w", cfg.SPIDevice, err)
	}
	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250 device: %w", err)
	}
	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250 init: %w", err)
	}
	if err := imu.SetAccelRange(byte(cfg.AccelRange)); err != nil {
		return nil, fmt.Errorf("set accel range: %w", err)
	}
	if err := imu.SetGyroRange(byte(cfg.GyroRange)); err != nil {
		return nil, fmt.Errorf("set gyro range: %w", err)
	}
	accelScale, gyroScale := Scales(cfg.AccelRange, cfg.GyroRange)
	log.Info("mpu9250 ready",
		slog.String("spi", cfg.SPIDevice),
		slog.Int("accel_range", cfg.AccelRange),
		slog.Int("gyro_range", cfg.GyroRange))
	return &MPU9250Source{imu: imu, log: log, accelScale: accelScale, gyroScale: gyroScale}, nil
}

// Scales returns the multipliers turning raw counts into g and rad/s for
// the given range selectors.
func Scales(accelRange, gyroRange int) (float64, float64) {
	accel := float64(int(1)<<accelRange) / accelLSBPerG
	gyro := float64(int(1)<<gyroRange) / gyroLSBPerDegS * math.Pi / 180
	return accel, gyro
}

func (s *MPU9250Source) ReadAccelerometer() (protocol.Vec3, bool) {
	x, y, z, err := readAxes(s.imu.GetAccelerationX, s.imu.GetAccelerationY, s.imu.GetAccelerationZ)
	if err != nil {
		s.log.Debug("accelerometer read failed", slog.String("error", err.Error()))
		return protocol.Vec3{}, false
	}
	return scale(x, y, z, s.accelScale), true
}

func (s *MPU9250Source) ReadRotationRate() (protocol.Vec3, bool) {
	x, y, z, err := readAxes(s.imu.GetRotationX, s.imu.GetRotationY, s.imu.GetRotationZ)
	if err != nil {
		s.log.Debug("gyroscope read failed", slog.String("error", err.Error()))
		return protocol.Vec3{}, false
	}
	return scale(x, y, z, s.gyroScale), true
}

func (s *MPU9250Source) Close() error { return nil }

func readAxes(fx, fy, fz func() (int16, error)) (int16, int16, int16, error) {
	x, err := fx()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("x: %w", err)
	}
	y, err := fy()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("y: %w", err)
	}
	z, err := fz()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("z: %w", err)
	}
	return x, y, z, nil
}

func scale(x, y, z int16, k float64) protocol.Vec3 {
	return protocol.Vec3{X: float64(x) * k, Y: float64(y) * k, Z: float64(z) * k}
}
