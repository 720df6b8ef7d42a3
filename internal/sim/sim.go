// Package sim provides bench implementations of the flight collaborators.
// They stand in for the airframe-specific sensor, control and effector
// drivers so the service runs end to end on a desk.
package sim

import (
	"encoding/binary"
	"math"

	"fmu-service/internal/logger"
)

// Sensors produces a synthetic inertial frame per sync read. The frame is a
// frame counter followed by six little-endian float32 channels.
type Sensors struct {
	frame uint32
}

func NewSensors(l *logger.Logger) *Sensors {
	l.WithTag("SimSensors").Debugf("Synthetic sensor suite active")
	return &Sensors{}
}

func (s *Sensors) ReadSync() ([]byte, error) {
	s.frame++

	buf := make([]byte, 4+6*4)
	binary.LittleEndian.PutUint32(buf[0:4], s.frame)
	for ch := 0; ch < 6; ch++ {
		phase := float64(s.frame)/1000.0 + float64(ch)
		v := float32(math.Sin(phase))
		binary.LittleEndian.PutUint32(buf[4+ch*4:], math.Float32bits(v))
	}
	return buf, nil
}

func (s *Sensors) ReadAsync() {
	// Nothing polled on the bench.
}

// Control is a pass-through control law with a fixed number of levels.
type Control struct {
	levels int
}

func NewControl(l *logger.Logger, levels int) *Control {
	l.WithTag("SimControl").Debugf("Pass-through control law with %d levels", levels)
	return &Control{levels: levels}
}

func (c *Control) ActiveLevels() int {
	return c.levels
}

func (c *Control) Run(level int) error {
	return nil
}

// Effectors holds commanded values without driving hardware.
type Effectors struct {
	logger *logger.Logger
	values []float32
}

func NewEffectors(l *logger.Logger, channels int) *Effectors {
	return &Effectors{
		logger: l.WithTag("SimEffectors"),
		values: make([]float32, channels),
	}
}

func (e *Effectors) ComputeOutputs(throttleSafed bool) error {
	if throttleSafed {
		for i := range e.values {
			e.values[i] = 0
		}
	}
	return nil
}

func (e *Effectors) CommandEffectors() error {
	return nil
}

func (e *Effectors) SetCommands(values []float32, throttleSafed bool) error {
	e.logger.Debugf("Applying %d externally commanded channels", len(values))
	n := copy(e.values, values)
	if throttleSafed {
		for i := 0; i < n; i++ {
			e.values[i] = 0
		}
	}
	return nil
}

// Values returns the current effector values.
func (e *Effectors) Values() []float32 {
	out := make([]float32, len(e.values))
	copy(out, e.values)
	return out
}

// Config accepts any payload and remembers the latest one.
type Config struct {
	logger *logger.Logger
	latest []byte
}

func NewConfig(l *logger.Logger) *Config {
	return &Config{logger: l.WithTag("SimConfig")}
}

func (c *Config) Update(raw []byte) error {
	c.latest = append(c.latest[:0], raw...)
	c.logger.Infof("Applied configuration payload of %d bytes", len(raw))
	return nil
}
