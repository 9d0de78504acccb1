// Package actuator holds the auxiliary actuators: the tool rotation servo and
// the suction pump.
package actuator

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/pin"
)

// Rotator turns the tool to an absolute angle.
type Rotator interface {
	Rotate(ctx context.Context, deg float64) error
	Release() error
}

// NormalizeAngle maps deg into [0,360).
func NormalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Wait blocks for d on clk or until ctx is done, returning the cancel cause.
func Wait(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

// ServoConfig maps angles to pulse widths for a hobby servo.
type ServoConfig struct {
	FreqHz int

	// MinPulse is the pulse width at 0° and MaxPulse at 180°; the mapping is
	// linear and continues past 180° for servos with a wider range.
	MinPulse time.Duration
	MaxPulse time.Duration

	// Settle is how long Rotate waits for the horn to arrive.
	Settle time.Duration
	Clock  clock.Clock
}

// DefaultServoConfig matches an SG-90: 0.5ms at 0°, 2.5ms at 180°, 50Hz.
func DefaultServoConfig() ServoConfig {
	return ServoConfig{
		FreqHz:   50,
		MinPulse: 500 * time.Microsecond,
		MaxPulse: 2500 * time.Microsecond,
		Settle:   800 * time.Millisecond,
	}
}

// PWMServo is a rotation actuator driven by a PWM line.
type PWMServo struct {
	pwm pin.PWM
	cfg ServoConfig
}

// NewPWMServo parks the servo at 90° like the bench firmware does.
func NewPWMServo(p pin.PWM, cfg ServoConfig) (*PWMServo, error) {
	if cfg.FreqHz <= 0 || cfg.MinPulse <= 0 || cfg.MaxPulse <= cfg.MinPulse {
		return nil, fault.New(fault.Configuration, "servo: invalid pulse configuration")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	s := &PWMServo{pwm: p, cfg: cfg}
	if err := p.SetDuty(s.Duty(90)); err != nil {
		return nil, errors.Wrap(err, "servo")
	}
	return s, nil
}

// Pulse returns the pulse width for deg.
func (s *PWMServo) Pulse(deg float64) time.Duration {
	span := float64(s.cfg.MaxPulse - s.cfg.MinPulse)
	return s.cfg.MinPulse + time.Duration(NormalizeAngle(deg)/180*span)
}

// Duty returns the duty cycle fraction for deg.
func (s *PWMServo) Duty(deg float64) float64 {
	period := time.Second / time.Duration(s.cfg.FreqHz)
	return float64(s.Pulse(deg)) / float64(period)
}

func (s *PWMServo) Rotate(ctx context.Context, deg float64) error {
	if err := s.pwm.SetDuty(s.Duty(deg)); err != nil {
		return errors.Wrap(err, "servo")
	}
	return Wait(ctx, s.cfg.Clock, s.cfg.Settle)
}

func (s *PWMServo) Release() error {
	return errors.Wrap(s.pwm.SetDuty(0), "servo")
}
