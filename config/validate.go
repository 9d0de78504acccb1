package config

import (
	"strings"

	"go.uber.org/multierr"

	"github.com/mastercactapus/pickplace/fault"
)

func invalid(format string, args ...interface{}) error {
	return fault.Errorf(fault.Configuration, format, args...)
}

func validDirection(s string) bool {
	switch strings.ToLower(s) {
	case "", "negative", "positive":
		return true
	}
	return false
}

func (a StepAxis) validate(name string) (err error) {
	if len(a.Lines) == 0 {
		err = multierr.Append(err, invalid("hardware.%s: no step lines", name))
	}
	if a.StepsPerRev <= 0 || a.Microstep <= 0 || a.Pitch <= 0 {
		err = multierr.Append(err, invalid("hardware.%s: steps_per_rev, microstep and pitch must be positive", name))
	}
	if !validDirection(a.HomeDirection) {
		err = multierr.Append(err, invalid("hardware.%s: home_direction %q", name, a.HomeDirection))
	}
	return err
}

// Validate checks the configuration, returning every problem found.
func (c Config) Validate() (err error) {
	h := c.Hardware
	switch h.Backend {
	case BackendGPIO, BackendSim, BackendGrbl:
	default:
		err = multierr.Append(err, invalid("hardware.backend: unknown backend %q", h.Backend))
	}

	err = multierr.Append(err, h.X.validate("x"))
	err = multierr.Append(err, h.Y.validate("y"))
	if h.Z.StepsPerRev <= 0 || h.Z.MMPerRev <= 0 {
		err = multierr.Append(err, invalid("hardware.z: steps_per_rev and mm_per_rev must be positive"))
	}
	if !validDirection(h.Z.HomeDirection) {
		err = multierr.Append(err, invalid("hardware.z: home_direction %q", h.Z.HomeDirection))
	}

	switch h.Servo.Kind {
	case "pwm":
		if h.Servo.MaxPulse <= h.Servo.MinPulse {
			err = multierr.Append(err, invalid("hardware.servo: max_pulse must exceed min_pulse"))
		}
	case "bus":
		if h.Servo.Port == "" {
			err = multierr.Append(err, invalid("hardware.servo: bus servo needs a port"))
		}
	default:
		err = multierr.Append(err, invalid("hardware.servo.kind: %q", h.Servo.Kind))
	}
	switch h.Pump.Kind {
	case "hbridge", "relay":
	default:
		err = multierr.Append(err, invalid("hardware.pump.kind: %q", h.Pump.Kind))
	}
	if h.Sensors.Poll <= 0 {
		err = multierr.Append(err, invalid("hardware.sensors.poll must be positive"))
	}

	m := c.Motion
	if m.Floor <= 0 || m.Floor > m.Base {
		err = multierr.Append(err, invalid("motion: need 0 < floor <= base, got floor=%s base=%s", m.Floor.D(), m.Base.D()))
	}
	if m.Clearance < 0 || m.BackoffXY < 0 || m.BackoffZ < 0 {
		err = multierr.Append(err, invalid("motion: clearance and backoff must not be negative"))
	}

	if c.Network.Timeout <= 0 {
		err = multierr.Append(err, invalid("network.timeout must be positive"))
	}
	if c.Workspace.Cell <= 0 {
		err = multierr.Append(err, invalid("workspace.cell must be positive"))
	}
	if c.Workspace.Width < 0 || c.Workspace.Height < 0 {
		err = multierr.Append(err, invalid("workspace: width and height must not be negative"))
	}
	if c.Executor.PickZ > c.Executor.SafeZ || c.Executor.PlaceZ > c.Executor.SafeZ {
		err = multierr.Append(err, invalid("executor: pick_z and place_z must be below safe_z"))
	}
	return err
}
