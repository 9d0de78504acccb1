package movement

import (
	"context"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/actuator"
	"github.com/mastercactapus/pickplace/axis"
	"github.com/mastercactapus/pickplace/config"
	"github.com/mastercactapus/pickplace/feedback"
	"github.com/mastercactapus/pickplace/pin"
)

// Env carries the runtime dependencies shared by every actuator.
type Env struct {
	Clock   clock.Clock
	Sleeper axis.Sleeper
	Logger  *zap.SugaredLogger
}

// Machine is a wired System plus the sensors the feedback monitor watches.
type Machine struct {
	*System
	Sensors feedback.Sensors
}

func direction(s string) axis.Direction {
	if strings.EqualFold(s, "positive") {
		return axis.Positive
	}
	return axis.Negative
}

// switchInput opens a contact to ground so that Read reports true while it
// is active. A normally closed contact opens when active, letting the pull-up
// take the line high.
func switchInput(reg *pin.Registry, n int, nc bool, owner string) (pin.Input, error) {
	if n < 0 {
		return nil, nil
	}
	in, err := reg.Shared(n, pin.PullUp, owner)
	if err != nil {
		return nil, err
	}
	if nc {
		return in, nil
	}
	return pin.Inverted(in), nil
}

func buildStepAxis(reg *pin.Registry, name string, a config.StepAxis, m config.Motion, env Env) (*axis.Axis, pin.Input, error) {
	owner := name + " axis"
	lines := make([]axis.Line, 0, len(a.Lines))
	for _, l := range a.Lines {
		outs, err := reg.Outputs(owner, l.Dir, l.Step)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, axis.Line{Dir: outs[0], Step: outs[1]})
	}
	drv, err := axis.NewStepDir(a.Reverse, lines...)
	if err != nil {
		return nil, nil, err
	}
	home, err := switchInput(reg, a.Home, a.NormallyClosed, owner)
	if err != nil {
		return nil, nil, err
	}
	ax, err := axis.New(drv, home, axis.Config{
		Name:          name,
		StepsPerUnit:  a.StepsPerMM(),
		Profile:       axis.Profile{Base: m.Base.D(), Floor: m.Floor.D()},
		HomeDelay:     m.HomeDelay.D(),
		HomeDirection: direction(a.HomeDirection),
		Sleeper:       env.Sleeper,
	})
	return ax, home, err
}

func buildZ(reg *pin.Registry, z config.CoilAxis, env Env) (*axis.Axis, pin.Input, error) {
	outs, err := reg.Outputs("Z axis", z.Coils[:]...)
	if err != nil {
		return nil, nil, err
	}
	home, err := switchInput(reg, z.Home, z.NormallyClosed, "Z axis")
	if err != nil {
		return nil, nil, err
	}
	// the 28BYJ-48 has no usable acceleration range; run it flat
	flat := axis.Profile{Base: z.StepDelay.D(), Floor: z.StepDelay.D()}
	ax, err := axis.New(axis.NewUnipolar([4]pin.Output{outs[0], outs[1], outs[2], outs[3]}), home, axis.Config{
		Name:          "Z",
		StepsPerUnit:  float64(z.StepsPerRev),
		Profile:       flat,
		HomeDelay:     z.StepDelay.D(),
		HomeDirection: direction(z.HomeDirection),
		Sleeper:       env.Sleeper,
	})
	return ax, home, err
}

func buildRotator(ctx context.Context, reg *pin.Registry, s config.Servo, env Env) (actuator.Rotator, error) {
	if s.Kind == "bus" {
		return actuator.OpenBusServo(ctx, actuator.BusServoConfig{
			Port:     s.Port,
			BaudRate: s.BaudRate,
			ID:       s.ID,
			Settle:   s.Settle.D(),
		})
	}
	p, err := reg.PWM(s.Pin, s.FreqHz, "servo")
	if err != nil {
		return nil, err
	}
	return actuator.NewPWMServo(p, actuator.ServoConfig{
		FreqHz:   s.FreqHz,
		MinPulse: s.MinPulse.D(),
		MaxPulse: s.MaxPulse.D(),
		Settle:   s.Settle.D(),
		Clock:    env.Clock,
	})
}

func buildPump(reg *pin.Registry, p config.Pump) (actuator.Suction, error) {
	if p.Kind == "relay" {
		out, err := reg.Output(p.Relay, "pump")
		if err != nil {
			return nil, err
		}
		return actuator.NewRelay(out, p.ActiveLow)
	}
	outs, err := reg.Outputs("pump", p.Stby, p.In1, p.In2)
	if err != nil {
		return nil, err
	}
	pwm, err := reg.PWM(p.PWM, p.FreqHz, "pump")
	if err != nil {
		return nil, err
	}
	return actuator.NewHBridge(outs[0], outs[1], outs[2], pwm)
}

// Build claims every line the configuration names from reg and assembles the
// machine. On success the System owns reg and closes it on Shutdown; on
// failure reg is closed before returning.
func Build(ctx context.Context, reg *pin.Registry, cfg config.Config, env Env) (m *Machine, err error) {
	defer func() {
		if err != nil {
			err = multierr.Append(err, reg.Close())
		}
	}()
	if env.Clock == nil {
		env.Clock = clock.New()
	}
	if env.Sleeper == nil {
		env.Sleeper = env.Clock
	}
	hw := cfg.Hardware

	x, homeX, err := buildStepAxis(reg, "X", hw.X, cfg.Motion, env)
	if err != nil {
		return nil, errors.Wrap(err, "X axis")
	}
	y, homeY, err := buildStepAxis(reg, "Y", hw.Y, cfg.Motion, env)
	if err != nil {
		return nil, errors.Wrap(err, "Y axis")
	}
	z, homeZ, err := buildZ(reg, hw.Z, env)
	if err != nil {
		return nil, errors.Wrap(err, "Z axis")
	}
	rot, err := buildRotator(ctx, reg, hw.Servo, env)
	if err != nil {
		return nil, errors.Wrap(err, "servo")
	}
	pump, err := buildPump(reg, hw.Pump)
	if err != nil {
		return nil, errors.Wrap(err, "pump")
	}
	vac, err := switchInput(reg, hw.Sensors.VacuumLost, hw.Sensors.NormallyClosed, "vacuum sensor")
	if err != nil {
		return nil, errors.Wrap(err, "vacuum sensor")
	}
	stop, err := switchInput(reg, hw.Sensors.EmergencyStop, hw.Sensors.NormallyClosed, "emergency stop")
	if err != nil {
		return nil, errors.Wrap(err, "emergency stop")
	}

	sys, err := New(x, y, z, rot, pump, reg, Config{
		Clearance:  cfg.Motion.Clearance,
		PickDwell:  cfg.Motion.PickDwell.D(),
		PlaceDwell: cfg.Motion.PlaceDwell.D(),
		BackoffX:   cfg.Motion.BackoffXY,
		BackoffY:   cfg.Motion.BackoffXY,
		BackoffZ:   cfg.Motion.BackoffZ,
		Clock:      env.Clock,
		Logger:     env.Logger,
	})
	if err != nil {
		return nil, err
	}

	homes := make(map[string]pin.Input)
	for name, in := range map[string]pin.Input{"X": homeX, "Y": homeY, "Z": homeZ} {
		if in != nil {
			homes[name] = in
		}
	}
	return &Machine{
		System: sys,
		Sensors: feedback.Sensors{
			Home:          homes,
			VacuumLost:    vac,
			EmergencyStop: stop,
		},
	}, nil
}
