// Package axis drives one physical degree of freedom of the machine: a
// velocity-ramped pulse train with a limit-switch homing routine.
package axis

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/pin"
)

// ErrNoHomeSensor is returned by Home on an axis without a limit sensor.
var ErrNoHomeSensor = fault.New(fault.Configuration, "no home sensor configured")

// Direction selects which end of travel the limit sensor sits at.
type Direction int

const (
	// Negative homes toward the motion-negative end (the default).
	Negative Direction = iota
	// Positive homes toward the motion-positive end.
	Positive
)

// State of the homing state machine.
type State int

const (
	Idle State = iota
	Seeking
	BackingOff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Seeking:
		return "seeking"
	case BackingOff:
		return "backing_off"
	}
	return "unknown"
}

// Config describes an axis.
type Config struct {
	Name string

	// StepsPerUnit converts the axis unit (millimeters, or revolutions for the
	// Z lead screw) to whole steps.
	StepsPerUnit float64

	Profile Profile

	// HomeDelay is the fixed half-period used while seeking the sensor.
	HomeDelay     time.Duration
	HomeDirection Direction

	// Sleeper defaults to the wall clock.
	Sleeper Sleeper
}

// Axis is one actuated degree of freedom.
type Axis struct {
	cfg  Config
	drv  Driver
	home pin.Input

	mx    sync.Mutex
	state State
	pos   float64
	homed bool
}

// New validates cfg and returns an axis. home may be nil.
func New(drv Driver, home pin.Input, cfg Config) (*Axis, error) {
	if drv == nil {
		return nil, fault.Errorf(fault.Configuration, "axis %s: no driver", cfg.Name)
	}
	if cfg.StepsPerUnit <= 0 {
		return nil, fault.Errorf(fault.Configuration, "axis %s: steps per unit must be positive", cfg.Name)
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, errors.Wrapf(err, "axis %s", cfg.Name)
	}
	if cfg.HomeDelay <= 0 {
		cfg.HomeDelay = 2 * time.Millisecond
	}
	if cfg.HomeDelay < cfg.Profile.Floor {
		return nil, fault.Errorf(fault.Configuration, "axis %s: home delay %s below ramp floor %s", cfg.Name, cfg.HomeDelay, cfg.Profile.Floor)
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = clock.New()
	}
	return &Axis{cfg: cfg, drv: drv, home: home}, nil
}

// Name returns the configured axis name.
func (a *Axis) Name() string { return a.cfg.Name }

// State returns the homing state.
func (a *Axis) State() State {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.state
}

func (a *Axis) setState(s State) {
	a.mx.Lock()
	a.state = s
	a.mx.Unlock()
}

// Position returns the logical position in axis units. ok is false until the
// axis has been homed in this session.
func (a *Axis) Position() (pos float64, ok bool) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.pos, a.homed
}

// Steps converts a distance to whole steps, truncating toward zero.
func (a *Axis) Steps(distance float64) int {
	return int(math.Abs(distance) * a.cfg.StepsPerUnit)
}

// Home seeks the limit sensor at the fixed home cadence, then backs off by
// backoff units. On success the logical position is zero plus the backoff.
//
// There is no travel limit: a disconnected or inverted sensor seeks forever.
// The only way out is cancelling ctx.
func (a *Axis) Home(ctx context.Context, backoff float64) error {
	if a.home == nil {
		return errors.Wrapf(ErrNoHomeSensor, "axis %s", a.cfg.Name)
	}
	defer a.setState(Idle)

	a.mx.Lock()
	a.homed = false
	a.mx.Unlock()

	a.setState(Seeking)
	toward := a.cfg.HomeDirection == Positive
	if err := a.drv.SetDirection(toward); err != nil {
		return errors.Wrapf(err, "axis %s", a.cfg.Name)
	}
	for {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		hit, err := a.home.Read()
		if err != nil {
			return fault.Wrap(fault.TransientIO, err, "axis "+a.cfg.Name+": read home sensor")
		}
		if hit {
			break
		}
		if err := a.drv.Step(a.cfg.Sleeper, a.cfg.HomeDelay); err != nil {
			return errors.Wrapf(err, "axis %s", a.cfg.Name)
		}
	}

	a.setState(BackingOff)
	a.mx.Lock()
	a.pos = 0
	a.mx.Unlock()
	if err := a.MoveSteps(ctx, a.Steps(backoff), !toward); err != nil {
		return err
	}

	a.mx.Lock()
	a.homed = true
	a.mx.Unlock()
	return nil
}

// MoveRelative moves distance units; the sign selects the direction.
func (a *Axis) MoveRelative(ctx context.Context, distance float64) error {
	return a.MoveSteps(ctx, a.Steps(distance), distance > 0)
}

// MoveSteps emits count ramped steps. Cancellation is honored between steps,
// never inside one.
func (a *Axis) MoveSteps(ctx context.Context, count int, forward bool) error {
	if count < 0 {
		return errors.Errorf("axis %s: negative step count %d", a.cfg.Name, count)
	}
	if count == 0 {
		return nil
	}
	if err := a.drv.SetDirection(forward); err != nil {
		return errors.Wrapf(err, "axis %s", a.cfg.Name)
	}

	done := 0
	defer func() {
		sign := 1.0
		if !forward {
			sign = -1
		}
		a.mx.Lock()
		a.pos += sign * float64(done) / a.cfg.StepsPerUnit
		a.mx.Unlock()
	}()

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		if err := a.drv.Step(a.cfg.Sleeper, a.cfg.Profile.Delay(i, count)); err != nil {
			return errors.Wrapf(err, "axis %s", a.cfg.Name)
		}
		done++
	}
	return nil
}

// Release de-energizes the driver.
func (a *Axis) Release() error {
	return errors.Wrapf(a.drv.Release(), "axis %s", a.cfg.Name)
}
