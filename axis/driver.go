package axis

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mastercactapus/pickplace/pin"
)

// Sleeper blocks for a duration. clock.Clock satisfies it.
type Sleeper interface {
	Sleep(d time.Duration)
}

// Driver produces single steps on one physical degree of freedom.
type Driver interface {
	SetDirection(forward bool) error
	// Step emits one step whose timing is governed by delay.
	Step(s Sleeper, delay time.Duration) error
	// Release de-energizes every line of the driver.
	Release() error
}

// Line is one step/direction output pair of a driver such as an A4988.
type Line struct {
	Dir  pin.Output
	Step pin.Output
}

// StepDir drives one or more step/direction drivers with identical pulse
// trains and a single shared direction decision.
//
// With two lines it keeps a gantry's motors mechanically in step. This is open
// loop: a stalled motor is not detected and no error is raised. Independent
// encoders would be the place to add a consistency check.
type StepDir struct {
	lines   []Line
	reverse bool
}

// NewStepDir returns a driver pulsing every line together. reverse swaps the
// level written to the direction lines.
func NewStepDir(reverse bool, lines ...Line) (*StepDir, error) {
	if len(lines) == 0 {
		return nil, errors.New("step/dir driver needs at least one line")
	}
	return &StepDir{lines: lines, reverse: reverse}, nil
}

func (d *StepDir) SetDirection(forward bool) error {
	level := forward != d.reverse
	for _, l := range d.lines {
		if err := l.Dir.Set(level); err != nil {
			return errors.Wrap(err, "set direction")
		}
	}
	return nil
}

func (d *StepDir) setSteps(high bool) error {
	for _, l := range d.lines {
		if err := l.Step.Set(high); err != nil {
			return errors.Wrap(err, "step")
		}
	}
	return nil
}

func (d *StepDir) Step(s Sleeper, delay time.Duration) error {
	if err := d.setSteps(true); err != nil {
		return err
	}
	s.Sleep(delay)
	if err := d.setSteps(false); err != nil {
		return err
	}
	s.Sleep(delay)
	return nil
}

func (d *StepDir) Release() (err error) {
	for _, l := range d.lines {
		err = multierr.Append(err, l.Step.Set(false))
		err = multierr.Append(err, l.Dir.Set(false))
	}
	return err
}

// fullStep energizes one coil at a time.
var fullStep = [4][4]bool{
	{true, false, false, false},
	{false, true, false, false},
	{false, false, true, false},
	{false, false, false, true},
}

// Unipolar drives a 4-phase unipolar stepper (28BYJ-48 through a ULN2003)
// in full-step mode.
type Unipolar struct {
	coils [4]pin.Output
	phase int
	dir   int
}

// NewUnipolar returns a driver for coils IN1..IN4 in physical order.
func NewUnipolar(coils [4]pin.Output) *Unipolar {
	return &Unipolar{coils: coils, phase: -1, dir: 1}
}

func (u *Unipolar) SetDirection(forward bool) error {
	if forward {
		u.dir = 1
	} else {
		u.dir = -1
	}
	return nil
}

func (u *Unipolar) Step(s Sleeper, delay time.Duration) error {
	u.phase = (u.phase + u.dir + 4) % 4
	for i, c := range u.coils {
		if err := c.Set(fullStep[u.phase][i]); err != nil {
			return errors.Wrapf(err, "coil %d", i+1)
		}
	}
	s.Sleep(delay)
	return nil
}

func (u *Unipolar) Release() (err error) {
	for _, c := range u.coils {
		err = multierr.Append(err, c.Set(false))
	}
	return err
}
