// Package pin owns the digital lines of the machine.
//
// A Registry is created once at startup and handed to every component that needs
// hardware; lines are claimed through it so a pin can never be driven by two
// actuators, and Close releases everything that was claimed.
package pin

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mastercactapus/pickplace/fault"
)

// Output is a digital output line.
type Output interface {
	Set(high bool) error
}

// Input is a digital input line.
type Input interface {
	Read() (high bool, err error)
}

// PWM is a pulse-width modulated output.
type PWM interface {
	// SetDuty sets the duty cycle as a fraction in [0,1].
	SetDuty(fraction float64) error
}

// Pull selects the input bias.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Chip is a GPIO backend.
type Chip interface {
	Output(n int) (Output, error)
	Input(n int, pull Pull) (Input, error)
	PWM(n int, freqHz int) (PWM, error)

	// Release returns line n to a safe (low, input) state.
	Release(n int) error
	Close() error
}

// Registry hands out lines from a Chip and tracks ownership.
type Registry struct {
	chip Chip

	mx     sync.Mutex
	owners map[int]string
	shared map[int]bool
}

// NewRegistry wraps chip.
func NewRegistry(chip Chip) *Registry {
	return &Registry{chip: chip, owners: make(map[int]string), shared: make(map[int]bool)}
}

func (r *Registry) claim(n int, owner string) error {
	if n < 0 {
		return fault.Errorf(fault.Configuration, "%s: invalid pin %d", owner, n)
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if prev, ok := r.owners[n]; ok {
		return fault.Errorf(fault.Configuration, "%s: pin %d already claimed by %s", owner, n, prev)
	}
	r.owners[n] = owner
	return nil
}

func (r *Registry) unclaim(n int) {
	r.mx.Lock()
	delete(r.owners, n)
	r.mx.Unlock()
}

// Output claims pin n as an output, initially low.
func (r *Registry) Output(n int, owner string) (Output, error) {
	if err := r.claim(n, owner); err != nil {
		return nil, err
	}
	o, err := r.chip.Output(n)
	if err != nil {
		r.unclaim(n)
		return nil, fault.Wrap(fault.Configuration, err, owner)
	}
	return o, nil
}

// Outputs claims several output pins at once.
func (r *Registry) Outputs(owner string, pins ...int) ([]Output, error) {
	res := make([]Output, 0, len(pins))
	for _, n := range pins {
		o, err := r.Output(n, owner)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, nil
}

// Input claims pin n as an input.
func (r *Registry) Input(n int, pull Pull, owner string) (Input, error) {
	if err := r.claim(n, owner); err != nil {
		return nil, err
	}
	in, err := r.chip.Input(n, pull)
	if err != nil {
		r.unclaim(n)
		return nil, fault.Wrap(fault.Configuration, err, owner)
	}
	return in, nil
}

// Shared returns an input on pin n without claiming it exclusively.
//
// Limit switches are read by both the axis that homes against them and
// the feedback monitor.
func (r *Registry) Shared(n int, pull Pull, owner string) (Input, error) {
	if n < 0 {
		return nil, fault.Errorf(fault.Configuration, "%s: invalid pin %d", owner, n)
	}
	r.mx.Lock()
	prev, claimed := r.owners[n]
	if claimed && !r.shared[n] {
		r.mx.Unlock()
		return nil, fault.Errorf(fault.Configuration, "%s: pin %d already claimed by %s", owner, n, prev)
	}
	if !claimed {
		r.owners[n] = owner
		r.shared[n] = true
	}
	r.mx.Unlock()

	in, err := r.chip.Input(n, pull)
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, err, owner)
	}
	return in, nil
}

// PWM claims pin n as a PWM output.
func (r *Registry) PWM(n, freqHz int, owner string) (PWM, error) {
	if err := r.claim(n, owner); err != nil {
		return nil, err
	}
	p, err := r.chip.PWM(n, freqHz)
	if err != nil {
		r.unclaim(n)
		return nil, fault.Wrap(fault.Configuration, err, owner)
	}
	return p, nil
}

// Claimed returns the owner of pin n, if any.
func (r *Registry) Claimed(n int) (string, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	owner, ok := r.owners[n]
	return owner, ok
}

// Close releases every claimed line and then the chip.
func (r *Registry) Close() error {
	r.mx.Lock()
	pins := make([]int, 0, len(r.owners))
	for n := range r.owners {
		pins = append(pins, n)
	}
	r.owners = make(map[int]string)
	r.shared = make(map[int]bool)
	r.mx.Unlock()

	var err error
	for _, n := range pins {
		err = multierr.Append(err, errors.Wrapf(r.chip.Release(n), "release pin %d", n))
	}
	return multierr.Append(err, r.chip.Close())
}

// Inverted flips the level reported by an Input, for normally-closed switches.
func Inverted(in Input) Input { return inverted{in} }

type inverted struct{ Input }

func (i inverted) Read() (bool, error) {
	v, err := i.Input.Read()
	return !v, err
}
