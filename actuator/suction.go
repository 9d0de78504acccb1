package actuator

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mastercactapus/pickplace/pin"
)

// Suction switches the vacuum generator.
type Suction interface {
	Set(on bool) error
	Release() error
}

// Relay drives the pump through a relay module.
type Relay struct {
	out       pin.Output
	activeLow bool
}

// NewRelay returns a relay switched off. Most relay boards are active low.
func NewRelay(out pin.Output, activeLow bool) (*Relay, error) {
	r := &Relay{out: out, activeLow: activeLow}
	if err := r.Set(false); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Relay) Set(on bool) error {
	return errors.Wrap(r.out.Set(on != r.activeLow), "pump relay")
}

func (r *Relay) Release() error { return r.Set(false) }

// HBridge drives the pump from one channel of a TB6612 motor driver.
type HBridge struct {
	stby, in1, in2 pin.Output
	pwm            pin.PWM
}

// NewHBridge returns a driver in standby with the pump off.
func NewHBridge(stby, in1, in2 pin.Output, pwm pin.PWM) (*HBridge, error) {
	h := &HBridge{stby: stby, in1: in1, in2: in2, pwm: pwm}
	if err := h.Set(false); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HBridge) Set(on bool) error {
	if on {
		err := multierr.Combine(
			h.stby.Set(true),
			h.in1.Set(true),
			h.in2.Set(false),
			h.pwm.SetDuty(1),
		)
		return errors.Wrap(err, "pump on")
	}
	err := multierr.Combine(
		h.pwm.SetDuty(0),
		h.stby.Set(false),
	)
	return errors.Wrap(err, "pump off")
}

func (h *HBridge) Release() error {
	return multierr.Combine(h.Set(false), h.in1.Set(false), h.in2.Set(false))
}
