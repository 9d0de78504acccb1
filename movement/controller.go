package movement

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/actuator"
	"github.com/mastercactapus/pickplace/coord"
	"github.com/mastercactapus/pickplace/machine"
)

// ErrNotHomed is returned by absolute moves before HomeAll has succeeded.
var ErrNotHomed = errors.New("axes not homed")

// Controller drives a System with absolute machine coordinates. Z is given
// in mm and converted to revolutions of the Z axis.
//
// Feed rates are ignored: each axis follows its own ramp profile.
type Controller struct {
	sys     *System
	zPerRev float64
}

var _ machine.Rig = (*Controller)(nil)

// NewController returns a controller for sys. zPerRev is the Z travel of one
// revolution in mm.
func NewController(sys *System, zPerRev float64) (*Controller, error) {
	if zPerRev <= 0 {
		return nil, errors.New("movement: Z mm per revolution must be positive")
	}
	return &Controller{sys: sys, zPerRev: zPerRev}, nil
}

// Position returns the logical position in mm, or ErrNotHomed.
func (c *Controller) Position() (coord.Point, error) {
	x, okX := c.sys.X.Position()
	y, okY := c.sys.Y.Position()
	z, okZ := c.sys.Z.Position()
	if !okX || !okY || !okZ {
		return coord.Point{}, ErrNotHomed
	}
	return coord.Point{X: x, Y: y, Z: z * c.zPerRev}, nil
}

// MoveLinear moves to the absolute target of m, Z first.
func (c *Controller) MoveLinear(ctx context.Context, m machine.Move) error {
	cur, err := c.Position()
	if err != nil {
		return err
	}
	d := m.Apply(cur).Sub(cur)
	return c.sys.MoveXYZ(ctx, d.X, d.Y, d.Z/c.zPerRev)
}

// SetVacuum switches the pump.
func (c *Controller) SetVacuum(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	return errors.Wrap(c.sys.Pump.Set(on), "pump")
}

// RotateTool turns the rotation servo to deg.
func (c *Controller) RotateTool(ctx context.Context, deg float64) error {
	return c.sys.Rotate(ctx, deg)
}

// Dwell waits d on the system clock.
func (c *Controller) Dwell(ctx context.Context, d time.Duration) error {
	return actuator.Wait(ctx, c.sys.cfg.Clock, d)
}

// HomeAll homes Z, Y, then X.
func (c *Controller) HomeAll(ctx context.Context) error { return c.sys.HomeAll(ctx) }

// Shutdown releases every line of the system.
func (c *Controller) Shutdown() error { return c.sys.Shutdown() }
