// Package movement is the single motion interface for the rest of the
// program: it owns the axes and auxiliary actuators of the machine.
package movement

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/actuator"
	"github.com/mastercactapus/pickplace/axis"
)

// Config holds the motion constants of the facade.
type Config struct {
	// Clearance is how far Pick and Place lower the Z axis, in revolutions.
	Clearance float64

	PickDwell  time.Duration
	PlaceDwell time.Duration

	// Backoff distances after homing. X and Y are in mm, Z in revolutions.
	BackoffX, BackoffY, BackoffZ float64

	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

// DefaultConfig returns the constants of the reference machine.
func DefaultConfig() Config {
	return Config{
		Clearance:  2,
		PickDwell:  300 * time.Millisecond,
		PlaceDwell: 200 * time.Millisecond,
		BackoffX:   2,
		BackoffY:   2,
		BackoffZ:   0.05,
	}
}

// System owns every actuator of the machine.
type System struct {
	X, Y, Z *axis.Axis
	Rotator actuator.Rotator
	Pump    actuator.Suction

	cfg   Config
	log   *zap.SugaredLogger
	lines io.Closer

	shutdown    sync.Once
	shutdownErr error
}

// New assembles a System. lines, if not nil, is closed last on Shutdown
// (normally the pin registry the actuators were claimed from).
func New(x, y, z *axis.Axis, rot actuator.Rotator, pump actuator.Suction, lines io.Closer, cfg Config) (*System, error) {
	if x == nil || y == nil || z == nil {
		return nil, errors.New("movement: X, Y and Z axes are required")
	}
	if rot == nil || pump == nil {
		return nil, errors.New("movement: rotator and pump are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &System{
		X: x, Y: y, Z: z,
		Rotator: rot,
		Pump:    pump,
		cfg:     cfg,
		log:     log,
		lines:   lines,
	}, nil
}

// HomeAll homes Z first so the tool is clear of the table, then Y, then X.
func (s *System) HomeAll(ctx context.Context) error {
	for _, h := range []struct {
		a       *axis.Axis
		backoff float64
	}{
		{s.Z, s.cfg.BackoffZ},
		{s.Y, s.cfg.BackoffY},
		{s.X, s.cfg.BackoffX},
	} {
		s.log.Infow("homing", "axis", h.a.Name())
		if err := h.a.Home(ctx, h.backoff); err != nil {
			return errors.Wrap(err, "home")
		}
		pos, _ := h.a.Position()
		s.log.Infow("homed", "axis", h.a.Name(), "position", pos)
	}
	return nil
}

// MoveXYZ moves relative to the current position: Z (in revolutions,
// positive is up) first, then X, then Y.
func (s *System) MoveXYZ(ctx context.Context, dx, dy, dzRev float64) error {
	if dzRev != 0 {
		if err := s.Z.MoveRelative(ctx, dzRev); err != nil {
			return err
		}
	}
	if dx != 0 {
		if err := s.X.MoveRelative(ctx, dx); err != nil {
			return err
		}
	}
	if dy != 0 {
		if err := s.Y.MoveRelative(ctx, dy); err != nil {
			return err
		}
	}
	return nil
}

// Pick lowers the tool by the clearance, turns suction on and raises it again.
func (s *System) Pick(ctx context.Context) error {
	return s.dip(ctx, true, s.cfg.PickDwell)
}

// Place lowers the tool by the clearance, turns suction off and raises it again.
func (s *System) Place(ctx context.Context) error {
	return s.dip(ctx, false, s.cfg.PlaceDwell)
}

func (s *System) dip(ctx context.Context, suction bool, dwell time.Duration) error {
	if err := s.Z.MoveRelative(ctx, -s.cfg.Clearance); err != nil {
		return err
	}
	if err := s.Pump.Set(suction); err != nil {
		return errors.Wrap(err, "pump")
	}
	if err := actuator.Wait(ctx, s.cfg.Clock, dwell); err != nil {
		return err
	}
	return s.Z.MoveRelative(ctx, s.cfg.Clearance)
}

// Rotate turns the tool to deg.
func (s *System) Rotate(ctx context.Context, deg float64) error {
	return errors.Wrap(s.Rotator.Rotate(ctx, deg), "rotate")
}

// Shutdown turns suction off and releases every actuator and line. It is safe
// to call more than once; later calls return the first result.
func (s *System) Shutdown() error {
	s.shutdown.Do(func() {
		err := multierr.Combine(
			s.Pump.Release(),
			s.Rotator.Release(),
			s.Z.Release(),
			s.Y.Release(),
			s.X.Release(),
		)
		if s.lines != nil {
			err = multierr.Append(err, s.lines.Close())
		}
		if err != nil {
			s.log.Errorw("shutdown", "error", err)
		}
		s.shutdownErr = err
	})
	return s.shutdownErr
}
