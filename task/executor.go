package task

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/coord"
	"github.com/mastercactapus/pickplace/machine"
	"github.com/mastercactapus/pickplace/surface"
)

// ExecutorConfig sets the heights and speeds of a pick-and-place cycle.
// Heights are absolute machine Z in mm.
type ExecutorConfig struct {
	SafeZ  float64
	PickZ  float64
	PlaceZ float64

	// TravelFeed is used for XY moves, PlungeFeed for Z moves (mm/min).
	TravelFeed float64
	PlungeFeed float64

	// Dwell lets the suction settle after switching it on.
	Dwell time.Duration

	// ResetRotation turns the tool back to 0° after each placement.
	ResetRotation bool

	// Surface, if set, raises pick and place heights by the table height.
	Surface surface.Offsetter

	Logger *zap.SugaredLogger
}

// StepError reports which step of a task failed.
type StepError struct {
	Task Task
	// Step is 1-based within the task's cycle.
	Step int
	Op   string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("task %d: step %d (%s): %v", e.Task.ID, e.Step, e.Op, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Executor runs tasks on a machine.Controller. It owns no hardware.
type Executor struct {
	ctrl machine.Controller
	cfg  ExecutorConfig
	log  *zap.SugaredLogger

	carrying atomic.Bool
}

// NewExecutor returns an executor driving ctrl. It borrows ctrl and never
// shuts it down.
func NewExecutor(ctrl machine.Controller, cfg ExecutorConfig) *Executor {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{ctrl: ctrl, cfg: cfg, log: log}
}

// Carrying reports whether a piece is held, i.e. suction was switched on
// and not yet off. Safe to call from any goroutine.
func (e *Executor) Carrying() bool { return e.carrying.Load() }

type step struct {
	op string
	fn func(ctx context.Context) error
}

func (e *Executor) height(z float64, p coord.Point) float64 {
	if e.cfg.Surface == nil {
		return z
	}
	off, ok := e.cfg.Surface.OffsetZ(p)
	if !ok {
		return z
	}
	return z + off
}

func (e *Executor) steps(t Task) []step {
	c := e.ctrl
	move := func(m machine.Move) func(context.Context) error {
		return func(ctx context.Context) error { return c.MoveLinear(ctx, m) }
	}
	vacuum := func(on bool) func(context.Context) error {
		return func(ctx context.Context) error {
			if err := c.SetVacuum(ctx, on); err != nil {
				return err
			}
			e.carrying.Store(on)
			return nil
		}
	}
	rotate := func(deg float64) func(context.Context) error {
		return func(ctx context.Context) error { return c.RotateTool(ctx, deg) }
	}

	safe := machine.ToZ(e.cfg.SafeZ, e.cfg.PlungeFeed)
	steps := []step{
		{"move to source", move(machine.To(t.Source, e.cfg.SafeZ, e.cfg.TravelFeed))},
		{"lower to pick", move(machine.ToZ(e.height(e.cfg.PickZ, t.Source), e.cfg.PlungeFeed))},
		{"suction on", vacuum(true)},
		{"dwell", func(ctx context.Context) error { return c.Dwell(ctx, e.cfg.Dwell) }},
		{"raise", move(safe)},
		{"rotate", rotate(t.Rotation)},
		{"move to destination", move(machine.To(t.Destination, e.cfg.SafeZ, e.cfg.TravelFeed))},
		{"lower to place", move(machine.ToZ(e.height(e.cfg.PlaceZ, t.Destination), e.cfg.PlungeFeed))},
		{"suction off", vacuum(false)},
		{"raise", move(safe)},
	}
	if e.cfg.ResetRotation {
		steps = append(steps, step{"reset rotation", rotate(0)})
	}
	return steps
}

// Execute runs the full cycle for one task. The first failing step ends the
// task and is returned as a *StepError; the caller decides whether to go on.
func (e *Executor) Execute(ctx context.Context, t Task) error {
	e.log.Infow("task start", "task", t.ID, "source", t.Source, "destination", t.Destination, "rotation", t.Rotation)
	for i, s := range e.steps(t) {
		if err := ctx.Err(); err != nil {
			return &StepError{Task: t, Step: i + 1, Op: s.op, Err: context.Cause(ctx)}
		}
		if err := s.fn(ctx); err != nil {
			e.log.Errorw("task step failed", "task", t.ID, "step", i+1, "op", s.op, "error", err)
			return &StepError{Task: t, Step: i + 1, Op: s.op, Err: err}
		}
	}
	e.log.Infow("task done", "task", t.ID)
	return nil
}

// Run executes the plan in order, calling onDone after each task. It stops at
// the first error, including one returned by onDone, and checks ctx between
// tasks.
func (e *Executor) Run(ctx context.Context, p Plan, onDone func(Task) error) error {
	for _, t := range p.Tasks {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		if err := e.Execute(ctx, t); err != nil {
			return err
		}
		if onDone == nil {
			continue
		}
		if err := onDone(t); err != nil {
			return err
		}
	}
	return nil
}
