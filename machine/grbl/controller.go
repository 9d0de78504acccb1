package grbl

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/coord"
	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/gcode"
	"github.com/mastercactapus/pickplace/machine"
	"github.com/mastercactapus/pickplace/pin"
)

const shutdownTimeout = 2 * time.Second

// Config configures a Controller.
type Config struct {
	// ServoChannel is the P argument of M280.
	ServoChannel int

	// Poll is the status query period; zero disables polling.
	Poll time.Duration

	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

// Controller drives a grbl board over its line protocol. Every command
// blocks until the board acknowledges it; moves are followed by `G4 P0` so
// they return once motion is complete.
type Controller struct {
	conn *Conn
	cfg  Config
	log  *zap.SugaredLogger

	mx    sync.Mutex
	state State
	seen  bool
	alarm string
	vm    *gcode.VM

	ready     chan struct{}
	readyOnce sync.Once

	stop     chan struct{}
	pollDone chan struct{}
	shutdown sync.Once
}

var _ machine.Rig = (*Controller)(nil)

// New starts a controller on rw. rw is closed by Shutdown if it is an
// io.Closer.
func New(rw io.ReadWriter, cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	c := &Controller{
		cfg:      cfg,
		log:      cfg.Logger,
		vm:       gcode.NewVM(),
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
		pollDone: make(chan struct{}),
	}
	c.conn = NewConn(rw, c.handleLine, cfg.Logger)
	go c.pollLoop()
	return c
}

func (c *Controller) pollLoop() {
	defer close(c.pollDone)
	if c.cfg.Poll <= 0 {
		return
	}
	t := c.cfg.Clock.Ticker(c.cfg.Poll)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if err := c.conn.WriteByte(StatusQuery); err != nil {
				c.log.Warnw("grbl status query", "err", err)
			}
		}
	}
}

func (c *Controller) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Controller) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, "<"):
		c.mx.Lock()
		stat, err := parseStatus(c.state, line)
		if err == nil {
			c.state = *stat
			c.seen = true
			c.vm.SetWCO(stat.WCO)
			if stat.Alarm() && c.alarm == "" {
				c.alarm = "alarm state"
			}
		}
		c.mx.Unlock()
		if err != nil {
			c.log.Errorw("parse status", "line", line, "err", err)
			return
		}
		c.markReady()
	case strings.HasPrefix(line, "ALARM:"):
		msg := describeAlarm(line)
		c.mx.Lock()
		c.alarm = msg
		c.mx.Unlock()
		c.log.Errorw("grbl alarm", "alarm", msg)
	case strings.HasPrefix(line, "Grbl "):
		c.log.Infow("grbl reset", "banner", line)
		c.markReady()
	default:
		c.log.Debugw("grbl message", "line", line)
	}
}

// WaitReady waits for the startup banner or a first status report. Boards
// that reset when the port opens drop anything sent before the banner.
func (c *Controller) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fault.Wrap(fault.TransientIO, context.Cause(ctx), "grbl not responding")
	case <-c.ready:
		return nil
	}
}

// Status returns the last status report.
func (c *Controller) Status() State {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

// Position returns the reported machine position, or the commanded one
// before the first status report.
func (c *Controller) Position() coord.Point {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.seen {
		return c.state.MPos
	}
	return c.vm.MPos()
}

// Modes is the machine state implied by the blocks sent so far.
type Modes struct {
	WPos     coord.Point
	Inches   bool
	Relative bool
	Vacuum   bool
	Feed     float64

	// Angle is the last rotation servo angle; AngleSet is false until one
	// was sent.
	Angle    float64
	AngleSet bool
}

// Modes returns the tracked modal state. WPos uses the reported position
// once a status report arrived.
func (c *Controller) Modes() Modes {
	c.mx.Lock()
	defer c.mx.Unlock()
	m := Modes{
		WPos:     c.vm.WPos(),
		Inches:   c.vm.Inches(),
		Relative: c.vm.RelativeMotion(),
		Vacuum:   c.vm.Coolant(),
		Feed:     c.vm.Feed(),
	}
	if c.seen {
		m.WPos = c.state.MPos.Sub(c.vm.WCO())
	}
	m.Angle, m.AngleSet = c.vm.Servo(c.cfg.ServoChannel)
	return m
}

// Exec sends raw blocks in order, streaming them under flow control. Every
// block is validated before the first one is sent.
func (c *Controller) Exec(ctx context.Context, blocks ...gcode.Block) error {
	for i, b := range blocks {
		if err := b.Validate(); err != nil {
			return errors.Wrapf(err, "block %d (%s)", i+1, b.String())
		}
	}
	if len(blocks) == 0 {
		return nil
	}
	return c.exec(ctx, blocks...)
}

func (c *Controller) alarmErr() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.alarm == "" {
		return nil
	}
	return fault.New(fault.Safety, "grbl "+c.alarm)
}

func (c *Controller) exec(ctx context.Context, blocks ...gcode.Block) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if err := c.alarmErr(); err != nil {
		return err
	}
	lines := make([]string, len(blocks))
	for i, b := range blocks {
		lines[i] = b.String()
	}
	err := c.send(ctx, lines...)
	if err != nil {
		return err
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	for _, b := range blocks {
		if err := c.vm.Run(b); err != nil {
			c.log.Warnw("untracked block", "block", b.String(), "err", err)
		}
	}
	return nil
}

func (c *Controller) send(ctx context.Context, lines ...string) error {
	err := c.conn.Send(ctx, lines...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if aerr := c.alarmErr(); aerr != nil {
		return aerr
	}
	var resp *ResponseError
	if errors.As(err, &resp) {
		return err
	}
	return fault.Wrap(fault.TransientIO, err, "grbl")
}

// MoveLinear sends a rapid move and waits for motion to finish.
func (c *Controller) MoveLinear(ctx context.Context, m machine.Move) error {
	b := gcode.Block{gcode.G(0)}
	for _, a := range []struct {
		w byte
		v *float64
	}{{'X', m.X}, {'Y', m.Y}, {'Z', m.Z}} {
		if a.v != nil {
			b = append(b, gcode.Word{W: a.w, Arg: *a.v})
		}
	}
	if len(b) == 1 {
		return nil
	}
	if m.Feed > 0 {
		b = append(b, gcode.Word{W: 'F', Arg: m.Feed})
	}
	return c.exec(ctx, b, gcode.Block{gcode.G(4), {W: 'P', Arg: 0}})
}

// SetVacuum switches the coolant output that drives the pump.
func (c *Controller) SetVacuum(ctx context.Context, on bool) error {
	if on {
		return c.exec(ctx, gcode.Block{gcode.M(8)})
	}
	return c.exec(ctx, gcode.Block{gcode.M(9)})
}

// RotateTool sets the rotation servo angle with M280.
func (c *Controller) RotateTool(ctx context.Context, deg float64) error {
	return c.exec(ctx, gcode.Block{
		gcode.M(280),
		{W: 'P', Arg: float64(c.cfg.ServoChannel)},
		{W: 'S', Arg: deg},
	})
}

// Dwell pauses the board for d.
func (c *Controller) Dwell(ctx context.Context, d time.Duration) error {
	return c.exec(ctx, gcode.Block{gcode.G(4), {W: 'P', Arg: d.Seconds()}})
}

// HomeAll runs the homing cycle. It is allowed in an alarm state and clears
// the alarm on success.
func (c *Controller) HomeAll(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	c.mx.Lock()
	prev := c.alarm
	c.alarm = ""
	c.mx.Unlock()

	err := c.send(ctx, "$H")
	if err != nil {
		c.mx.Lock()
		if c.alarm == "" {
			c.alarm = prev
		}
		c.mx.Unlock()
		return errors.Wrap(err, "home")
	}

	c.mx.Lock()
	c.alarm = ""
	c.vm.SetMPos(coord.Point{})
	c.mx.Unlock()
	c.log.Infow("homed")
	return nil
}

// Shutdown turns suction off, stops polling and closes the connection. It
// is safe to call more than once.
func (c *Controller) Shutdown() error {
	var err error
	c.shutdown.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if c.alarmErr() == nil {
			err = multierr.Append(err, errors.Wrap(c.conn.Send(ctx, gcode.Block{gcode.M(9)}.String()), "suction off"))
		}
		close(c.stop)
		<-c.pollDone
		err = multierr.Append(err, c.conn.Close())
	})
	return err
}

// Input returns a sensor backed by letter in the status report's Pn field,
// e.g. 'X' for the X limit switch or 'P' for the probe input.
func (c *Controller) Input(letter byte) pin.Input {
	return pinInput{c: c, letter: letter}
}

type pinInput struct {
	c      *Controller
	letter byte
}

func (p pinInput) Read() (bool, error) {
	return strings.IndexByte(p.c.Status().Pins, p.letter) >= 0, nil
}
