// Package control runs one job: it connects to the host, receives the
// plan, homes the machine, executes the tasks and reports progress.
package control

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/feedback"
	"github.com/mastercactapus/pickplace/machine"
	"github.com/mastercactapus/pickplace/protocol"
	"github.com/mastercactapus/pickplace/task"
)

// State of a run.
type State int

const (
	Disconnected State = iota
	Connected
	PlanReceived
	Homing
	Executing
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connected:
		return "CONNECTED"
	case PlanReceived:
		return "PLAN_RECEIVED"
	case Homing:
		return "HOMING"
	case Executing:
		return "EXECUTING"
	case Finished:
		return "FINISHED"
	case Failed:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Dialer opens the link for a run.
type Dialer func(ctx context.Context) (Link, error)

// An Observer is told about every state change and status sent.
type Observer interface {
	StateChanged(s State)
	StatusSent(s protocol.Status)
}

type Config struct {
	Who       string
	Grid      task.Grid
	Workspace task.Workspace

	// Replan reorders received tasks with the route planner, starting from
	// the grid origin. DONE still reports the index in the received frame.
	Replan bool

	Logger *zap.SugaredLogger
}

// Loop orchestrates one run. The rig, executor and monitor are borrowed for
// the run and released when it ends, whatever the outcome.
type Loop struct {
	cfg     Config
	log     *zap.SugaredLogger
	rig     machine.Rig
	exec    *task.Executor
	monitor *feedback.Monitor

	mx        sync.Mutex
	state     State
	cancel    context.CancelCauseFunc
	observers []Observer
}

var _ feedback.Listener = (*Loop)(nil)

// New returns a loop. monitor may be nil.
func New(rig machine.Rig, exec *task.Executor, monitor *feedback.Monitor, cfg Config) *Loop {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loop{cfg: cfg, log: log, rig: rig, exec: exec, monitor: monitor}
}

// Observe registers o for state and status updates.
func (l *Loop) Observe(o Observer) {
	l.mx.Lock()
	l.observers = append(l.observers, o)
	l.mx.Unlock()
}

func (l *Loop) State() State {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mx.Lock()
	l.state = s
	obs := append([]Observer(nil), l.observers...)
	l.mx.Unlock()

	l.log.Infow("state", "state", s.String())
	for _, o := range obs {
		o.StateChanged(s)
	}
}

func (l *Loop) send(link Link, s protocol.Status) error {
	if err := link.SendStatus(s); err != nil {
		return errors.Wrapf(err, "send %s", s)
	}
	l.mx.Lock()
	obs := append([]Observer(nil), l.observers...)
	l.mx.Unlock()
	for _, o := range obs {
		o.StatusSent(s)
	}
	return nil
}

// abort cancels the running job with cause. Only the first cause sticks.
func (l *Loop) abort(cause error) {
	l.mx.Lock()
	cancel := l.cancel
	l.mx.Unlock()
	if cancel == nil {
		l.log.Warnw("abort outside a run", "cause", cause)
		return
	}
	cancel(cause)
}

func (l *Loop) EmergencyStop(pressed bool) {
	if !pressed {
		l.log.Infow("emergency stop released")
		return
	}
	l.log.Errorw("emergency stop pressed")
	l.abort(fault.ErrEmergencyStop)
}

func (l *Loop) VacuumLost(lost bool) {
	if !lost || l.exec == nil || !l.exec.Carrying() {
		return
	}
	l.log.Errorw("vacuum lost while carrying")
	l.abort(fault.ErrVacuumLost)
}

func (l *Loop) HomeReached(axis string, triggered bool) {
	l.log.Debugw("limit switch", "axis", axis, "triggered", triggered)
}

// Tasks converts a PLAN frame to tasks in machine coordinates. Task IDs are
// the 1-based frame indexes.
func (l *Loop) Tasks(p protocol.Plan) ([]task.Task, error) {
	tasks := make([]task.Task, 0, len(p.Data))
	for i, m := range p.Data {
		if m.SrcCol < 0 || m.SrcRow < 0 || m.DstCol < 0 || m.DstRow < 0 {
			return nil, fault.Errorf(fault.PlanValidation, "move %d: negative cell", i+1)
		}
		rot := task.NormalizeRotation(float64(m.Rot))
		switch rot {
		case 0, 90, 180, 270:
		default:
			return nil, fault.Errorf(fault.PlanValidation, "move %d: rotation %d is not a quarter turn", i+1, m.Rot)
		}
		tasks = append(tasks, task.New(i+1,
			l.cfg.Grid.Point(m.SrcCol, m.SrcRow),
			l.cfg.Grid.Point(m.DstCol, m.DstRow),
			rot,
		))
	}
	if err := l.cfg.Workspace.Check(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Run performs one job over the link returned by dial. The returned error is
// the one reported to the host as ERROR, if any.
func (l *Loop) Run(ctx context.Context, dial Dialer) (err error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	l.mx.Lock()
	l.cancel = cancel
	l.state = Disconnected
	l.mx.Unlock()

	if l.monitor != nil {
		l.monitor.Register(l)
		l.monitor.Start()
	}

	var link Link
	defer func() {
		l.mx.Lock()
		l.cancel = nil
		l.mx.Unlock()
		if cerr := l.cleanup(link); cerr != nil {
			l.log.Errorw("cleanup", "error", cerr)
		}
	}()

	link, err = dial(runCtx)
	if err != nil {
		l.fail(nil, err)
		return err
	}
	l.setState(Connected)

	if err = l.job(runCtx, link); err != nil {
		if cause := context.Cause(runCtx); cause != nil && !errors.Is(err, cause) {
			err = multierr.Append(cause, err)
		}
		l.fail(link, err)
		return err
	}
	l.setState(Finished)
	return nil
}

func (l *Loop) job(ctx context.Context, link Link) error {
	if err := link.Hello(l.cfg.Who); err != nil {
		return err
	}
	if err := l.send(link, protocol.StatusReady()); err != nil {
		return err
	}

	frame, err := link.ReadPlan()
	if err != nil {
		return err
	}
	tasks, err := l.Tasks(frame)
	if err != nil {
		return err
	}
	plan := task.Plan{Tasks: tasks}
	if l.cfg.Replan {
		plan = task.PlanRoute(tasks, l.cfg.Grid.Point(0, 0))
	}
	l.setState(PlanReceived)
	l.log.Infow("plan received", "moves", len(tasks), "travel_mm", plan.Travel())

	l.setState(Homing)
	if err := l.rig.HomeAll(ctx); err != nil {
		return errors.Wrap(err, "homing")
	}
	if err := l.send(link, protocol.StatusHomed()); err != nil {
		return err
	}

	l.setState(Executing)
	err = l.exec.Run(ctx, plan, func(t task.Task) error {
		return l.send(link, protocol.StatusDone(t.ID))
	})
	if err != nil {
		return err
	}
	return l.send(link, protocol.StatusFinished())
}

// fail logs err and reports it to the host. A failure to report is logged,
// never returned, so it cannot mask err.
func (l *Loop) fail(link Link, err error) {
	l.setState(Failed)
	l.log.Errorw("run failed", "error", err, "kind", fault.KindOf(err).String())
	if link == nil {
		return
	}
	if serr := l.send(link, protocol.StatusError(err)); serr != nil {
		l.log.Errorw("report error", "error", serr)
	}
}

// cleanup releases the actuators, then closes the link and the monitor.
func (l *Loop) cleanup(link Link) error {
	err := l.rig.Shutdown()
	if link != nil {
		err = multierr.Append(err, link.Close())
	}
	if l.monitor != nil {
		err = multierr.Append(err, l.monitor.Close())
	}
	return err
}
