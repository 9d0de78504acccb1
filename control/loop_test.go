package control

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/pickplace/coord"
	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/feedback"
	"github.com/mastercactapus/pickplace/machine"
	"github.com/mastercactapus/pickplace/pin"
	"github.com/mastercactapus/pickplace/protocol"
	"github.com/mastercactapus/pickplace/task"
)

type fakeRig struct {
	calls    []string
	hook     func(n int)
	homeErr  error
	homed    int
	shutdown int
}

func (r *fakeRig) call(s string) error {
	r.calls = append(r.calls, s)
	if r.hook != nil {
		r.hook(len(r.calls))
	}
	return nil
}

func (r *fakeRig) MoveLinear(ctx context.Context, m machine.Move) error { return r.call(m.String()) }
func (r *fakeRig) SetVacuum(ctx context.Context, on bool) error {
	return r.call(fmt.Sprintf("vacuum %t", on))
}
func (r *fakeRig) RotateTool(ctx context.Context, deg float64) error {
	return r.call(fmt.Sprintf("rotate %g", deg))
}
func (r *fakeRig) Dwell(ctx context.Context, d time.Duration) error { return r.call("dwell") }
func (r *fakeRig) HomeAll(ctx context.Context) error {
	r.homed++
	return r.homeErr
}
func (r *fakeRig) Shutdown() error {
	r.shutdown++
	return nil
}

type stateRecorder struct {
	states   []State
	statuses []protocol.Status
}

func (s *stateRecorder) StateChanged(st State)         { s.states = append(s.states, st) }
func (s *stateRecorder) StatusSent(st protocol.Status) { s.statuses = append(s.statuses, st) }

const threeMoves = `{"type":"PLAN","data":[` +
	`{"src_col":0,"src_row":0,"dst_col":2,"dst_row":1,"rot":90},` +
	`{"src_col":3,"src_row":3,"dst_col":0,"dst_row":2,"rot":180},` +
	`{"src_col":1,"src_row":0,"dst_col":4,"dst_row":4,"rot":-90}]}`

type hostResult struct {
	hello    string
	statuses []protocol.Status
}

// startHost accepts one session, sends plan after READY and collects every
// status until the client hangs up.
func startHost(t *testing.T, plan string) (Dialer, <-chan hostResult) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	res := make(chan hostResult, 1)
	go func() {
		var hr hostResult
		defer func() { res <- hr }()

		c, err := l.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		hello, _ := r.ReadString('\n')
		hr.hello = hello

		sentPlan := false
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			s, err := protocol.ParseStatus(line)
			if err != nil {
				return
			}
			hr.statuses = append(hr.statuses, s)
			if s.Status == protocol.Ready && !sentPlan {
				sentPlan = true
				_, _ = c.Write([]byte(plan + "\n"))
			}
		}
	}()

	addr := l.Addr().String()
	return func(ctx context.Context) (Link, error) {
		return protocol.Dial(ctx, addr, 2*time.Second)
	}, res
}

var testGrid = task.Grid{Origin: coord.Point{X: 10, Y: 10}, Cell: 30}

func newLoop(rig *fakeRig, mon *feedback.Monitor) *Loop {
	exec := task.NewExecutor(rig, task.ExecutorConfig{
		SafeZ:         16,
		PickZ:         0.5,
		PlaceZ:        0.5,
		ResetRotation: true,
	})
	return New(rig, exec, mon, Config{
		Who:       "test",
		Grid:      testGrid,
		Workspace: task.NewWorkspace(300, 300),
	})
}

func kinds(ss []protocol.Status) []string {
	res := make([]string, len(ss))
	for i, s := range ss {
		res[i] = s.String()
	}
	return res
}

func TestLoop_EmergencyStopAfterSecondTask(t *testing.T) {
	sim := pin.NewSim()
	stopIn, err := sim.Input(3, pin.PullNone)
	require.NoError(t, err)
	var pressed, polled atomic.Bool
	sim.SetSource(3, func() bool {
		polled.Store(true)
		return pressed.Load()
	})

	// the mock clock never ticks, so after its first poll the monitor
	// goroutine only reports what the hook below polls
	mon := feedback.New(feedback.Sensors{EmergencyStop: stopIn}, feedback.Config{Clock: clock.NewMock()})
	mon.Start()
	require.Eventually(t, polled.Load, time.Second, time.Millisecond)

	rig := &fakeRig{}
	rig.hook = func(n int) {
		// last call of the second task
		if n == 22 {
			pressed.Store(true)
			mon.Poll()
		}
	}
	l := newLoop(rig, mon)
	rec := &stateRecorder{}
	l.Observe(rec)

	dial, res := startHost(t, threeMoves)
	err = l.Run(context.Background(), dial)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrEmergencyStop))
	assert.True(t, errors.Is(err, fault.ErrSafety))

	hr := <-res
	assert.Equal(t, `{"type":"HELLO","who":"test"}`+"\n", hr.hello)
	assert.Equal(t, []string{"READY", "HOMED", "DONE(1)", "DONE(2)", "ERROR(emergency stop pressed)"}, kinds(hr.statuses))
	assert.Equal(t, hr.statuses, rec.statuses)

	assert.Len(t, rig.calls, 22, "no motion for the third task")
	assert.Equal(t, 1, rig.shutdown)
	assert.Equal(t, Failed, l.State())
	assert.Equal(t, []State{Connected, PlanReceived, Homing, Executing, Failed}, rec.states)
}

func TestLoop_Finished(t *testing.T) {
	rig := &fakeRig{}
	l := newLoop(rig, nil)

	dial, res := startHost(t, threeMoves)
	require.NoError(t, l.Run(context.Background(), dial))

	hr := <-res
	assert.Equal(t, []string{"READY", "HOMED", "DONE(1)", "DONE(2)", "DONE(3)", "FINISHED"}, kinds(hr.statuses))
	assert.Len(t, rig.calls, 33)
	assert.Equal(t, 1, rig.homed)
	assert.Equal(t, 1, rig.shutdown)
	assert.Equal(t, Finished, l.State())

	// grid to mm: col 0 row 0 is the origin, dst (2,1) is 70,40
	assert.Equal(t, "move X10 Y10 Z16", rig.calls[0])
	assert.Equal(t, "rotate 90", rig.calls[5])
	assert.Equal(t, "move X70 Y40 Z16", rig.calls[6])
	assert.Equal(t, "rotate 270", rig.calls[27], "rotation normalized")
}

func TestLoop_Replan(t *testing.T) {
	rig := &fakeRig{}
	l := newLoop(rig, nil)
	l.cfg.Replan = true

	dial, res := startHost(t, threeMoves)
	require.NoError(t, l.Run(context.Background(), dial))

	// from the origin: move 1 (0,0) drops at (2,1); move 3 at (1,0) is
	// nearer than move 2 at (3,3)
	hr := <-res
	assert.Equal(t, []string{"READY", "HOMED", "DONE(1)", "DONE(3)", "DONE(2)", "FINISHED"}, kinds(hr.statuses))
}

func TestLoop_InvalidPlan(t *testing.T) {
	for name, plan := range map[string]string{
		"rotation":  `{"type":"PLAN","data":[{"src_col":0,"src_row":0,"dst_col":1,"dst_row":1,"rot":45}]}`,
		"negative":  `{"type":"PLAN","data":[{"src_col":-1,"src_row":0,"dst_col":1,"dst_row":1,"rot":0}]}`,
		"workspace": `{"type":"PLAN","data":[{"src_col":0,"src_row":0,"dst_col":20,"dst_row":1,"rot":0}]}`,
		"frame":     `{"type":"HELLO"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rig := &fakeRig{}
			l := newLoop(rig, nil)

			dial, res := startHost(t, plan)
			err := l.Run(context.Background(), dial)
			assert.True(t, errors.Is(err, fault.ErrPlanValidation))

			hr := <-res
			require.Len(t, hr.statuses, 2)
			assert.Equal(t, protocol.Ready, hr.statuses[0].Status)
			assert.Equal(t, protocol.Error, hr.statuses[1].Status)
			assert.Zero(t, rig.homed, "rejected before any motion")
			assert.Empty(t, rig.calls)
			assert.Equal(t, 1, rig.shutdown)
		})
	}
}

func TestLoop_VacuumLost(t *testing.T) {
	rig := &fakeRig{}
	var l *Loop
	rig.hook = func(n int) {
		switch n {
		case 1:
			l.VacuumLost(true) // not carrying yet
		case 5:
			l.VacuumLost(true)
		}
	}
	l = newLoop(rig, nil)

	dial, res := startHost(t, threeMoves)
	err := l.Run(context.Background(), dial)
	assert.True(t, errors.Is(err, fault.ErrVacuumLost))
	var se *task.StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 6, se.Step)

	hr := <-res
	assert.Equal(t, []string{"READY", "HOMED", "ERROR(task 1: step 6 (rotate): vacuum lost)"}, kinds(hr.statuses))
	assert.Len(t, rig.calls, 5)
}

func TestLoop_HomingFailure(t *testing.T) {
	rig := &fakeRig{homeErr: errors.New("stuck")}
	l := newLoop(rig, nil)

	dial, res := startHost(t, threeMoves)
	err := l.Run(context.Background(), dial)
	require.Error(t, err)

	hr := <-res
	assert.Equal(t, []string{"READY", "ERROR(homing: stuck)"}, kinds(hr.statuses))
	assert.Equal(t, 1, rig.shutdown)
}

func TestLoop_DialFailure(t *testing.T) {
	rig := &fakeRig{}
	l := newLoop(rig, nil)
	boom := fault.New(fault.TransientIO, "no route to host")

	err := l.Run(context.Background(), func(context.Context) (Link, error) { return nil, boom })
	assert.Equal(t, boom, err)
	assert.Equal(t, Failed, l.State())
	assert.Equal(t, 1, rig.shutdown, "cleanup runs on every path")
}

func TestLoop_Offline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(threeMoves), 0o644))

	rig := &fakeRig{}
	l := newLoop(rig, nil)
	link := &FileLink{Path: path}

	require.NoError(t, l.Run(context.Background(), func(context.Context) (Link, error) { return link, nil }))
	assert.Equal(t, []string{"READY", "HOMED", "DONE(1)", "DONE(2)", "DONE(3)", "FINISHED"}, kinds(link.Statuses))

	missing := &FileLink{Path: filepath.Join(t.TempDir(), "none.json")}
	err := newLoop(&fakeRig{}, nil).Run(context.Background(), func(context.Context) (Link, error) { return missing, nil })
	assert.True(t, errors.Is(err, fault.ErrConfiguration))
	assert.Equal(t, []string{"READY", "ERROR(" + err.Error() + ")"}, kinds(missing.Statuses))
}

func TestLoop_EmergencyStopOutsideRun(t *testing.T) {
	l := newLoop(&fakeRig{}, nil)
	l.EmergencyStop(true)
	l.EmergencyStop(false)
	l.HomeReached("X", true)
	assert.Equal(t, Disconnected, l.State())
}
