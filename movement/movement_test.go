package movement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/pickplace/config"
	"github.com/mastercactapus/pickplace/machine"
	"github.com/mastercactapus/pickplace/pin"
)

type nopSleeper struct{}

func (nopSleeper) Sleep(time.Duration) {}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Hardware.Backend = config.BackendSim
	cfg.Hardware.Servo.Settle = config.Duration(time.Millisecond)
	cfg.Motion.PickDwell = config.Duration(time.Millisecond)
	cfg.Motion.PlaceDwell = config.Duration(time.Millisecond)
	return cfg
}

func newSimMachine(t *testing.T) (*Machine, *pin.Sim, *pin.Registry) {
	t.Helper()
	sim := pin.NewSim()
	reg := pin.NewRegistry(sim)
	m, err := Build(context.Background(), reg, testConfig(), Env{Sleeper: nopSleeper{}})
	require.NoError(t, err)
	return m, sim, reg
}

func TestBuild(t *testing.T) {
	m, sim, reg := newSimMachine(t)

	for _, n := range []int{27, 17, 23, 22, 6, 16, 8, 7, 12, 13, 21, 26, 20} {
		assert.Equal(t, "out", sim.Mode(n), "pin %d", n)
	}
	assert.Equal(t, "pwm", sim.Mode(18))
	owner, ok := reg.Claimed(18)
	assert.True(t, ok)
	assert.Equal(t, "servo", owner)

	assert.Len(t, m.Sensors.Home, 3)
	assert.NotNil(t, m.Sensors.VacuumLost)
	assert.NotNil(t, m.Sensors.EmergencyStop)
	assert.Equal(t, "in", sim.Mode(3), "emergency stop input")
	assert.Equal(t, "in", sim.Mode(14), "vacuum input")
	assert.InDelta(t, 0.075, sim.Duty(18), 1e-9, "servo parked at 90°")
}

func TestBuild_PinConflict(t *testing.T) {
	cfg := testConfig()
	cfg.Hardware.Pump.Kind = "relay"
	cfg.Hardware.Pump.Relay = 17

	sim := pin.NewSim()
	_, err := Build(context.Background(), pin.NewRegistry(sim), cfg, Env{Sleeper: nopSleeper{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pump")
	assert.Equal(t, "released", sim.Mode(17), "lines claimed before the failure are released")
}

func TestSystem_HomeAllOrder(t *testing.T) {
	m, sim, _ := newSimMachine(t)

	var mx sync.Mutex
	var order []string
	for n, name := range map[int]string{5: "X", 25: "Y", 24: "Z"} {
		name := name
		sim.SetSource(n, func() bool {
			mx.Lock()
			order = append(order, name)
			mx.Unlock()
			return true
		})
	}

	require.NoError(t, m.HomeAll(context.Background()))
	assert.Equal(t, []string{"Z", "Y", "X"}, order)

	x, ok := m.X.Position()
	assert.True(t, ok)
	assert.Equal(t, 2.0, x)
	z, ok := m.Z.Position()
	assert.True(t, ok)
	assert.InDelta(t, 102.0/2048, z, 1e-12)
}

func TestSystem_MoveXYZOrder(t *testing.T) {
	m, sim, _ := newSimMachine(t)

	var order []string
	record := func(name string) func(bool) {
		return func(bool) {
			if len(order) == 0 || order[len(order)-1] != name {
				order = append(order, name)
			}
		}
	}
	sim.OnSet(17, record("X"))
	sim.OnSet(16, record("Y"))
	sim.OnSet(8, record("Z"))

	require.NoError(t, m.MoveXYZ(context.Background(), 1, -1, 0.5))
	assert.Equal(t, []string{"Z", "X", "Y"}, order)
	assert.Equal(t, 400, sim.Pulses(17))
	assert.Equal(t, 400, sim.Pulses(22), "second X driver follows")
	assert.Equal(t, 400, sim.Pulses(16))
	assert.False(t, sim.Level(6), "Y moved backward")

	order = nil
	require.NoError(t, m.MoveXYZ(context.Background(), 0, 0, 0))
	assert.Empty(t, order)
}

func TestSystem_PickPlace(t *testing.T) {
	m, sim, _ := newSimMachine(t)
	ctx := context.Background()

	before, _ := m.Z.Position()
	require.NoError(t, m.Pick(ctx))
	after, _ := m.Z.Position()
	assert.InDelta(t, before, after, 1e-12)
	assert.True(t, sim.Level(21), "driver out of standby")
	assert.Equal(t, 1.0, sim.Duty(19))

	require.NoError(t, m.Place(ctx))
	assert.False(t, sim.Level(21))
	assert.Equal(t, 0.0, sim.Duty(19))
}

func TestSystem_Shutdown(t *testing.T) {
	m, sim, reg := newSimMachine(t)

	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())

	assert.Equal(t, "released", sim.Mode(17))
	assert.Equal(t, "released", sim.Mode(18))
	_, claimed := reg.Claimed(17)
	assert.False(t, claimed)
}

func TestController(t *testing.T) {
	m, sim, _ := newSimMachine(t)
	ctx := context.Background()

	c, err := NewController(m.System, 8)
	require.NoError(t, err)

	err = c.MoveLinear(ctx, machine.ToZ(16, 0))
	assert.True(t, errors.Is(err, ErrNotHomed))

	require.NoError(t, c.HomeAll(ctx))

	require.NoError(t, c.MoveLinear(ctx, machine.Move{X: machine.Axis(10), Y: machine.Axis(20), Z: machine.Axis(16)}))
	pos, err := c.Position()
	require.NoError(t, err)
	assert.InDelta(t, 10, pos.X, 1e-9)
	assert.InDelta(t, 20, pos.Y, 1e-9)
	assert.InDelta(t, 16, pos.Z, 1e-9)

	require.NoError(t, c.MoveLinear(ctx, machine.ToZ(0.5, 600)))
	pos, err = c.Position()
	require.NoError(t, err)
	assert.InDelta(t, 10, pos.X, 1e-9)
	assert.InDelta(t, 0.5, pos.Z, 1e-9)

	require.NoError(t, c.SetVacuum(ctx, true))
	assert.Equal(t, 1.0, sim.Duty(19))
	require.NoError(t, c.RotateTool(ctx, 180))
	assert.InDelta(t, 0.125, sim.Duty(18), 1e-9)
	require.NoError(t, c.Dwell(ctx, time.Millisecond))

	cctx, cancel := context.WithCancelCause(ctx)
	stop := errors.New("stop")
	cancel(stop)
	assert.Equal(t, stop, c.Dwell(cctx, time.Hour))
	assert.Equal(t, stop, c.SetVacuum(cctx, false))

	require.NoError(t, c.Shutdown())
}

func TestNewController(t *testing.T) {
	m, _, _ := newSimMachine(t)
	_, err := NewController(m.System, 0)
	assert.Error(t, err)
}
