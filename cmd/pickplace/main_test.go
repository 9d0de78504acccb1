package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/config"
	"github.com/mastercactapus/pickplace/control"
	"github.com/mastercactapus/pickplace/coord"
	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/machine/grbl"
	"github.com/mastercactapus/pickplace/movement"
	"github.com/mastercactapus/pickplace/protocol"
	"github.com/mastercactapus/pickplace/surface"
)

type nopSleeper struct{}

func (nopSleeper) Sleep(time.Duration) {}

func simConfig() config.Config {
	cfg := config.Default()
	cfg.Hardware.Backend = config.BackendSim
	cfg.Hardware.Servo.Settle = config.Duration(time.Millisecond)
	cfg.Executor.Dwell = config.Duration(time.Millisecond)
	return cfg
}

func openSim(t *testing.T, cfg config.Config) *hardware {
	t.Helper()
	hw, err := openHardware(context.Background(), cfg, movement.Env{Sleeper: nopSleeper{}})
	require.NoError(t, err)
	require.NotNil(t, hw.sys)
	return hw
}

func TestPlanFrame(t *testing.T) {
	layout := `{
		"grid":        [[1, 2], [3, 4]],
		"initial":     [[2, 1], [3, 4]],
		"destination": [[1, 2], [3, 4]],
		"rotation":    [[90, 0], [0, 0]]
	}`
	frame, err := planFrame([]byte(layout))
	require.NoError(t, err)
	assert.Equal(t, protocol.NewPlan([]protocol.Move{
		{SrcCol: 0, SrcRow: 0, DstCol: 1, DstRow: 0, Rot: 90},
		{SrcCol: 1, SrcRow: 0, DstCol: 0, DstRow: 0, Rot: 0},
	}), frame, "nearest source to the homed corner first")

	ordered := strings.Replace(layout, `"grid"`, `"order": [1, 2], "grid"`, 1)
	frame, err = planFrame([]byte(ordered))
	require.NoError(t, err)
	assert.Equal(t, protocol.NewPlan([]protocol.Move{
		{SrcCol: 1, SrcRow: 0, DstCol: 0, DstRow: 0, Rot: 0},
		{SrcCol: 0, SrcRow: 0, DstCol: 1, DstRow: 0, Rot: 90},
	}), frame, "explicit order is kept")

	_, err = planFrame([]byte(`{"grid":[[1]],"initial":[[1]],"destination":[[2]]}`))
	assert.True(t, errors.Is(err, fault.ErrPlanValidation))

	_, err = planFrame([]byte(`{`))
	assert.True(t, errors.Is(err, fault.ErrPlanValidation))
}

func TestJog(t *testing.T) {
	hw := openSim(t, simConfig())
	defer hw.rig.Shutdown()

	in := strings.NewReader("home\nx 5\ny -1\nup\ndn 0.5\nservo 45\nbogus\nx\nhelp\nquit\nx 100\n")
	var out strings.Builder
	require.NoError(t, jog(context.Background(), hw.sys, in, &out))

	x, ok := hw.sys.X.Position()
	assert.True(t, ok)
	assert.InDelta(t, 7, x, 1e-9, "backoff plus 5mm")
	y, _ := hw.sys.Y.Position()
	assert.InDelta(t, 1, y, 1e-9)
	z, _ := hw.sys.Z.Position()
	assert.InDelta(t, 102.0/2048+0.5, z, 1e-9)

	s := out.String()
	assert.Contains(t, s, `unknown command "bogus"`)
	assert.Contains(t, s, "x needs an argument")
	assert.Equal(t, 6, strings.Count(s, "ok\n"))
}

func TestOfflineRun(t *testing.T) {
	cfg := simConfig()
	hw := openSim(t, cfg)
	loop, _, err := newLoop(cfg, hw, zap.NewNop().Sugar())
	require.NoError(t, err)

	plan := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(plan, []byte(`{"type":"PLAN","data":[
		{"src_col":0,"src_row":0,"dst_col":1,"dst_row":1,"rot":90},
		{"src_col":2,"src_row":0,"dst_col":0,"dst_row":2,"rot":0}
	]}`), 0o644))
	link := &control.FileLink{Path: plan}

	err = loop.Run(context.Background(), func(context.Context) (control.Link, error) { return link, nil })
	require.NoError(t, err)

	var got []string
	for _, s := range link.Statuses {
		got = append(got, s.String())
	}
	assert.Equal(t, []string{"READY", "HOMED", "DONE(1)", "DONE(2)", "FINISHED"}, got)
	assert.Equal(t, control.Finished, loop.State())
}

func TestOpenHardware_Grbl(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.Backend = config.BackendGrbl
	cfg.Hardware.Grbl.SPJS = "ws://localhost:1/ws"
	cfg.Hardware.Grbl.Port = ""
	_, err := openHardware(context.Background(), cfg, movement.Env{})
	assert.True(t, errors.Is(err, fault.ErrConfiguration))
}

func TestSurfaceMap(t *testing.T) {
	off, err := surfaceMap(config.Workspace{})
	require.NoError(t, err)
	assert.Equal(t, surface.Flat{}, off)

	off, err = surfaceMap(config.Workspace{Surface: []config.Point{
		{X: 0, Y: 0, Z: 1},
		{X: 100, Y: 0, Z: 2},
		{X: 0, Y: 100, Z: 1},
	}})
	require.NoError(t, err)
	dz, ok := off.OffsetZ(coord.Point{X: 50, Y: 10})
	assert.True(t, ok)
	assert.InDelta(t, 0.5, dz, 1e-9)

	_, err = surfaceMap(config.Workspace{Surface: []config.Point{{X: 0}, {X: 1}}})
	assert.Error(t, err)
}

func TestHostDialer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err == nil {
			c.Close()
		}
	}()
	addr := l.Addr().(*net.TCPAddr)

	link, err := hostDialer(config.Network{Host: "127.0.0.1", Port: addr.Port, Timeout: config.Duration(time.Second)})(context.Background())
	require.NoError(t, err)
	assert.NoError(t, link.Close())
}

func TestStatusAPI(t *testing.T) {
	api := newStatusAPI(zap.NewNop().Sugar())
	defer api.Close()
	srv := httptest.NewServer(api)
	defer srv.Close()

	api.StateChanged(control.Executing)
	api.StatusSent(protocol.StatusDone(2))
	api.VacuumLost(true)
	api.HomeReached("X", true)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var reply stateReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, "EXECUTING", reply.State)
	require.NotNil(t, reply.Status)
	assert.Equal(t, protocol.StatusDone(2), *reply.Status)
	assert.Equal(t, map[string]bool{"vacuum_lost": true, "home_X": true}, reply.Sensors)
	require.Len(t, reply.Events, 2)
	assert.Equal(t, "vacuum_lost", reply.Events[0].Sensor)

	resp404, err := http.Get(srv.URL + "/api/nope")
	require.NoError(t, err)
	resp404.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
}

func TestStatusAPI_Events(t *testing.T) {
	api := newStatusAPI(zap.NewNop().Sugar())
	defer api.Close()
	srv := httptest.NewServer(api)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/sensors")
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := make(chan string, 100)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// the stream registers asynchronously, so publish until one arrives
	deadline := time.After(5 * time.Second)
	for {
		api.EmergencyStop(true)
		select {
		case l := <-lines:
			if strings.HasPrefix(l, "data:") {
				assert.Contains(t, l, `"sensor":"emergency_stop"`)
				assert.Contains(t, l, `"active":true`)
				return
			}
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestStatusAPI_ConcurrentPublish(t *testing.T) {
	api := newStatusAPI(zap.NewNop().Sugar())
	defer api.Close()
	srv := httptest.NewServer(api)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/sensors")
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := make(chan string, 200)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "data:") {
				lines <- sc.Text()
			}
		}
	}()

	deadline := time.After(5 * time.Second)
wait:
	for {
		api.VacuumLost(true)
		select {
		case <-lines:
			break wait
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}

	var wg sync.WaitGroup
	for _, axis := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(axis string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				api.HomeReached(axis, i%2 == 0)
			}
		}(axis)
	}
	wg.Wait()

	got := make(map[string]int)
	for n := 0; n < 40; {
		select {
		case l := <-lines:
			if strings.Contains(l, `"sensor":"home_`) {
				got[l[strings.Index(l, "home_")+5:][:1]]++
				n++
			}
		case <-deadline:
			t.Fatalf("received %v", got)
		}
	}
	assert.Equal(t, map[string]int{"A": 10, "B": 10, "C": 10, "D": 10}, got)
}

func TestStatusAPI_Closed(t *testing.T) {
	api := newStatusAPI(zap.NewNop().Sugar())
	api.Close()
	api.Close()

	api.EmergencyStop(true)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest("GET", "/api/state", nil))
	assert.Contains(t, rec.Body.String(), `"emergency_stop":true`)
}

// okBoard acknowledges every line on one end of a pipe and records it.
func okBoard(t *testing.T) (*grbl.Controller, func() []string) {
	t.Helper()
	host, dev := net.Pipe()
	t.Cleanup(func() { dev.Close() })

	var mx sync.Mutex
	var lines []string
	go func() {
		br := bufio.NewReader(dev)
		for {
			l, err := br.ReadString('\n')
			if err != nil {
				return
			}
			mx.Lock()
			lines = append(lines, strings.TrimSpace(l))
			mx.Unlock()
			if _, err := dev.Write([]byte("ok\r\n")); err != nil {
				return
			}
		}
	}()
	return grbl.New(host, grbl.Config{}), func() []string {
		mx.Lock()
		defer mx.Unlock()
		return append([]string(nil), lines...)
	}
}

func TestGcodeConsole(t *testing.T) {
	c, sent := okBoard(t)
	defer c.Shutdown()

	in := strings.NewReader("home\ng0 x10 y5 ; go\n(note)\nM8\nM280 P0 S90\nX1 X2\nG0 Q\npos\nquit\nM9\n")
	var out strings.Builder
	require.NoError(t, gcodeConsole(context.Background(), c, in, &out))

	assert.Equal(t, []string{"$H", "G0 X10 Y5", "M8", "M280 P0 S90"}, sent())
	s := out.String()
	assert.Equal(t, 4, strings.Count(s, "ok\n"))
	assert.Equal(t, 2, strings.Count(s, "error:"))
	assert.Contains(t, s, "MPos:(10, 5, 0)")
	assert.Contains(t, s, "vacuum:on servo:90")
}
