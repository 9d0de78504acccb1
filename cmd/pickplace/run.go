package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/config"
	"github.com/mastercactapus/pickplace/control"
	"github.com/mastercactapus/pickplace/coord"
	"github.com/mastercactapus/pickplace/feedback"
	"github.com/mastercactapus/pickplace/movement"
	"github.com/mastercactapus/pickplace/protocol"
	"github.com/mastercactapus/pickplace/surface"
	"github.com/mastercactapus/pickplace/task"
)

type RunCommand struct {
	Offline string `long:"offline" value-name:"PLAN" description:"Execute a plan file instead of connecting to the host"`
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hw, err := openHardware(ctx, cfg, movement.Env{Logger: log.Named("movement")})
	if err != nil {
		log.Errorw("open hardware", "backend", cfg.Hardware.Backend, "error", err)
		return err
	}
	loop, mon, err := newLoop(cfg, hw, log)
	if err != nil {
		_ = hw.rig.Shutdown()
		return err
	}

	if cfg.Status.Addr != "" {
		api := newStatusAPI(log.Named("status"))
		loop.Observe(api)
		mon.Register(api)
		srv := &http.Server{Addr: cfg.Status.Addr, Handler: api}
		go func() {
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("status api", "addr", cfg.Status.Addr, "error", err)
			}
		}()
		defer api.Close()
		defer srv.Close()
	}

	dial := hostDialer(cfg.Network)
	if c.Offline != "" {
		link := &control.FileLink{Path: c.Offline, Log: log.Named("offline")}
		dial = func(context.Context) (control.Link, error) { return link, nil }
	}
	return loop.Run(ctx, dial)
}

func hostDialer(n config.Network) control.Dialer {
	addr := net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
	return func(ctx context.Context) (control.Link, error) {
		conn, err := protocol.Dial(ctx, addr, n.Timeout.D())
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// surfaceMap builds the table height map. Probe heights are taken relative
// to the first point, where pick and place heights are calibrated.
func surfaceMap(ws config.Workspace) (surface.Offsetter, error) {
	if len(ws.Surface) == 0 {
		return surface.Flat{}, nil
	}
	pts := make([]coord.Point, len(ws.Surface))
	for i, p := range ws.Surface {
		pts[i] = coord.Point{X: p.X, Y: p.Y, Z: p.Z}
	}
	m, err := surface.NewMesh(surface.Relative(pts[0].Z, pts))
	if err != nil {
		return nil, errors.Wrap(err, "workspace surface")
	}
	return m, nil
}

// newLoop wires the monitor, executor and control loop around hw.
func newLoop(cfg config.Config, hw *hardware, log *zap.SugaredLogger) (*control.Loop, *feedback.Monitor, error) {
	surf, err := surfaceMap(cfg.Workspace)
	if err != nil {
		return nil, nil, err
	}
	mon := feedback.New(hw.sensors, feedback.Config{
		Period: cfg.Hardware.Sensors.Poll.D(),
		Logger: log.Named("feedback"),
	})
	ex := cfg.Executor
	exec := task.NewExecutor(hw.rig, task.ExecutorConfig{
		SafeZ:         ex.SafeZ,
		PickZ:         ex.PickZ,
		PlaceZ:        ex.PlaceZ,
		TravelFeed:    ex.TravelFeed,
		PlungeFeed:    ex.PlungeFeed,
		Dwell:         ex.Dwell.D(),
		ResetRotation: ex.ResetRotation,
		Surface:       surf,
		Logger:        log.Named("task"),
	})
	ws := cfg.Workspace
	loop := control.New(hw.rig, exec, mon, control.Config{
		Who:       cfg.Network.Who,
		Grid:      task.Grid{Origin: coord.Point{X: ws.OriginX, Y: ws.OriginY}, Cell: ws.Cell},
		Workspace: task.NewWorkspace(ws.Width, ws.Height),
		Replan:    ex.Replan,
		Logger:    log.Named("control"),
	})
	return loop, mon, nil
}
