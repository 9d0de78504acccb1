package main

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/config"
	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/feedback"
	"github.com/mastercactapus/pickplace/machine"
	"github.com/mastercactapus/pickplace/machine/grbl"
	"github.com/mastercactapus/pickplace/movement"
	"github.com/mastercactapus/pickplace/pin"
	"github.com/mastercactapus/pickplace/spjs"
)

const grblReadyTimeout = 5 * time.Second

// hardware is an opened backend. sys is nil for the grbl backend.
type hardware struct {
	rig     machine.Rig
	sensors feedback.Sensors
	sys     *movement.System
}

func openHardware(ctx context.Context, cfg config.Config, env movement.Env) (*hardware, error) {
	if env.Logger == nil {
		env.Logger = zap.NewNop().Sugar()
	}
	var chip pin.Chip
	switch cfg.Hardware.Backend {
	case config.BackendGrbl:
		return openGrbl(ctx, cfg.Hardware.Grbl, env.Logger)
	case config.BackendSim:
		chip = simChip(cfg.Hardware)
	default:
		rpio, err := pin.OpenRPIO()
		if err != nil {
			return nil, err
		}
		chip = rpio
	}

	m, err := movement.Build(ctx, pin.NewRegistry(chip), cfg, env)
	if err != nil {
		return nil, err
	}
	ctrl, err := movement.NewController(m.System, cfg.Hardware.Z.MMPerRev)
	if err != nil {
		_ = m.Shutdown()
		return nil, fault.Wrap(fault.Configuration, err, "controller")
	}
	return &hardware{rig: ctrl, sensors: m.Sensors, sys: m.System}, nil
}

// simChip returns simulated lines with every home switch already
// triggered, so homing completes at once, and the safety sensors idle.
func simChip(hw config.Hardware) *pin.Sim {
	sim := pin.NewSim()
	// active is raw high for normally closed switches read through a pull-up
	sim.SetInput(hw.X.Home, hw.X.NormallyClosed)
	sim.SetInput(hw.Y.Home, hw.Y.NormallyClosed)
	sim.SetInput(hw.Z.Home, hw.Z.NormallyClosed)
	for _, n := range []int{hw.Sensors.VacuumLost, hw.Sensors.EmergencyStop} {
		if n >= 0 {
			sim.SetInput(n, !hw.Sensors.NormallyClosed)
		}
	}
	return sim
}

func openGrbl(ctx context.Context, g config.Grbl, log *zap.SugaredLogger) (*hardware, error) {
	var rw io.ReadWriteCloser
	if g.SPJS != "" {
		if g.Port == "" {
			return nil, fault.New(fault.Configuration, "grbl: spjs needs a port name")
		}
		sp := spjs.New(g.SPJS, spjs.Config{Logger: log.Named("spjs")})
		rw = grbl.NewSPJSPort(sp, g.Port, g.BaudRate, log.Named("spjs"))
	} else {
		port := g.Port
		if port == "" {
			ports, err := grbl.Ports()
			if err != nil {
				return nil, err
			}
			port, err = grbl.DetectPort(ports)
			if err != nil {
				return nil, err
			}
			log.Infow("detected serial port", "port", port)
		}
		var err error
		rw, err = grbl.OpenSerial(port, g.BaudRate)
		if err != nil {
			return nil, err
		}
	}

	c := grbl.New(rw, grbl.Config{
		ServoChannel: g.ServoChannel,
		Poll:         g.Poll.D(),
		Logger:       log.Named("grbl"),
	})
	wctx, cancel := context.WithTimeout(ctx, grblReadyTimeout)
	defer cancel()
	if err := c.WaitReady(wctx); err != nil {
		_ = c.Shutdown()
		return nil, err
	}

	// limit pins home the axes, the probe input carries the vacuum switch
	// and the reset input the emergency stop
	return &hardware{
		rig: c,
		sensors: feedback.Sensors{
			Home: map[string]pin.Input{
				"X": c.Input('X'),
				"Y": c.Input('Y'),
				"Z": c.Input('Z'),
			},
			VacuumLost:    c.Input('P'),
			EmergencyStop: c.Input('R'),
		},
	}, nil
}
