package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/config"
	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/gcode"
	"github.com/mastercactapus/pickplace/machine/grbl"
	"github.com/mastercactapus/pickplace/movement"
)

type SendCommand struct {
	Home bool `long:"home" description:"Home the board before streaming"`
	Args struct {
		File string `positional-arg-name:"FILE" description:"gcode file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *SendCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Hardware.Backend != config.BackendGrbl {
		return fault.New(fault.Configuration, "send needs the grbl backend")
	}
	data, err := os.ReadFile(c.Args.File)
	if err != nil {
		return fault.Wrap(fault.Configuration, err, "read gcode")
	}
	blocks, err := gcode.Parse(string(data))
	if err != nil {
		return errors.Wrap(err, c.Args.File)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	hw, err := openHardware(ctx, cfg, movement.Env{Logger: log.Named("movement")})
	if err != nil {
		return err
	}
	ctrl := hw.rig.(*grbl.Controller)
	defer func() {
		if err := ctrl.Shutdown(); err != nil {
			log.Errorw("shutdown", "error", err)
		}
	}()

	if c.Home {
		if err := ctrl.HomeAll(ctx); err != nil {
			return err
		}
	}
	log.Infow("streaming", "file", c.Args.File, "blocks", len(blocks))
	if err := ctrl.Exec(ctx, blocks...); err != nil {
		return err
	}
	printModes(os.Stdout, ctrl)
	return nil
}

const consoleHelp = `enter gcode lines, or:
  pos    print position and modes
  home   run the homing cycle
  quit`

// gcodeConsole sends gcode typed on in to a grbl board, one line at a time.
// Errors are printed and the console carries on; a cancelled ctx ends it.
func gcodeConsole(ctx context.Context, c *grbl.Controller, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, consoleHelp)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		var err error
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "help", "?":
			fmt.Fprintln(out, consoleHelp)
			continue
		case "pos":
			printModes(out, c)
			continue
		case "home":
			err = c.HomeAll(ctx)
		default:
			var b gcode.Block
			b, err = gcode.ParseLine(line)
			if err == nil && b == nil {
				continue
			}
			if err == nil {
				err = c.Exec(ctx, b)
			}
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		fmt.Fprintln(out, "ok")
	}
}

func printModes(out io.Writer, c *grbl.Controller) {
	m := c.Modes()
	units, dist, vac := "mm", "abs", "off"
	if m.Inches {
		units = "in"
	}
	if m.Relative {
		dist = "rel"
	}
	if m.Vacuum {
		vac = "on"
	}
	servo := "-"
	if m.AngleSet {
		servo = fmt.Sprintf("%g", m.Angle)
	}
	fmt.Fprintf(out, "MPos:%s WPos:%s units:%s dist:%s feed:%g vacuum:%s servo:%s\n",
		c.Position(), m.WPos, units, dist, m.Feed, vac, servo)
}
