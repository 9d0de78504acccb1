package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/config"
	"github.com/mastercactapus/pickplace/machine/grbl"
	"github.com/mastercactapus/pickplace/movement"
)

type JogCommand struct {
	Home bool `long:"home" description:"Home all axes before accepting commands"`
}

const jogHelp = `commands:
  x MM       move X by MM
  y MM       move Y by MM
  up [REV]   raise Z (default 1 revolution)
  dn [REV]   lower Z (default 1 revolution)
  pick       lower, suction on, raise
  place      lower, suction off, raise
  servo DEG  rotate the tool to DEG
  home       home all axes
  quit`

func (c *JogCommand) Execute(args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	hw, err := openHardware(ctx, cfg, movement.Env{Logger: log.Named("movement")})
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.rig.Shutdown(); err != nil {
			log.Errorw("shutdown", "error", err)
		}
	}()

	if c.Home {
		if err := hw.rig.HomeAll(ctx); err != nil {
			return errors.Wrap(err, "home")
		}
	}
	if ctrl, ok := hw.rig.(*grbl.Controller); ok {
		return gcodeConsole(ctx, ctrl, os.Stdin, os.Stdout)
	}
	return jog(ctx, hw.sys, os.Stdin, os.Stdout)
}

// jog reads commands from in until quit or EOF. Command errors are printed
// and the console carries on; a cancelled ctx ends it.
func jog(ctx context.Context, sys *movement.System, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, jogHelp)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "help", "?":
			fmt.Fprintln(out, jogHelp)
			continue
		}
		err := jogCommand(ctx, sys, fields)
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

func jogArg(fields []string, def float64, hasDef bool) (float64, error) {
	if len(fields) < 2 {
		if hasDef {
			return def, nil
		}
		return 0, errors.Errorf("%s needs an argument", fields[0])
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, errors.Errorf("%s: invalid number %q", fields[0], fields[1])
	}
	return v, nil
}

func jogCommand(ctx context.Context, sys *movement.System, fields []string) error {
	switch fields[0] {
	case "x", "y":
		mm, err := jogArg(fields, 0, false)
		if err != nil {
			return err
		}
		if fields[0] == "x" {
			return sys.MoveXYZ(ctx, mm, 0, 0)
		}
		return sys.MoveXYZ(ctx, 0, mm, 0)
	case "up", "dn":
		rev, err := jogArg(fields, 1, true)
		if err != nil {
			return err
		}
		if fields[0] == "dn" {
			rev = -rev
		}
		return sys.MoveXYZ(ctx, 0, 0, rev)
	case "pick":
		return sys.Pick(ctx)
	case "place":
		return sys.Place(ctx)
	case "servo":
		deg, err := jogArg(fields, 0, false)
		if err != nil {
			return err
		}
		return sys.Rotate(ctx, deg)
	case "home":
		return sys.HomeAll(ctx)
	}
	return errors.Errorf("unknown command %q (try help)", fields[0])
}
