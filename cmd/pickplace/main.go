package main

import (
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/mastercactapus/pickplace/config"
)

type Options struct {
	ConfigFile string `short:"c" long:"config" value-name:"FILE" description:"YAML configuration file"`
	Backend    string `long:"backend" choice:"gpio" choice:"sim" choice:"grbl" description:"Override hardware.backend"`
	Verbose    bool   `short:"v" long:"verbose" description:"Log at debug level"`

	Run   RunCommand    `command:"run" description:"Connect to the host and execute one job"`
	Jog   JogCommand    `command:"jog" description:"Interactive motion console (raw gcode on grbl)"`
	Send  SendCommand   `command:"send" description:"Stream a gcode file to the grbl backend"`
	Plan  PlanCommand   `command:"plan" description:"Print the PLAN frame for a vision layout"`
	Ports PortsCommand  `command:"ports" description:"List serial ports"`
	Dump  ConfigCommand `command:"config" description:"Print the effective configuration"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "pickplace - pick-and-place machine controller"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies the global
// flags on top.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return cfg, err
	}
	if opts.Backend != "" {
		cfg.Hardware.Backend = opts.Backend
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}
