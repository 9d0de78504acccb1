// Package config loads the machine configuration file.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mastercactapus/pickplace/fault"
)

// Duration is a time.Duration written as "600us", "10s" and so on.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", n.Line)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Hardware  Hardware  `yaml:"hardware"`
	Motion    Motion    `yaml:"motion"`
	Network   Network   `yaml:"network"`
	Workspace Workspace `yaml:"workspace"`
	Executor  Executor  `yaml:"executor"`
	Log       Log       `yaml:"log"`
	Status    Status    `yaml:"status"`
}

// Backends for Hardware.Backend.
const (
	BackendGPIO = "gpio"
	BackendSim  = "sim"
	BackendGrbl = "grbl"
)

type Hardware struct {
	// Backend is gpio (Raspberry Pi lines), sim (in-memory lines) or grbl
	// (an external motion controller).
	Backend string `yaml:"backend"`

	X     StepAxis `yaml:"x"`
	Y     StepAxis `yaml:"y"`
	Z     CoilAxis `yaml:"z"`
	Servo Servo    `yaml:"servo"`
	Pump  Pump     `yaml:"pump"`

	Sensors Sensors `yaml:"sensors"`
	Grbl    Grbl    `yaml:"grbl"`
}

type StepLine struct {
	Dir  int `yaml:"dir"`
	Step int `yaml:"step"`
}

// StepAxis is an axis of one or more step/dir drivers moving together.
type StepAxis struct {
	Lines []StepLine `yaml:"lines"`

	// Home is the limit switch pin, -1 for none.
	Home int `yaml:"home"`
	// NormallyClosed switches read high while not pressed.
	NormallyClosed bool `yaml:"normally_closed"`

	HomeDirection string `yaml:"home_direction"`
	Reverse       bool   `yaml:"reverse"`

	StepsPerRev int     `yaml:"steps_per_rev"`
	Microstep   int     `yaml:"microstep"`
	Pitch       float64 `yaml:"pitch"`
}

// StepsPerMM derives the scale from the drive train.
func (a StepAxis) StepsPerMM() float64 {
	return float64(a.StepsPerRev*a.Microstep) / a.Pitch
}

// CoilAxis is the Z axis, a unipolar stepper on a lead screw.
type CoilAxis struct {
	Coils          [4]int `yaml:"coils"`
	Home           int    `yaml:"home"`
	NormallyClosed bool   `yaml:"normally_closed"`
	HomeDirection  string `yaml:"home_direction"`

	StepsPerRev int      `yaml:"steps_per_rev"`
	MMPerRev    float64  `yaml:"mm_per_rev"`
	StepDelay   Duration `yaml:"step_delay"`
}

type Servo struct {
	// Kind is pwm (hobby servo on a PWM pin) or bus (Feetech STS bus servo).
	Kind string `yaml:"kind"`

	Pin      int      `yaml:"pin"`
	FreqHz   int      `yaml:"freq_hz"`
	MinPulse Duration `yaml:"min_pulse"`
	MaxPulse Duration `yaml:"max_pulse"`
	Settle   Duration `yaml:"settle"`

	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	ID       int    `yaml:"id"`
}

type Pump struct {
	// Kind is hbridge (TB6612 channel A) or relay.
	Kind string `yaml:"kind"`

	PWM    int `yaml:"pwm"`
	In1    int `yaml:"in1"`
	In2    int `yaml:"in2"`
	Stby   int `yaml:"stby"`
	FreqHz int `yaml:"freq_hz"`

	Relay     int  `yaml:"relay"`
	ActiveLow bool `yaml:"active_low"`
}

// Sensors are the safety inputs watched during a run. -1 disables one.
//
// Both are read with the pull-up enabled. A normally closed contact to ground
// reads high when the vacuum is lost or the button is pressed.
type Sensors struct {
	VacuumLost     int  `yaml:"vacuum_lost"`
	EmergencyStop  int  `yaml:"emergency_stop"`
	NormallyClosed bool `yaml:"normally_closed"`

	Poll Duration `yaml:"poll"`
}

type Grbl struct {
	// Port is a serial device; empty picks the first port found.
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`

	// SPJS, if set, is the URL of a serial-port-json-server used instead
	// of a local port.
	SPJS string `yaml:"spjs"`

	ServoChannel int      `yaml:"servo_channel"`
	Poll         Duration `yaml:"poll"`
}

type Motion struct {
	Base      Duration `yaml:"base"`
	Floor     Duration `yaml:"floor"`
	HomeDelay Duration `yaml:"home_delay"`

	Clearance  float64  `yaml:"clearance"`
	PickDwell  Duration `yaml:"pick_dwell"`
	PlaceDwell Duration `yaml:"place_dwell"`

	BackoffXY float64 `yaml:"backoff_xy"`
	BackoffZ  float64 `yaml:"backoff_z"`
}

type Network struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Timeout Duration `yaml:"timeout"`
	Who     string   `yaml:"who"`
}

type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type Workspace struct {
	Cell    float64 `yaml:"cell"`
	OriginX float64 `yaml:"origin_x"`
	OriginY float64 `yaml:"origin_y"`

	// Width and Height bound the reachable XY area from the homed corner.
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`

	// Surface holds probed table heights. Pick and place heights are
	// calibrated at the first point.
	Surface []Point `yaml:"surface,omitempty"`
}

type Executor struct {
	SafeZ  float64 `yaml:"safe_z"`
	PickZ  float64 `yaml:"pick_z"`
	PlaceZ float64 `yaml:"place_z"`

	TravelFeed float64  `yaml:"travel_feed"`
	PlungeFeed float64  `yaml:"plunge_feed"`
	Dwell      Duration `yaml:"dwell"`

	ResetRotation bool `yaml:"reset_rotation"`
	Replan        bool `yaml:"replan"`
}

type Log struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

type Status struct {
	// Addr enables the status API when set, e.g. ":8080".
	Addr string `yaml:"addr"`
}

// Default returns the configuration of the reference machine.
func Default() Config {
	return Config{
		Hardware: Hardware{
			Backend: BackendGPIO,
			X: StepAxis{
				Lines:          []StepLine{{Dir: 27, Step: 17}, {Dir: 23, Step: 22}},
				Home:           5,
				NormallyClosed: true,
				HomeDirection:  "negative",
				StepsPerRev:    200,
				Microstep:      16,
				Pitch:          8,
			},
			Y: StepAxis{
				Lines:          []StepLine{{Dir: 6, Step: 16}},
				Home:           25,
				NormallyClosed: true,
				HomeDirection:  "negative",
				StepsPerRev:    200,
				Microstep:      16,
				Pitch:          8,
			},
			Z: CoilAxis{
				Coils:          [4]int{8, 7, 12, 13},
				Home:           24,
				NormallyClosed: true,
				HomeDirection:  "negative",
				StepsPerRev:    2048,
				MMPerRev:       8,
				StepDelay:      Duration(time.Millisecond),
			},
			Servo: Servo{
				Kind:     "pwm",
				Pin:      18,
				FreqHz:   50,
				MinPulse: Duration(500 * time.Microsecond),
				MaxPulse: Duration(2500 * time.Microsecond),
				Settle:   Duration(800 * time.Millisecond),
				BaudRate: 1000000,
				ID:       1,
			},
			Pump: Pump{
				Kind:      "hbridge",
				PWM:       19,
				In1:       26,
				In2:       20,
				Stby:      21,
				FreqHz:    1000,
				Relay:     4,
				ActiveLow: true,
			},
			Sensors: Sensors{
				VacuumLost:     14,
				EmergencyStop:  3,
				NormallyClosed: true,
				Poll:           Duration(10 * time.Millisecond),
			},
			Grbl: Grbl{
				BaudRate:     115200,
				ServoChannel: 0,
				Poll:         Duration(200 * time.Millisecond),
			},
		},
		Motion: Motion{
			Base:       Duration(600 * time.Microsecond),
			Floor:      Duration(50 * time.Microsecond),
			HomeDelay:  Duration(2 * time.Millisecond),
			Clearance:  2,
			PickDwell:  Duration(300 * time.Millisecond),
			PlaceDwell: Duration(200 * time.Millisecond),
			BackoffXY:  2,
			BackoffZ:   0.05,
		},
		Network: Network{
			Host:    "192.168.1.50",
			Port:    5000,
			Timeout: Duration(10 * time.Second),
			Who:     "pickplace",
		},
		Workspace: Workspace{
			Cell:    30,
			OriginX: 10,
			OriginY: 10,
			Width:   300,
			Height:  300,
		},
		Executor: Executor{
			SafeZ:         16,
			PickZ:         0.5,
			PlaceZ:        0.5,
			TravelFeed:    3000,
			PlungeFeed:    600,
			Dwell:         Duration(300 * time.Millisecond),
			ResetRotation: true,
		},
		Log: Log{
			File:  "/tmp/pickplace.log",
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fault.Wrap(fault.Configuration, err, "read config")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fault.Wrap(fault.Configuration, err, "parse config")
	}
	return cfg, cfg.Validate()
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
