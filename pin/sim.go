package pin

import (
	"sync"

	"github.com/pkg/errors"
)

// Sim is an in-memory Chip used for bench runs without hardware and in tests.
//
// Outputs record their level and the number of rising edges; inputs return
// whatever was last set with SetInput, or a value produced by a Source.
type Sim struct {
	mx      sync.Mutex
	levels  map[int]bool
	rising  map[int]int
	duty    map[int]float64
	inputs  map[int]bool
	sources map[int]func() bool
	modes   map[int]string
	hooks   map[int]func(high bool)
	closed  bool
}

// NewSim returns an empty simulated chip.
func NewSim() *Sim {
	return &Sim{
		levels:  make(map[int]bool),
		rising:  make(map[int]int),
		duty:    make(map[int]float64),
		inputs:  make(map[int]bool),
		sources: make(map[int]func() bool),
		modes:   make(map[int]string),
		hooks:   make(map[int]func(bool)),
	}
}

type simOutput struct {
	s *Sim
	n int
}

func (o simOutput) Set(high bool) error {
	o.s.mx.Lock()
	if o.s.closed {
		o.s.mx.Unlock()
		return errors.New("sim: chip closed")
	}
	if high && !o.s.levels[o.n] {
		o.s.rising[o.n]++
	}
	o.s.levels[o.n] = high
	hook := o.s.hooks[o.n]
	o.s.mx.Unlock()
	if hook != nil {
		hook(high)
	}
	return nil
}

type simInput struct {
	s *Sim
	n int
}

func (i simInput) Read() (bool, error) {
	i.s.mx.Lock()
	src := i.s.sources[i.n]
	v := i.s.inputs[i.n]
	i.s.mx.Unlock()
	if src != nil {
		return src(), nil
	}
	return v, nil
}

type simPWM struct {
	s *Sim
	n int
}

func (p simPWM) SetDuty(fraction float64) error {
	p.s.mx.Lock()
	p.s.duty[p.n] = fraction
	p.s.mx.Unlock()
	return nil
}

func (s *Sim) Output(n int) (Output, error) {
	s.mx.Lock()
	s.modes[n] = "out"
	s.levels[n] = false
	s.mx.Unlock()
	return simOutput{s: s, n: n}, nil
}

func (s *Sim) Input(n int, pull Pull) (Input, error) {
	s.mx.Lock()
	s.modes[n] = "in"
	if _, ok := s.inputs[n]; !ok {
		s.inputs[n] = pull == PullUp
	}
	s.mx.Unlock()
	return simInput{s: s, n: n}, nil
}

func (s *Sim) PWM(n int, freqHz int) (PWM, error) {
	if freqHz <= 0 {
		return nil, errors.Errorf("invalid pwm frequency %d", freqHz)
	}
	s.mx.Lock()
	s.modes[n] = "pwm"
	s.mx.Unlock()
	return simPWM{s: s, n: n}, nil
}

func (s *Sim) Release(n int) error {
	s.mx.Lock()
	s.levels[n] = false
	s.duty[n] = 0
	s.modes[n] = "released"
	s.mx.Unlock()
	return nil
}

func (s *Sim) Close() error {
	s.mx.Lock()
	s.closed = true
	s.mx.Unlock()
	return nil
}

// SetInput sets the level returned by input n.
func (s *Sim) SetInput(n int, high bool) {
	s.mx.Lock()
	s.inputs[n] = high
	s.mx.Unlock()
}

// SetSource makes input n report the result of fn.
func (s *Sim) SetSource(n int, fn func() bool) {
	s.mx.Lock()
	s.sources[n] = fn
	s.mx.Unlock()
}

// OnSet registers fn to be called after every write to output n.
func (s *Sim) OnSet(n int, fn func(high bool)) {
	s.mx.Lock()
	s.hooks[n] = fn
	s.mx.Unlock()
}

// Level returns the current level of output n.
func (s *Sim) Level(n int) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.levels[n]
}

// Pulses returns the number of rising edges seen on output n.
func (s *Sim) Pulses(n int) int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.rising[n]
}

// Duty returns the last duty cycle written to PWM n.
func (s *Sim) Duty(n int) float64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.duty[n]
}

// Mode returns "out", "in", "pwm", "released" or "" for an unused pin.
func (s *Sim) Mode(n int) string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.modes[n]
}
