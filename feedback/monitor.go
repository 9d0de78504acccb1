// Package feedback watches the safety sensors of the machine and reports
// every change to registered listeners.
package feedback

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/pin"
)

// DefaultPeriod is the polling period (100 Hz).
const DefaultPeriod = 10 * time.Millisecond

// ErrJoinTimeout is returned by Close when the polling goroutine did not exit
// in time.
var ErrJoinTimeout = errors.New("feedback: monitor did not stop in time")

// Sensors are the inputs to watch. Any of them may be nil or empty.
type Sensors struct {
	// Home maps an axis name to its limit switch.
	Home          map[string]pin.Input
	VacuumLost    pin.Input
	EmergencyStop pin.Input
}

type Config struct {
	Period      time.Duration
	JoinTimeout time.Duration
	Clock       clock.Clock
	Logger      *zap.SugaredLogger
}

type kind int

const (
	kindHome kind = iota
	kindVacuum
	kindStop
)

type sensor struct {
	name string
	kind kind
	axis string
	in   pin.Input

	value   bool
	failing bool
}

// Monitor polls sensors at a fixed period. It only reports edges; what to do
// about them is up to the listeners.
type Monitor struct {
	cfg Config
	log *zap.SugaredLogger

	mx        sync.Mutex
	sensors   []*sensor
	listeners []Listener

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New returns a monitor for s. Every sensor starts out inactive, so an input
// already active at the first poll is reported as an edge.
func New(s Sensors, cfg Config) *Monitor {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	m := &Monitor{
		cfg:  cfg,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	axes := make([]string, 0, len(s.Home))
	for name, in := range s.Home {
		if in != nil {
			axes = append(axes, name)
		}
	}
	sort.Strings(axes)
	for _, name := range axes {
		m.sensors = append(m.sensors, &sensor{name: "home_" + name, kind: kindHome, axis: name, in: s.Home[name]})
	}
	if s.VacuumLost != nil {
		m.sensors = append(m.sensors, &sensor{name: "vacuum_lost", kind: kindVacuum, in: s.VacuumLost})
	}
	if s.EmergencyStop != nil {
		m.sensors = append(m.sensors, &sensor{name: "emergency_stop", kind: kindStop, in: s.EmergencyStop})
	}
	return m
}

// Register adds l to the listeners notified of every edge.
func (m *Monitor) Register(l Listener) {
	m.mx.Lock()
	m.listeners = append(m.listeners, l)
	m.mx.Unlock()
}

// Values returns the last observed value of every sensor by name.
func (m *Monitor) Values() map[string]bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	res := make(map[string]bool, len(m.sensors))
	for _, s := range m.sensors {
		res[s.name] = s.value
	}
	return res
}

type edge struct {
	s     *sensor
	value bool
}

// Poll reads every sensor once and notifies listeners of each change.
func (m *Monitor) Poll() {
	m.mx.Lock()
	var edges []edge
	for _, s := range m.sensors {
		v, err := s.in.Read()
		if err != nil {
			if !s.failing {
				m.log.Errorw("sensor read failed", "sensor", s.name, "error", err)
			}
			s.failing = true
			continue
		}
		s.failing = false
		if v == s.value {
			continue
		}
		s.value = v
		edges = append(edges, edge{s: s, value: v})
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mx.Unlock()

	for _, e := range edges {
		m.log.Infow("sensor changed", "sensor", e.s.name, "value", e.value)
		for _, l := range listeners {
			switch e.s.kind {
			case kindHome:
				l.HomeReached(e.s.axis, e.value)
			case kindVacuum:
				l.VacuumLost(e.value)
			case kindStop:
				l.EmergencyStop(e.value)
			}
		}
	}
}

// Start begins polling in a new goroutine. Calling it again has no effect.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.loop()
	})
}

func (m *Monitor) loop() {
	defer close(m.done)
	t := m.cfg.Clock.Ticker(m.cfg.Period)
	defer t.Stop()

	m.Poll()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.Poll()
		}
	}
}

// Close stops polling and waits up to the join timeout for the goroutine to
// exit.
func (m *Monitor) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })

	started := true
	m.startOnce.Do(func() {
		started = false
		close(m.done)
	})
	if !started {
		return nil
	}

	select {
	case <-m.done:
		return nil
	case <-time.After(m.cfg.JoinTimeout):
		m.log.Errorw("monitor close", "error", ErrJoinTimeout)
		return ErrJoinTimeout
	}
}
