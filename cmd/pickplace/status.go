package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/control"
	"github.com/mastercactapus/pickplace/feedback"
	"github.com/mastercactapus/pickplace/protocol"
)

const (
	maxSensorEvents = 50
	eventBuffer     = 256
)

type outgoing struct {
	channel string
	data    string
}

type sensorEvent struct {
	Time   time.Time `json:"time"`
	Sensor string    `json:"sensor"`
	Active bool      `json:"active"`
}

type stateReply struct {
	State   string           `json:"state"`
	Status  *protocol.Status `json:"status,omitempty"`
	Sensors map[string]bool  `json:"sensors"`
	Events  []sensorEvent    `json:"events"`
}

// statusAPI serves the run state over HTTP. It observes the control loop
// and listens to the feedback monitor.
//
// Events from both goroutines are queued and handed to the SSE server by a
// single sender; sse.Server.SendMessage is not safe for concurrent callers.
type statusAPI struct {
	http.Handler
	sse *sse.Server
	log *zap.SugaredLogger

	out       chan outgoing
	done      chan struct{}
	sent      chan struct{}
	closeOnce sync.Once

	mx      sync.Mutex
	state   control.State
	last    *protocol.Status
	sensors map[string]bool
	events  []sensorEvent
}

var (
	_ control.Observer  = (*statusAPI)(nil)
	_ feedback.Listener = (*statusAPI)(nil)
)

func newStatusAPI(log *zap.SugaredLogger) *statusAPI {
	r := mux.NewRouter()
	stdLog, err := zap.NewStdLogAt(log.Desugar(), zap.DebugLevel)
	if err != nil {
		// only fails for an invalid level
		panic(err)
	}
	a := &statusAPI{
		Handler: r,
		log:     log,
		sse:     sse.NewServer(&sse.Options{Logger: stdLog}),
		sensors: make(map[string]bool),
		out:     make(chan outgoing, eventBuffer),
		done:    make(chan struct{}),
		sent:    make(chan struct{}),
	}

	r.HandleFunc("/api/state", a.getState).Methods("GET")
	r.PathPrefix("/events/").Handler(a.sse)

	go a.sendLoop()
	return a
}

func (a *statusAPI) sendLoop() {
	defer close(a.sent)
	for {
		select {
		case <-a.done:
			return
		case o := <-a.out:
			a.sse.SendMessage(o.channel, sse.SimpleMessage(o.data))
		}
	}
}

func (a *statusAPI) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		<-a.sent
		a.sse.Shutdown()
	})
}

// publish queues v for channel. It never blocks; events are dropped when
// the queue is full or the API is closed.
func (a *statusAPI) publish(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		a.log.Errorw("marshal event", "channel", channel, "err", err)
		return
	}
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.out <- outgoing{channel: channel, data: string(data)}:
	default:
		a.log.Warnw("event queue full, dropping event", "channel", channel)
	}
}

func (a *statusAPI) StateChanged(s control.State) {
	a.mx.Lock()
	a.state = s
	a.mx.Unlock()
	a.publish("/events/status", map[string]string{"state": s.String()})
}

func (a *statusAPI) StatusSent(s protocol.Status) {
	a.mx.Lock()
	a.last = &s
	a.mx.Unlock()
	a.publish("/events/status", s)
}

func (a *statusAPI) sensor(name string, active bool) {
	ev := sensorEvent{Time: time.Now(), Sensor: name, Active: active}
	a.mx.Lock()
	a.sensors[name] = active
	a.events = append(a.events, ev)
	if len(a.events) > maxSensorEvents {
		a.events = a.events[len(a.events)-maxSensorEvents:]
	}
	a.mx.Unlock()
	a.publish("/events/sensors", ev)
}

func (a *statusAPI) HomeReached(axis string, triggered bool) { a.sensor("home_"+axis, triggered) }
func (a *statusAPI) VacuumLost(lost bool)                    { a.sensor("vacuum_lost", lost) }
func (a *statusAPI) EmergencyStop(pressed bool)              { a.sensor("emergency_stop", pressed) }

func (a *statusAPI) getState(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	reply := stateReply{
		State:   a.state.String(),
		Status:  a.last,
		Sensors: make(map[string]bool, len(a.sensors)),
		Events:  append([]sensorEvent{}, a.events...),
	}
	for k, v := range a.sensors {
		reply.Sensors[k] = v
	}
	a.mx.Unlock()

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(reply)
	if err != nil {
		a.log.Errorw("encode state", "err", err)
	}
}
