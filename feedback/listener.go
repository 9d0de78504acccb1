package feedback

// A Listener receives sensor edges. Methods are called from the monitor
// goroutine and must not block.
type Listener interface {
	// HomeReached reports a limit switch edge for the named axis.
	HomeReached(axis string, triggered bool)
	VacuumLost(lost bool)
	EmergencyStop(pressed bool)
}

// Funcs adapts plain functions to a Listener. Nil fields are ignored.
type Funcs struct {
	Home   func(axis string, triggered bool)
	Vacuum func(lost bool)
	Stop   func(pressed bool)
}

var _ Listener = Funcs{}

func (f Funcs) HomeReached(axis string, triggered bool) {
	if f.Home != nil {
		f.Home(axis, triggered)
	}
}

func (f Funcs) VacuumLost(lost bool) {
	if f.Vacuum != nil {
		f.Vacuum(lost)
	}
}

func (f Funcs) EmergencyStop(pressed bool) {
	if f.Stop != nil {
		f.Stop(pressed)
	}
}
