// Package protocol is the newline-delimited JSON session with the
// supervisory host.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/fault"
)

// Frame types.
const (
	TypeHello = "HELLO"
	TypePlan  = "PLAN"
)

type Hello struct {
	Type string `json:"type"`
	Who  string `json:"who"`
}

// Move is one entry of a PLAN frame, in grid cells.
type Move struct {
	SrcCol int `json:"src_col"`
	SrcRow int `json:"src_row"`
	DstCol int `json:"dst_col"`
	DstRow int `json:"dst_row"`
	Rot    int `json:"rot"`
}

type Plan struct {
	Type string `json:"type"`
	Data []Move `json:"data"`
}

// NewPlan returns a PLAN frame.
func NewPlan(moves []Move) Plan {
	if moves == nil {
		moves = []Move{}
	}
	return Plan{Type: TypePlan, Data: moves}
}

// ParsePlan decodes a PLAN frame. A bare JSON array of moves is accepted
// as well, for hosts that send the list alone.
func ParsePlan(line []byte) (Plan, error) {
	line = bytes.TrimSpace(line)
	if len(line) > 0 && line[0] == '[' {
		var moves []Move
		if err := json.Unmarshal(line, &moves); err != nil {
			return Plan{}, fault.Wrap(fault.PlanValidation, err, "decode plan")
		}
		return NewPlan(moves), nil
	}

	var p Plan
	if err := json.Unmarshal(line, &p); err != nil {
		return Plan{}, fault.Wrap(fault.PlanValidation, err, "decode plan")
	}
	if p.Type != TypePlan {
		return Plan{}, fault.Errorf(fault.PlanValidation, "expected %s frame, got %q", TypePlan, p.Type)
	}
	if p.Data == nil {
		p.Data = []Move{}
	}
	return p, nil
}

// Kind is the discriminant of a Status.
type Kind string

const (
	Ready    Kind = "READY"
	Homed    Kind = "HOMED"
	Done     Kind = "DONE"
	Finished Kind = "FINISHED"
	Error    Kind = "ERROR"
)

// Status reports progress to the host. Move is set for DONE, Msg for ERROR.
type Status struct {
	Status Kind   `json:"status"`
	Move   int    `json:"move,omitempty"`
	Msg    string `json:"msg,omitempty"`
}

func StatusReady() Status        { return Status{Status: Ready} }
func StatusHomed() Status        { return Status{Status: Homed} }
func StatusDone(move int) Status { return Status{Status: Done, Move: move} }
func StatusFinished() Status     { return Status{Status: Finished} }

const unknownError = "unknown error"

// StatusError reports err.
func StatusError(err error) Status {
	s := Status{Status: Error, Msg: unknownError}
	if err != nil && err.Error() != "" {
		s.Msg = err.Error()
	}
	return s
}

// MarshalJSON always writes msg on ERROR.
func (s Status) MarshalJSON() ([]byte, error) {
	type status Status
	if s.Status != Error {
		return json.Marshal(status(s))
	}
	if s.Msg == "" {
		s.Msg = unknownError
	}
	return json.Marshal(struct {
		Status Kind   `json:"status"`
		Msg    string `json:"msg"`
	}{s.Status, s.Msg})
}

func (s Status) String() string {
	switch s.Status {
	case Done:
		return "DONE(" + strconv.Itoa(s.Move) + ")"
	case Error:
		return "ERROR(" + s.Msg + ")"
	}
	return string(s.Status)
}

// ParseStatus decodes a status line.
func ParseStatus(line []byte) (Status, error) {
	var s Status
	if err := json.Unmarshal(bytes.TrimSpace(line), &s); err != nil {
		return s, errors.Wrap(err, "decode status")
	}
	switch s.Status {
	case Ready, Homed, Done, Finished, Error:
	default:
		return s, errors.Errorf("unknown status %q", s.Status)
	}
	return s, nil
}
