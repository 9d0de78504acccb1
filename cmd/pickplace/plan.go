package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/coord"
	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/protocol"
	"github.com/mastercactapus/pickplace/task"
)

type PlanCommand struct {
	Args struct {
		Layout string `positional-arg-name:"LAYOUT" description:"vision layout JSON file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *PlanCommand) Execute(args []string) error {
	data, err := os.ReadFile(c.Args.Layout)
	if err != nil {
		return fault.Wrap(fault.Configuration, err, "read layout")
	}
	frame, err := planFrame(data)
	if err != nil {
		return err
	}
	line, err := protocol.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(line)
	return err
}

// planFrame turns a vision layout into the PLAN frame the host would send.
// Without an explicit order the moves are routed nearest first from the
// homed corner.
func planFrame(layout []byte) (protocol.Plan, error) {
	var l task.Layout
	if err := json.Unmarshal(layout, &l); err != nil {
		return protocol.Plan{}, fault.Wrap(fault.PlanValidation, err, "decode layout")
	}
	tasks, err := task.FromLayout(l)
	if err != nil {
		return protocol.Plan{}, errors.Wrap(err, "layout")
	}
	if len(l.Order) == 0 {
		tasks = task.PlanRoute(tasks, coord.Point{}).Tasks
	}
	moves := make([]protocol.Move, len(tasks))
	for i, t := range tasks {
		moves[i] = protocol.Move{
			SrcCol: int(t.Source.X),
			SrcRow: int(t.Source.Y),
			DstCol: int(t.Destination.X),
			DstRow: int(t.Destination.Y),
			Rot:    int(t.Rotation),
		}
	}
	return protocol.NewPlan(moves), nil
}
