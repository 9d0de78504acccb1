// Package task holds the pick-and-place work model: tasks, the route
// planner and the executor that drives a machine.Controller through them.
package task

import (
	"fmt"
	"math"

	"github.com/mastercactapus/pickplace/coord"
)

// Task moves one piece. Tasks are values; nothing mutates one after New.
type Task struct {
	// ID identifies the task to the supervisory host (the 1-based plan
	// index for received plans, the piece id for layouts).
	ID int

	Source      coord.Point
	Destination coord.Point

	// Rotation is in degrees, always within [0, 360).
	Rotation float64
}

// New returns a task with its rotation normalized.
func New(id int, src, dst coord.Point, rot float64) Task {
	return Task{ID: id, Source: src, Destination: dst, Rotation: NormalizeRotation(rot)}
}

// NormalizeRotation maps any angle to [0, 360).
func NormalizeRotation(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// -0 and values that round up to 360
	if deg >= 360 || deg == 0 {
		return 0
	}
	return deg
}

func (t Task) String() string {
	return fmt.Sprintf("task %d: %s -> %s rot %g", t.ID, t.Source, t.Destination, t.Rotation)
}

// Plan is an ordered list of tasks and the tool position it starts from. A
// plan is built once and consumed once.
type Plan struct {
	Tasks  []Task
	Cursor coord.Point
}

// Travel returns the XY distance the tool covers running the plan: from the
// cursor to each source, and each source to its destination.
func (p Plan) Travel() float64 {
	var d float64
	cur := p.Cursor
	for _, t := range p.Tasks {
		d += cur.DistanceXY(t.Source) + t.Source.DistanceXY(t.Destination)
		cur = t.Destination
	}
	return d
}
