package task

import (
	"github.com/golang/geo/r2"

	"github.com/mastercactapus/pickplace/coord"
	"github.com/mastercactapus/pickplace/fault"
)

// Grid maps board cells to machine millimeters.
type Grid struct {
	Origin coord.Point
	Cell   float64
}

// Point returns the center of the cell at col, row.
func (g Grid) Point(col, row int) coord.Point {
	return coord.Point{
		X: g.Origin.X + float64(col)*g.Cell,
		Y: g.Origin.Y + float64(row)*g.Cell,
	}
}

// Workspace is the reachable XY area of the machine. The zero value accepts
// every point.
type Workspace struct {
	bounds  r2.Rect
	bounded bool
}

// NewWorkspace returns the rectangle from the homed corner to width, height.
// A zero size disables the check.
func NewWorkspace(width, height float64) Workspace {
	if width <= 0 || height <= 0 {
		return Workspace{}
	}
	return Workspace{
		bounds:  r2.RectFromPoints(r2.Point{}, r2.Point{X: width, Y: height}),
		bounded: true,
	}
}

// Contains reports whether p is reachable.
func (w Workspace) Contains(p coord.Point) bool {
	return !w.bounded || w.bounds.ContainsPoint(r2.Point{X: p.X, Y: p.Y})
}

// Check rejects tasks with a source or destination outside the workspace.
func (w Workspace) Check(tasks []Task) error {
	for _, t := range tasks {
		for _, p := range []coord.Point{t.Source, t.Destination} {
			if !w.Contains(p) {
				return fault.Errorf(fault.PlanValidation, "task %d: %s outside workspace %v", t.ID, p, w.bounds)
			}
		}
	}
	return nil
}
