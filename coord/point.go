package coord

import (
	"fmt"
	"math"
)

// Point is a machine position in millimeters.
type Point struct{ X, Y, Z float64 }

// XY returns p with Z cleared.
func (p Point) XY() Point { return Point{X: p.X, Y: p.Y} }

func (p Point) Cross(op Point) Point {
	return Point{
		p.Y*op.Z - p.Z*op.Y,
		p.Z*op.X - p.X*op.Z,
		p.X*op.Y - p.Y*op.X,
	}
}
func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}

// Scale multiplies each axis by the matching axis of s.
func (p Point) Scale(s Point) Point {
	p.X *= s.X
	p.Y *= s.Y
	p.Z *= s.Z
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

// DistanceXY will return the 2D distance between p and q.
func (p Point) DistanceXY(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g, %g)", p.X, p.Y, p.Z)
}
