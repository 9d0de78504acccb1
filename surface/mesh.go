// Package surface models the height of the work table so pick and place
// heights can follow it.
package surface

import (
	"math"

	"github.com/fogleman/delaunay"
	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/coord"
)

// An Offsetter reports the table height at an XY position. ok is false
// outside the probed area.
type Offsetter interface {
	OffsetZ(p coord.Point) (z float64, ok bool)
}

// Flat is a level table.
type Flat struct{}

func (Flat) OffsetZ(coord.Point) (float64, bool) { return 0, true }

// Mesh interpolates probed heights over a Delaunay triangulation.
type Mesh struct {
	minX, minY, maxX, maxY float64
	triangles              []coord.Triangle
}

// NewMesh triangulates points. At least three non-collinear points are needed.
func NewMesh(points []coord.Point) (*Mesh, error) {
	if len(points) < 3 {
		return nil, errors.New("need at least 3 points to create a mesh")
	}

	points2d := make([]delaunay.Point, len(points))
	m := make(map[delaunay.Point]coord.Point, len(points))

	mesh := &Mesh{
		minX: points[0].X,
		minY: points[0].Y,
		maxX: points[0].X,
		maxY: points[0].Y,
	}
	for i, p := range points {
		mesh.minX = math.Min(mesh.minX, p.X)
		mesh.minY = math.Min(mesh.minY, p.Y)
		mesh.maxX = math.Max(mesh.maxX, p.X)
		mesh.maxY = math.Max(mesh.maxY, p.Y)

		d := delaunay.Point{X: p.X, Y: p.Y}
		m[d] = p
		points2d[i] = d
	}
	mesh.minX -= coord.Epsilon
	mesh.minY -= coord.Epsilon
	mesh.maxX += coord.Epsilon
	mesh.maxY += coord.Epsilon

	tri, err := delaunay.Triangulate(points2d)
	if err != nil {
		return nil, errors.Wrap(err, "triangulate")
	}
	if len(tri.Triangles) == 0 {
		return nil, errors.New("points are collinear")
	}

	mesh.triangles = make([]coord.Triangle, 0, len(tri.Triangles)/3)
	for i := 0; i < len(tri.Triangles); i += 3 {
		mesh.triangles = append(mesh.triangles, coord.Triangle{
			A: m[tri.Points[tri.Triangles[i]]],
			B: m[tri.Points[tri.Triangles[i+1]]],
			C: m[tri.Points[tri.Triangles[i+2]]],
		})
	}

	return mesh, nil
}

func (m *Mesh) OffsetZ(p coord.Point) (float64, bool) {
	if p.X < m.minX || m.maxX < p.X || p.Y < m.minY || m.maxY < p.Y {
		return 0, false
	}
	for _, t := range m.triangles {
		if t.ContainsXY(p) {
			return t.Z(p), true
		}
	}
	return 0, false
}

// Relative shifts every point down by z, so a probe taken at the reference
// height reads zero.
func Relative(z float64, points []coord.Point) []coord.Point {
	res := make([]coord.Point, len(points))
	copy(res, points)
	for i := range res {
		res[i].Z -= z
	}
	return res
}
