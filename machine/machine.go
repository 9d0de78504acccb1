package machine

import (
	"fmt"
	"strings"

	"github.com/mastercactapus/pickplace/coord"
)

// Move is a linear move. Nil axes are left where they are.
type Move struct {
	X, Y, Z *float64

	// Feed is the feed rate in mm/min. Backends that ramp in hardware ignore it.
	Feed float64
}

// Axis returns a pointer to v, for building a Move inline.
func Axis(v float64) *float64 { return &v }

// To returns a move to the XY position p at height z.
func To(p coord.Point, z, feed float64) Move {
	return Move{X: Axis(p.X), Y: Axis(p.Y), Z: Axis(z), Feed: feed}
}

// ToZ returns a vertical move.
func ToZ(z, feed float64) Move {
	return Move{Z: Axis(z), Feed: feed}
}

// Apply returns p with the axes set by m replaced.
func (m Move) Apply(p coord.Point) coord.Point {
	if m.X != nil {
		p.X = *m.X
	}
	if m.Y != nil {
		p.Y = *m.Y
	}
	if m.Z != nil {
		p.Z = *m.Z
	}
	return p
}

func (m Move) String() string {
	var b strings.Builder
	b.WriteString("move")
	for _, a := range []struct {
		name string
		v    *float64
	}{{"X", m.X}, {"Y", m.Y}, {"Z", m.Z}} {
		if a.v != nil {
			fmt.Fprintf(&b, " %s%g", a.name, *a.v)
		}
	}
	if m.Feed > 0 {
		fmt.Fprintf(&b, " F%g", m.Feed)
	}
	return b.String()
}
