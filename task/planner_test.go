package task

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/pickplace/coord"
)

func ids(p Plan) []int {
	res := make([]int, len(p.Tasks))
	for i, t := range p.Tasks {
		res[i] = t.ID
	}
	return res
}

func TestPlanRoute_Single(t *testing.T) {
	a := New(1, coord.Point{}, coord.Point{X: 2, Y: 1}, 90)
	p := PlanRoute([]Task{a}, coord.Point{})

	assert.Equal(t, []Task{a}, p.Tasks)
	assert.Equal(t, coord.Point{}, p.Cursor)
}

func TestPlanRoute_NearestNeighbour(t *testing.T) {
	pending := []Task{
		New(1, coord.Point{X: 5, Y: 0}, coord.Point{X: 9, Y: 9}, 0),
		New(2, coord.Point{X: 1, Y: 0}, coord.Point{X: 6, Y: 0}, 0),
		New(3, coord.Point{X: 8, Y: 8}, coord.Point{X: 0, Y: 0}, 0),
	}
	p := PlanRoute(pending, coord.Point{})

	// 2 is nearest the origin and drops at (6,0); 1 is then nearest and
	// drops at (9,9), next to 3
	assert.Equal(t, []int{2, 1, 3}, ids(p))
}

func TestPlanRoute_TiesByInputOrder(t *testing.T) {
	pending := []Task{
		New(1, coord.Point{X: 1, Y: 0}, coord.Point{X: 0, Y: 0}, 0),
		New(2, coord.Point{X: 0, Y: 1}, coord.Point{X: 0, Y: 0}, 0),
		New(3, coord.Point{X: -1, Y: 0}, coord.Point{X: 0, Y: 0}, 0),
	}
	assert.Equal(t, []int{1, 2, 3}, ids(PlanRoute(pending, coord.Point{})))

	pending[0], pending[2] = pending[2], pending[0]
	assert.Equal(t, []int{3, 2, 1}, ids(PlanRoute(pending, coord.Point{})))
}

func TestPlanRoute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cell := func() coord.Point {
		return coord.Point{X: float64(rng.Intn(6)), Y: float64(rng.Intn(6))}
	}

	for n := 0; n < 40; n++ {
		pending := make([]Task, n)
		for i := range pending {
			pending[i] = New(i, cell(), cell(), float64(90*rng.Intn(4)))
		}
		orig := make([]Task, n)
		copy(orig, pending)
		start := cell()

		p := PlanRoute(pending, start)
		require.Len(t, p.Tasks, n)
		assert.Equal(t, orig, pending, "input is not modified")
		assert.Equal(t, p, PlanRoute(pending, start), "deterministic")

		got := ids(p)
		sort.Ints(got)
		for i, id := range got {
			assert.Equal(t, i, id, "every task exactly once")
		}
	}
}
