package task

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/pickplace/coord"
)

func TestNormalizeRotation(t *testing.T) {
	for in, want := range map[float64]float64{
		0:    0,
		90:   90,
		360:  0,
		450:  90,
		-90:  270,
		-360: 0,
		-720: 0,
		719:  359,
	} {
		assert.Equal(t, want, NormalizeRotation(in), "NormalizeRotation(%g)", in)
	}
	assert.Equal(t, 270.0, New(1, coord.Point{}, coord.Point{}, -90).Rotation)
}

func TestPlan_Travel(t *testing.T) {
	p := Plan{Tasks: []Task{
		New(1, coord.Point{X: 3, Y: 4}, coord.Point{X: 3, Y: 0}, 0),
		New(2, coord.Point{X: 3, Y: 1}, coord.Point{X: 0, Y: 1}, 0),
	}}
	// 5 to the first source, 4 carried, 1 to the next source, 3 carried
	assert.Equal(t, 13.0, p.Travel())
}
