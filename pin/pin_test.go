package pin

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/pickplace/fault"
)

func TestRegistry_Claim(t *testing.T) {
	sim := NewSim()
	r := NewRegistry(sim)

	_, err := r.Output(17, "x")
	require.NoError(t, err)

	_, err = r.Output(17, "y")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrConfiguration))

	owner, ok := r.Claimed(17)
	assert.True(t, ok)
	assert.Equal(t, "x", owner)

	_, err = r.Output(-1, "z")
	assert.Error(t, err)
}

func TestRegistry_Shared(t *testing.T) {
	sim := NewSim()
	r := NewRegistry(sim)

	a, err := r.Shared(5, PullUp, "axis x")
	require.NoError(t, err)
	b, err := r.Shared(5, PullUp, "feedback")
	require.NoError(t, err)

	sim.SetInput(5, false)
	va, _ := a.Read()
	vb, _ := b.Read()
	assert.False(t, va)
	assert.False(t, vb)

	owner, _ := r.Claimed(5)
	assert.Equal(t, "axis x", owner)

	_, err = r.Output(5, "pump")
	assert.Error(t, err, "shared inputs still block exclusive claims")

	_, err = r.Output(6, "pump")
	require.NoError(t, err)
	_, err = r.Shared(6, PullUp, "feedback")
	assert.Error(t, err, "exclusive lines cannot be shared")
}

func TestRegistry_Close(t *testing.T) {
	sim := NewSim()
	r := NewRegistry(sim)

	out, err := r.Output(4, "relay")
	require.NoError(t, err)
	require.NoError(t, out.Set(true))
	assert.True(t, sim.Level(4))

	require.NoError(t, r.Close())
	assert.False(t, sim.Level(4))
	assert.Equal(t, "released", sim.Mode(4))
	_, ok := r.Claimed(4)
	assert.False(t, ok)
}

func TestSim_Pulses(t *testing.T) {
	sim := NewSim()
	out, _ := sim.Output(17)
	for i := 0; i < 3; i++ {
		out.Set(true)
		out.Set(true)
		out.Set(false)
	}
	assert.Equal(t, 3, sim.Pulses(17))
}

func TestInverted(t *testing.T) {
	sim := NewSim()
	in, _ := sim.Input(3, PullUp)
	v, err := Inverted(in).Read()
	assert.NoError(t, err)
	assert.False(t, v)
}
