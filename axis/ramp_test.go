package axis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProfile_Ramp(t *testing.T) {
	p := Profile{Base: 600 * time.Microsecond, Floor: 50 * time.Microsecond}

	for _, n := range []int{1, 2, 3, 4, 7, 10, 101, 800, 3200} {
		r := p.Ramp(n)
		assert.Len(t, r, n)
		assert.Equal(t, p.Base, r[0], "n=%d", n)

		for i := range r {
			assert.Equal(t, r[i], r[n-1-i], "n=%d not symmetric at %d", n, i)
			assert.True(t, r[i] >= p.Floor, "n=%d below floor at %d", n, i)
			assert.True(t, r[i] <= p.Base, "n=%d above base at %d", n, i)
		}
		for i := 1; i < (n+1)/2; i++ {
			assert.True(t, r[i] < r[i-1], "n=%d not decreasing at %d", n, i)
		}
		for i := n / 2; i < n-1; i++ {
			assert.True(t, r[i+1] > r[i], "n=%d not increasing at %d", n, i)
		}
	}
}

func TestProfile_RampOddReachesFloor(t *testing.T) {
	p := Profile{Base: 600 * time.Microsecond, Floor: 50 * time.Microsecond}
	r := p.Ramp(5)
	assert.Equal(t, []time.Duration{
		600 * time.Microsecond,
		325 * time.Microsecond,
		50 * time.Microsecond,
		325 * time.Microsecond,
		600 * time.Microsecond,
	}, r)
}

func TestProfile_Flat(t *testing.T) {
	p := Profile{Base: time.Millisecond, Floor: time.Millisecond}
	for _, d := range p.Ramp(9) {
		assert.Equal(t, time.Millisecond, d)
	}
	assert.Nil(t, p.Ramp(0))
}

func TestProfile_Validate(t *testing.T) {
	assert.NoError(t, Profile{Base: time.Millisecond, Floor: time.Microsecond}.Validate())
	assert.Error(t, Profile{Base: time.Microsecond, Floor: time.Millisecond}.Validate())
	assert.Error(t, Profile{Base: time.Millisecond}.Validate())
}
