package axis

import (
	"time"

	"github.com/mastercactapus/pickplace/fault"
)

// Profile bounds the per-step delay of a move. Each step is two half periods of
// the delay (step line high, then low), so Floor fixes the maximum pulse
// frequency. Floor is never computed below; it is an input invariant.
type Profile struct {
	Base  time.Duration
	Floor time.Duration
}

// Validate rejects profiles that would drive the motor faster than Floor allows.
func (p Profile) Validate() error {
	if p.Floor <= 0 {
		return fault.Errorf(fault.Configuration, "ramp floor must be positive, got %s", p.Floor)
	}
	if p.Floor > p.Base {
		return fault.Errorf(fault.Configuration, "ramp floor %s exceeds base %s", p.Floor, p.Base)
	}
	return nil
}

// Delay returns the delay of step i in an n-step trapezoidal move.
//
// The delay falls linearly from Base at the first step to Floor at the middle
// and rises back to Base at the last step, mirrored around the midpoint.
func (p Profile) Delay(i, n int) time.Duration {
	if n <= 1 {
		return p.Base
	}
	span := int64(n - 1)
	dist := int64(2*i) - span
	if dist < 0 {
		dist = -dist
	}
	return p.Floor + time.Duration(int64(p.Base-p.Floor)*dist/span)
}

// Ramp returns the full delay sequence of an n-step move.
func (p Profile) Ramp(n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	res := make([]time.Duration, n)
	for i := range res {
		res[i] = p.Delay(i, n)
	}
	return res
}
