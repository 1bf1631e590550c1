// Package pathinit seeds the correlation solver from a catalog of plausible motion states.
//
// A path file lists (u, v, theta) samples of the motion a subset is expected to follow. The
// samples are quantized onto a fixed grid, deduplicated into a Catalog, and indexed with a
// k-d tree so that, given a rough seed, the closest catalog states can be scored against the
// deformed image and the best one handed to the solver as its starting point.
package pathinit

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

const (
	// DisplacementResolution is the grid spacing of u and v, in pixels.
	DisplacementResolution = 0.5
	// RotationResolution is the grid spacing of theta, in radians.
	RotationResolution = 0.01
)

// Triad is one quantized motion state: displacement (U, V) and rotation T.
type Triad struct {
	U float64
	V float64
	T float64
}

// Quantize snaps a raw motion sample onto the catalog grid using round-half-up.
func Quantize(u, v, t float64) Triad {
	return Triad{
		U: math.Floor(u*2+0.5) / 2,
		V: math.Floor(v*2+0.5) / 2,
		T: math.Floor(t*100+0.5) / 100,
	}
}

// Compare orders triads by U, then V, then T. It returns -1, 0 or +1.
func (tr Triad) Compare(o Triad) int {
	switch {
	case tr.U < o.U:
		return -1
	case tr.U > o.U:
		return 1
	case tr.V < o.V:
		return -1
	case tr.V > o.V:
		return 1
	case tr.T < o.T:
		return -1
	case tr.T > o.T:
		return 1
	}
	return 0
}

// Less reports whether tr sorts before o.
func (tr Triad) Less(o Triad) bool {
	return tr.Compare(o) < 0
}

// Vector returns the triad as a point in (u, v, theta) space.
func (tr Triad) Vector() r3.Vector {
	return r3.Vector{X: tr.U, Y: tr.V, Z: tr.T}
}

func (tr Triad) String() string {
	return fmt.Sprintf("(u=%g v=%g theta=%g)", tr.U, tr.V, tr.T)
}
