// Package deformation holds the motion-parameter vector shared between the initializer,
// the subset oracle and the correlation solver, plus the affine shape function that maps
// subset pixels through it.
package deformation

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Field indexes one parameter of a Vector.
type Field int

// Parameter layout of a Vector.
const (
	DisplacementX Field = iota
	DisplacementY
	RotationZ
	NormalStretchXX
	NormalStretchYY
	ShearStretchXY

	// NumFields is the length of a full Vector.
	NumFields = int(ShearStretchXY) + 1
)

var fieldNames = [NumFields]string{
	"displacement_x", "displacement_y", "rotation_z",
	"normal_stretch_xx", "normal_stretch_yy", "shear_stretch_xy",
}

func (f Field) String() string {
	if f < 0 || int(f) >= NumFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Vector is the current motion estimate of one subset. It is owned by the caller; functions
// that take one may write into it but never keep it past the call.
type Vector []float64

// NewVector returns a zeroed Vector.
func NewVector() Vector {
	return make(Vector, NumFields)
}

// UVT returns the displacement and rotation components.
func (v Vector) UVT() (u, vv, t float64) {
	return v[DisplacementX], v[DisplacementY], v[RotationZ]
}

// SetUVT overwrites the displacement and rotation components and leaves the rest untouched.
func (v Vector) SetUVT(u, vv, t float64) {
	v[DisplacementX] = u
	v[DisplacementY] = vv
	v[RotationZ] = t
}

// MotionVector returns (u, v, theta) as an r3.Vector.
func (v Vector) MotionVector() r3.Vector {
	return r3.Vector{X: v[DisplacementX], Y: v[DisplacementY], Z: v[RotationZ]}
}

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
