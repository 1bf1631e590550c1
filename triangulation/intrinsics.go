// Package triangulation turns stereo pixel correspondences into 3-D points using a two
// camera calibration, and maps left sensor coordinates onto the right sensor through an
// 8-parameter projective transform.
package triangulation

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// NumIntrinsics is the number of values in an intrinsic row.
const NumIntrinsics = 8

// ErrInvalidIntrinsics is returned for intrinsic parameters no camera could have.
var ErrInvalidIntrinsics = errors.New("invalid camera intrinsic parameters")

// Intrinsics describes a pinhole camera with skew. As a row the values are ordered
// cx cy fx fy fs k1 k2 k3. The radial coefficients k1..k3 are carried through parsing and
// serialization but not applied to projections.
type Intrinsics struct {
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
	Fs float64 `json:"fs"`
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`
}

// NewIntrinsics builds Intrinsics from a row of NumIntrinsics values.
func NewIntrinsics(row []float64) (Intrinsics, error) {
	if len(row) != NumIntrinsics {
		return Intrinsics{}, errors.Wrapf(ErrInvalidIntrinsics, "expected %d values, got %d", NumIntrinsics, len(row))
	}
	in := Intrinsics{
		Cx: row[0], Cy: row[1], Fx: row[2], Fy: row[3],
		Fs: row[4], K1: row[5], K2: row[6], K3: row[7],
	}
	return in, in.CheckValid()
}

// CheckValid checks that the focal lengths are positive and every value is finite.
func (in Intrinsics) CheckValid() error {
	for i, val := range in.Row() {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return errors.Wrapf(ErrInvalidIntrinsics, "value %d is %v", i, val)
		}
	}
	if in.Fx <= 0 {
		return errors.Wrap(ErrInvalidIntrinsics, fmt.Sprintf("focal length fx = %#v", in.Fx))
	}
	if in.Fy <= 0 {
		return errors.Wrap(ErrInvalidIntrinsics, fmt.Sprintf("focal length fy = %#v", in.Fy))
	}
	return nil
}

// Row returns the parameters in row order.
func (in Intrinsics) Row() []float64 {
	return []float64{in.Cx, in.Cy, in.Fx, in.Fy, in.Fs, in.K1, in.K2, in.K3}
}

// Normalize maps a pixel to coordinates on the z = 1 plane of the camera.
func (in Intrinsics) Normalize(x, y float64) (float64, float64) {
	yn := (y - in.Cy) / in.Fy
	return (x - in.Cx - in.Fs*yn) / in.Fx, yn
}

// Project maps a point in the camera frame to pixel coordinates.
func (in Intrinsics) Project(p r3.Vector) (float64, float64) {
	xn, yn := p.X/p.Z, p.Y/p.Z
	return in.Fx*xn + in.Fs*yn + in.Cx, in.Fy*yn + in.Cy
}
