package triangulation

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/dice/logging"
)

// ErrParallelRays is returned when the two viewing rays of a correspondence never converge.
var ErrParallelRays = errors.New("viewing rays are parallel")

// ErrNoProjectives is returned when a projective mapping is requested before one is set.
var ErrNoProjectives = errors.New("projective parameters have not been set")

// Triangulator maps stereo correspondences to 3-D points. A Triangulator built without a
// calibration can still apply a projective mapping.
type Triangulator struct {
	cal         *Calibration
	rotT        *mat.Dense // transposed rotation of the extrinsic transform
	center1     r3.Vector  // camera 1 center in camera 0 coordinates
	projectives *Projective
	logger      logging.Logger
}

// NewTriangulator prepares a Triangulator for cal, which may be nil.
func NewTriangulator(cal *Calibration, logger logging.Logger) (*Triangulator, error) {
	tri := &Triangulator{cal: cal, logger: logger}
	if cal == nil {
		return tri, nil
	}
	if err := cal.CheckValid(); err != nil {
		return nil, err
	}

	tri.rotT = mat.DenseCopyOf(cal.Extrinsics.Slice(0, 3, 0, 3).T())
	t := mat.NewVecDense(3, []float64{cal.Extrinsics.At(0, 3), cal.Extrinsics.At(1, 3), cal.Extrinsics.At(2, 3)})
	var c mat.VecDense
	c.MulVec(tri.rotT, t)
	tri.center1 = r3.Vector{X: -c.AtVec(0), Y: -c.AtVec(1), Z: -c.AtVec(2)}
	return tri, nil
}

// NewTriangulatorFromFile loads a calibration file and prepares a Triangulator for it.
func NewTriangulatorFromFile(path string, logger logging.Logger) (*Triangulator, error) {
	cal, err := LoadCalibration(path, logger)
	if err != nil {
		return nil, err
	}
	return NewTriangulator(cal, logger)
}

// Calibration returns the calibration, nil when there is none.
func (tri *Triangulator) Calibration() *Calibration {
	return tri.cal
}

// Triangulate finds the 3-D point seen at (xl, yl) by camera 0 and at (xr, yr) by camera 1.
// The point is the midpoint of the shortest segment joining the two viewing rays and is
// returned in camera 0 and in world coordinates.
func (tri *Triangulator) Triangulate(xl, yl, xr, yr float64) (camera, world r3.Vector, err error) {
	if tri.cal == nil {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrInvalidCalibration, "triangulation needs a calibration")
	}
	x0, y0 := tri.cal.Intrinsics[0].Normalize(xl, yl)
	x1, y1 := tri.cal.Intrinsics[1].Normalize(xr, yr)

	d0 := r3.Vector{X: x0, Y: y0, Z: 1}
	var rd mat.VecDense
	rd.MulVec(tri.rotT, mat.NewVecDense(3, []float64{x1, y1, 1}))
	d1 := r3.Vector{X: rd.AtVec(0), Y: rd.AtVec(1), Z: rd.AtVec(2)}

	w := tri.center1.Mul(-1)
	a, b, c := d0.Dot(d0), d0.Dot(d1), d1.Dot(d1)
	d, e := d0.Dot(w), d1.Dot(w)
	denom := a*c - b*b
	if math.Abs(denom) < 1e-12*a*c {
		return r3.Vector{}, r3.Vector{}, ErrParallelRays
	}
	s := (b*e - c*d) / denom
	u := (a*e - b*d) / denom

	p0 := d0.Mul(s)
	p1 := tri.center1.Add(d1.Mul(u))
	camera = p0.Add(p1).Mul(0.5)
	world = applyTransform(tri.cal.WorldTransform, camera)
	if tri.logger != nil {
		tri.logger.Debugw("triangulated", "left", []float64{xl, yl}, "right", []float64{xr, yr},
			"camera", camera, "world", world, "gap", p0.Distance(p1))
	}
	return camera, world, nil
}

// applyTransform applies a 4x4 homogeneous transform to p.
func applyTransform(m mat.Matrix, p r3.Vector) r3.Vector {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1}))
	return r3.Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// SetProjectives installs the mapping used by ProjectLeftToRight.
func (tri *Triangulator) SetProjectives(p Projective) {
	tri.projectives = &p
}

// EstimateProjectives fits and installs the mapping that best takes left onto right.
func (tri *Triangulator) EstimateProjectives(left, right []r2.Point) (Projective, error) {
	p, err := EstimateProjective(left, right)
	if err != nil {
		return Projective{}, err
	}
	tri.SetProjectives(p)
	return p, nil
}

// Projectives returns the installed mapping.
func (tri *Triangulator) Projectives() (Projective, bool) {
	if tri.projectives == nil {
		return Projective{}, false
	}
	return *tri.projectives, true
}

// ProjectLeftToRight maps left sensor coordinates to right sensor coordinates.
func (tri *Triangulator) ProjectLeftToRight(xl, yl float64) (float64, float64, error) {
	if tri.projectives == nil {
		return 0, 0, ErrNoProjectives
	}
	xr, yr := tri.projectives.Apply(xl, yl)
	return xr, yr, nil
}
