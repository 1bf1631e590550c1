package triangulation

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MinProjectivePoints is the fewest correspondences that determine a Projective.
const MinProjectivePoints = 4

// ErrDegenerateProjective is returned when the correspondences do not pin down a mapping.
var ErrDegenerateProjective = errors.New("correspondences do not determine a projective mapping")

// Projective is the 8-parameter mapping
//
//	xr = (p0*x + p1*y + p2) / (p6*x + p7*y + 1)
//	yr = (p3*x + p4*y + p5) / (p6*x + p7*y + 1)
type Projective [8]float64

// Apply maps (x, y) through the projective.
func (p Projective) Apply(x, y float64) (float64, float64) {
	w := p[6]*x + p[7]*y + 1
	return (p[0]*x + p[1]*y + p[2]) / w, (p[3]*x + p[4]*y + p[5]) / w
}

// ApplyPoint maps pt through the projective.
func (p Projective) ApplyPoint(pt r2.Point) r2.Point {
	x, y := p.Apply(pt.X, pt.Y)
	return r2.Point{X: x, Y: y}
}

// Matrix returns the mapping as a 3x3 homography with a unit bottom-right entry.
func (p Projective) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		p[0], p[1], p[2],
		p[3], p[4], p[5],
		p[6], p[7], 1,
	})
}

// normalizePoints returns the similarity taking pts to zero mean and mean distance sqrt(2)
// from the origin, along with its inverse.
func normalizePoints(pts []r2.Point) (*mat.Dense, *mat.Dense, error) {
	var c r2.Point
	for _, pt := range pts {
		c = c.Add(pt)
	}
	c = c.Mul(1 / float64(len(pts)))
	var dist float64
	for _, pt := range pts {
		dist += pt.Sub(c).Norm()
	}
	dist /= float64(len(pts))
	if dist == 0 {
		return nil, nil, errors.Wrap(ErrDegenerateProjective, "all points coincide")
	}
	s := math.Sqrt2 / dist
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	})
	inv := mat.NewDense(3, 3, []float64{
		1 / s, 0, c.X,
		0, 1 / s, c.Y,
		0, 0, 1,
	})
	return t, inv, nil
}

func transformPoint(t *mat.Dense, pt r2.Point) r2.Point {
	return r2.Point{
		X: t.At(0, 0)*pt.X + t.At(0, 1)*pt.Y + t.At(0, 2),
		Y: t.At(1, 0)*pt.X + t.At(1, 1)*pt.Y + t.At(1, 2),
	}
}

// EstimateProjective fits the Projective taking left onto right by the normalized direct
// linear transform. At least MinProjectivePoints correspondences are required; with more,
// the fit is least squares in the algebraic error.
func EstimateProjective(left, right []r2.Point) (Projective, error) {
	if len(left) != len(right) {
		return Projective{}, errors.Errorf("got %d left points and %d right points", len(left), len(right))
	}
	if len(left) < MinProjectivePoints {
		return Projective{}, errors.Wrapf(ErrDegenerateProjective, "need at least %d correspondences, got %d",
			MinProjectivePoints, len(left))
	}
	tl, _, err := normalizePoints(left)
	if err != nil {
		return Projective{}, err
	}
	tr, trInv, err := normalizePoints(right)
	if err != nil {
		return Projective{}, err
	}

	a := mat.NewDense(2*len(left), 9, nil)
	for i := range left {
		l := transformPoint(tl, left[i])
		r := transformPoint(tr, right[i])
		a.SetRow(2*i, []float64{l.X, l.Y, 1, 0, 0, 0, -l.X * r.X, -l.Y * r.X, -r.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, l.X, l.Y, 1, -l.X * r.Y, -l.Y * r.Y, -r.Y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Projective{}, errors.New("failed to factorize the projective system")
	}
	// the system has rank 8 unless the points are degenerate, e.g. collinear
	values := svd.Values(nil)
	if values[7] <= 1e-10*values[0] {
		return Projective{}, errors.Wrap(ErrDegenerateProjective, "correspondences are degenerate")
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	var h mat.Dense
	h.Product(trInv, hn, tl)
	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		return Projective{}, errors.Wrap(ErrDegenerateProjective, "mapping sends the origin to infinity")
	}
	var p Projective
	for i := 0; i < 8; i++ {
		p[i] = h.At(i/3, i%3) / scale
	}
	return p, nil
}
