package subset

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/dice/deformation"
)

// IntensityMode selects which intensity set Initialize fills.
type IntensityMode int

const (
	// RefIntensities samples the reference image at the undeformed pixel locations.
	RefIntensities IntensityMode = iota
	// DefIntensities samples the deformed image at the mapped pixel locations.
	DefIntensities
)

func (m IntensityMode) String() string {
	switch m {
	case RefIntensities:
		return "reference"
	case DefIntensities:
		return "deformed"
	}
	return "unknown"
}

// Subset is a tracked template region. It is not safe for concurrent use; give each worker
// its own.
type Subset struct {
	centroid     r2.Point
	coords       []r2.Point
	ref          []float64
	def          []float64
	active       []bool
	refReady     bool
	obstructions []r2.Rect

	// scratch buffers reused by Gamma
	f, g []float64
}

// New creates a subset from explicit reference pixel locations.
func New(centroid r2.Point, coords []r2.Point) (*Subset, error) {
	if len(coords) < 2 {
		return nil, errors.Errorf("subset needs at least 2 pixels, got %d", len(coords))
	}
	n := len(coords)
	s := &Subset{
		centroid: centroid,
		coords:   make([]r2.Point, n),
		ref:      make([]float64, n),
		def:      make([]float64, n),
		active:   make([]bool, n),
		f:        make([]float64, 0, n),
		g:        make([]float64, 0, n),
	}
	copy(s.coords, coords)
	for i := range s.active {
		s.active[i] = true
	}
	return s, nil
}

// NewSquare creates a size x size subset centered on pixel (cx, cy). Even sizes are widened by one.
func NewSquare(cx, cy, size int) (*Subset, error) {
	if size < 3 {
		return nil, errors.Errorf("subset size must be at least 3, got %d", size)
	}
	half := size / 2
	coords := make([]r2.Point, 0, (2*half+1)*(2*half+1))
	for y := cy - half; y <= cy+half; y++ {
		for x := cx - half; x <= cx+half; x++ {
			coords = append(coords, r2.Point{X: float64(x), Y: float64(y)})
		}
	}
	return New(r2.Point{X: float64(cx), Y: float64(cy)}, coords)
}

// Centroid is the point the shape function rotates about.
func (s *Subset) Centroid() r2.Point {
	return s.centroid
}

// NumPixels is the number of pixels in the subset.
func (s *Subset) NumPixels() int {
	return len(s.coords)
}

// NumActive is the number of pixels that currently participate in Gamma.
func (s *Subset) NumActive() int {
	n := 0
	for _, a := range s.active {
		if a {
			n++
		}
	}
	return n
}

// AddObstruction registers a region of the deformed image covered by another object.
// Pixels mapped into it are dropped by SuppressObstructedPixels.
func (s *Subset) AddObstruction(rect r2.Rect) {
	s.obstructions = append(s.obstructions, rect)
}

// Initialize samples img into the reference or deformed intensities. Reference sampling
// ignores def and requires every pixel to lie inside the image. Deformed sampling maps each
// pixel through def and deactivates pixels that land outside the image.
func (s *Subset) Initialize(img *Image, mode IntensityMode, def deformation.Vector) error {
	if img == nil {
		return errors.New("cannot initialize subset from a nil image")
	}
	switch mode {
	case RefIntensities:
		for i, p := range s.coords {
			val, ok := img.Interpolate(p.X, p.Y)
			if !ok {
				return errors.Errorf("reference pixel (%v, %v) is outside the %dx%d image", p.X, p.Y, img.Width(), img.Height())
			}
			s.ref[i] = val
		}
		s.refReady = true
		return nil
	case DefIntensities:
		if len(def) < deformation.NumFields {
			return errors.Errorf("deformation vector has %d entries, need %d", len(def), deformation.NumFields)
		}
		for i, p := range s.coords {
			x, y := deformation.MapPoint(def, p.X, p.Y, s.centroid.X, s.centroid.Y)
			val, ok := img.Interpolate(x, y)
			s.def[i] = val
			s.active[i] = ok
		}
		return nil
	}
	return errors.Errorf("unknown intensity mode %d", mode)
}

// SuppressObstructedPixels deactivates pixels whose deformed location falls in an obstruction.
// Checks for which other subsets block this one are assumed to have been done already.
func (s *Subset) SuppressObstructedPixels(def deformation.Vector) {
	if len(s.obstructions) == 0 || len(def) < deformation.NumFields {
		return
	}
	for i, p := range s.coords {
		if !s.active[i] {
			continue
		}
		x, y := deformation.MapPoint(def, p.X, p.Y, s.centroid.X, s.centroid.Y)
		mapped := r2.Point{X: x, Y: y}
		for _, rect := range s.obstructions {
			if rect.ContainsPoint(mapped) {
				s.active[i] = false
				break
			}
		}
	}
}

// Gamma is the zero-normalized sum of squared differences between the reference and
// deformed intensities over the active pixels. It lies in [0, 4], 0 being a perfect match.
// It is +Inf when the reference was never initialized, fewer than two pixels are active,
// or either intensity set is constant.
func (s *Subset) Gamma() float64 {
	if !s.refReady {
		return math.Inf(1)
	}
	s.f = s.f[:0]
	s.g = s.g[:0]
	for i, a := range s.active {
		if a {
			s.f = append(s.f, s.ref[i])
			s.g = append(s.g, s.def[i])
		}
	}
	if len(s.f) < 2 {
		return math.Inf(1)
	}
	floats.AddConst(-stat.Mean(s.f, nil), s.f)
	floats.AddConst(-stat.Mean(s.g, nil), s.g)
	nf := floats.Norm(s.f, 2)
	ng := floats.Norm(s.g, 2)
	if nf == 0 || ng == 0 {
		return math.Inf(1)
	}
	floats.Scale(1/nf, s.f)
	floats.Scale(1/ng, s.g)
	floats.Sub(s.f, s.g)
	return floats.Dot(s.f, s.f)
}

// ReferenceIntensities returns a copy of the reference intensities.
func (s *Subset) ReferenceIntensities() []float64 {
	out := make([]float64, len(s.ref))
	copy(out, s.ref)
	return out
}
