package deformation

import (
	"math"

	"github.com/pkg/errors"
)

// ShapeFunctionConfig selects which parameters a ShapeFunction solves for.
// Translation is always enabled.
type ShapeFunctionConfig struct {
	EnableRotation     bool    `json:"enable_rotation"`
	EnableNormalStrain bool    `json:"enable_normal_strain"`
	EnableShearStrain  bool    `json:"enable_shear_strain"`
	DeltaDisp          float64 `json:"delta_disp"`
	DeltaTheta         float64 `json:"delta_theta"`
}

// DefaultShapeFunctionConfig enables every term with the standard robust deltas.
func DefaultShapeFunctionConfig() ShapeFunctionConfig {
	return ShapeFunctionConfig{
		EnableRotation:     true,
		EnableNormalStrain: true,
		EnableShearStrain:  true,
		DeltaDisp:          1.0,
		DeltaTheta:         0.1,
	}
}

// ShapeFunction is an affine map of a subset about its centroid: stretch and shear, then
// rotation, then translation. Disabled fields stay zero.
type ShapeFunction struct {
	params  Vector
	deltas  Vector
	enabled [NumFields]bool
	order   []Field
}

// NewShapeFunction builds a ShapeFunction for the given configuration.
func NewShapeFunction(cfg ShapeFunctionConfig) (*ShapeFunction, error) {
	if cfg.DeltaDisp <= 0 || cfg.DeltaTheta <= 0 {
		return nil, errors.Errorf("shape function deltas must be positive, got disp=%v theta=%v", cfg.DeltaDisp, cfg.DeltaTheta)
	}
	sf := &ShapeFunction{params: NewVector(), deltas: NewVector()}
	sf.enable(DisplacementX)
	sf.enable(DisplacementY)
	if cfg.EnableRotation {
		sf.enable(RotationZ)
	}
	if cfg.EnableNormalStrain {
		sf.enable(NormalStretchXX)
		sf.enable(NormalStretchYY)
	}
	if cfg.EnableShearStrain {
		sf.enable(ShearStretchXY)
	}
	for i := range sf.deltas {
		sf.deltas[i] = cfg.DeltaTheta
	}
	sf.deltas[DisplacementX] = cfg.DeltaDisp
	sf.deltas[DisplacementY] = cfg.DeltaDisp
	return sf, nil
}

func (sf *ShapeFunction) enable(f Field) {
	sf.enabled[f] = true
	sf.order = append(sf.order, f)
}

// Enabled reports whether f is one of the solved parameters.
func (sf *ShapeFunction) Enabled(f Field) bool {
	return sf.enabled[f]
}

// NumParams is the number of enabled parameters.
func (sf *ShapeFunction) NumParams() int {
	return len(sf.order)
}

// Fields returns the enabled fields in solve order.
func (sf *ShapeFunction) Fields() []Field {
	out := make([]Field, len(sf.order))
	copy(out, sf.order)
	return out
}

// Parameter returns the value of f.
func (sf *ShapeFunction) Parameter(f Field) float64 {
	return sf.params[f]
}

// Delta returns the finite-difference step used for f.
func (sf *ShapeFunction) Delta(f Field) float64 {
	return sf.deltas[f]
}

// Parameters exposes the full parameter vector. Writes through it are visible to the shape function.
func (sf *ShapeFunction) Parameters() Vector {
	return sf.params
}

// Clear zeroes every parameter.
func (sf *ShapeFunction) Clear() {
	for i := range sf.params {
		sf.params[i] = 0
	}
}

// SetFrom copies the enabled fields of v into the shape function.
func (sf *ShapeFunction) SetFrom(v Vector) {
	for _, f := range sf.order {
		sf.params[f] = v[f]
	}
}

// InsertMotion sets the translation and, when rotation is enabled, the rotation.
func (sf *ShapeFunction) InsertMotion(u, v, theta float64) {
	sf.params[DisplacementX] = u
	sf.params[DisplacementY] = v
	if sf.enabled[RotationZ] {
		sf.params[RotationZ] = theta
	}
}

// AddTranslation offsets the current translation.
func (sf *ShapeFunction) AddTranslation(u, v float64) {
	sf.params[DisplacementX] += u
	sf.params[DisplacementY] += v
}

// Update adds one solver step, given in enabled-field order.
func (sf *ShapeFunction) Update(step []float64) error {
	if len(step) != len(sf.order) {
		return errors.Errorf("update has %d entries, shape function has %d parameters", len(step), len(sf.order))
	}
	for i, f := range sf.order {
		sf.params[f] += step[i]
	}
	return nil
}

// Map sends a reference pixel (x, y) of a subset centered at (cx, cy) to its deformed location.
func (sf *ShapeFunction) Map(x, y, cx, cy float64) (float64, float64) {
	return MapPoint(sf.params, x, y, cx, cy)
}

// MapPoint applies the affine map described by v to (x, y) about (cx, cy).
func MapPoint(v Vector, x, y, cx, cy float64) (float64, float64) {
	cost := math.Cos(v[RotationZ])
	sint := math.Sin(v[RotationZ])
	dx := x - cx
	dy := y - cy
	ddx := (1.0+v[NormalStretchXX])*dx + v[ShearStretchXY]*dy
	ddy := (1.0+v[NormalStretchYY])*dy + v[ShearStretchXY]*dx
	outX := cost*ddx - sint*ddy + v[DisplacementX] + cx
	outY := sint*ddx + cost*ddy + v[DisplacementY] + cy
	return outX, outY
}

// Residuals returns the derivative of the mapped intensity with respect to each enabled
// parameter, in enabled-field order, given the image gradient (gx, gy) at the pixel.
// When useRefGrads is set the gradient is taken from the reference image and rotated
// into the deformed frame.
func (sf *ShapeFunction) Residuals(x, y, cx, cy, gx, gy float64, useRefGrads bool) []float64 {
	theta := sf.params[RotationZ]
	dudx := sf.params[NormalStretchXX]
	dvdy := sf.params[NormalStretchYY]
	gxy := sf.params[ShearStretchXY]
	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)

	dx := x - cx
	dy := y - cy
	ddx := (1.0+dudx)*dx + gxy*dy
	ddy := (1.0+dvdy)*dy + gxy*dx
	gX, gY := gx, gy
	if useRefGrads {
		gX = cosTheta*gx - sinTheta*gy
		gY = sinTheta*gx + cosTheta*gy
	}

	terms := [NumFields]float64{
		DisplacementX:   gX,
		DisplacementY:   gY,
		RotationZ:       gX*(-sinTheta*ddx-cosTheta*ddy) + gY*(cosTheta*ddx-sinTheta*ddy),
		NormalStretchXX: gX*dx*cosTheta + gY*dx*sinTheta,
		NormalStretchYY: -gX*dy*sinTheta + gY*dy*cosTheta,
		ShearStretchXY:  gX*(cosTheta*dy-sinTheta*dx) + gY*(sinTheta*dy+cosTheta*dx),
	}
	out := make([]float64, len(sf.order))
	for i, f := range sf.order {
		out[i] = terms[f]
	}
	return out
}

// Converged reports whether displacement and rotation moved less than tol since old.
// Stretch and shear do not participate.
func (sf *ShapeFunction) Converged(old Vector, tol float64) bool {
	if math.Abs(sf.params[DisplacementX]-old[DisplacementX]) >= tol {
		return false
	}
	if math.Abs(sf.params[DisplacementY]-old[DisplacementY]) >= tol {
		return false
	}
	if sf.enabled[RotationZ] && math.Abs(sf.params[RotationZ]-old[RotationZ]) >= tol {
		return false
	}
	return true
}
