package pathinit

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/dice/deformation"
	"go.viam.com/dice/logging"
	"go.viam.com/dice/subset"
)

// Oracle scores a deformation hypothesis for one subset. *subset.Subset implements it.
//
// The reference intensities must have been initialized by the caller before any guess is
// requested.
type Oracle interface {
	// Initialize samples img under the deformation def.
	Initialize(img *subset.Image, mode subset.IntensityMode, def deformation.Vector) error
	// SuppressObstructedPixels drops pixels hidden behind other tracked objects.
	SuppressObstructedPixels(def deformation.Vector)
	// Gamma is the current mismatch score. Lower is better.
	Gamma() float64
}

// Initializer searches an Index for the best starting motion of one subset in one deformed
// image. It is not safe for concurrent use; create one per worker from a shared Index.
type Initializer struct {
	index    *Index
	defImage *subset.Image
	oracle   Oracle
	logger   logging.Logger
}

// NewInitializer binds the index to a deformed image and an oracle.
func (idx *Index) NewInitializer(defImage *subset.Image, oracle Oracle) *Initializer {
	return &Initializer{
		index:    idx,
		defImage: defImage,
		oracle:   oracle,
		logger:   idx.logger,
	}
}

// SetDeformedImage switches the image candidates are scored against, e.g. for the next frame.
func (in *Initializer) SetDeformedImage(img *subset.Image) {
	in.defImage = img
}

// Index returns the shared index.
func (in *Initializer) Index() *Index {
	return in.index
}

// score writes (u, v, t) into def and asks the oracle for its mismatch.
func (in *Initializer) score(def deformation.Vector, u, v, t float64) (float64, error) {
	def.SetUVT(u, v, t)
	if err := in.oracle.Initialize(in.defImage, subset.DefIntensities, def); err != nil {
		return 0, errors.Wrapf(err, "scoring candidate u=%g v=%g theta=%g", u, v, t)
	}
	in.oracle.SuppressObstructedPixels(def)
	return in.oracle.Gamma(), nil
}

func checkVector(def deformation.Vector) error {
	if len(def) <= int(deformation.RotationZ) {
		return errors.Wrapf(ErrShortVector, "length %d", len(def))
	}
	return nil
}

// InitialGuess refines a known seed (u, v, t): the seed and the neighbors of its closest
// catalog triad are scored, and the best one is written into the displacement and rotation
// of def. Other entries of def are left as the caller set them. The returned mismatch is
// never worse than the seed's own.
func (in *Initializer) InitialGuess(def deformation.Vector, u, v, t float64) (float64, error) {
	if err := checkVector(def); err != nil {
		return 0, err
	}
	base, distSq := in.index.ClosestTriad(u, v, t)
	in.logger.Debugw("closest triad", "seed_u", u, "seed_v", v, "seed_theta", t, "id", base, "dist_sq", distSq)

	gamma, err := in.score(def, u, v, t)
	if err != nil {
		return 0, err
	}
	best := Triad{U: u, V: v, T: t}
	bestGamma := gamma
	if math.IsNaN(bestGamma) {
		bestGamma = math.Inf(1)
	}

	for i := 0; i < in.index.numNeighbors; i++ {
		id := in.index.Neighbor(base, i)
		cand := in.index.Triad(id)
		gamma, err := in.score(def, cand.U, cand.V, cand.T)
		if err != nil {
			return 0, err
		}
		in.logger.Debugw("checking neighbor", "id", id, "u", cand.U, "v", cand.V, "theta", cand.T, "gamma", gamma)
		if gamma < bestGamma {
			best = cand
			bestGamma = gamma
		}
	}
	def.SetUVT(best.U, best.V, best.T)
	return bestGamma, nil
}

// InitialGuessExhaustive scores every catalog triad and writes the best into def. Ties go
// to the lower id. When no triad yields a finite score, ErrNoMatch is returned and def's
// displacement and rotation are restored.
func (in *Initializer) InitialGuessExhaustive(def deformation.Vector) (float64, error) {
	if err := checkVector(def); err != nil {
		return 0, err
	}
	origU, origV, origT := def.UVT()
	bestID := -1
	bestGamma := math.Inf(1)
	for id := 0; id < in.index.Size(); id++ {
		cand := in.index.Triad(id)
		gamma, err := in.score(def, cand.U, cand.V, cand.T)
		if err != nil {
			def.SetUVT(origU, origV, origT)
			return 0, err
		}
		in.logger.Debugw("checking triad", "id", id, "u", cand.U, "v", cand.V, "theta", cand.T, "gamma", gamma)
		if gamma < bestGamma {
			bestID = id
			bestGamma = gamma
		}
	}
	if bestID < 0 {
		def.SetUVT(origU, origV, origT)
		return math.Inf(1), ErrNoMatch
	}
	best := in.index.Triad(bestID)
	def.SetUVT(best.U, best.V, best.T)
	return bestGamma, nil
}
