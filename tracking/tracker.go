// Package tracking follows a set of subsets through a sequence of deformed images, seeding
// each frame's search with the motion found in the previous one.
package tracking

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/dice/deformation"
	"go.viam.com/dice/logging"
	"go.viam.com/dice/pathinit"
	"go.viam.com/dice/subset"
)

// SubsetSpec describes a subset to track.
type SubsetSpec struct {
	ID     int
	Subset *subset.Subset
	// Seed, when set, refines the first frame from this motion instead of searching every
	// catalog triad.
	Seed *r3.Vector
}

// Options tunes a Tracker.
type Options struct {
	// GammaThreshold is the largest mismatch from the previous frame that still seeds the
	// next frame.
	GammaThreshold float64
	// Workers bounds the number of subsets searched at once. Zero or less means one.
	Workers int
}

// Result is the outcome for one subset in one frame.
type Result struct {
	Frame    int
	SubsetID int
	Motion   r3.Vector
	Gamma    float64
	// Exhaustive is set when every catalog triad was scored.
	Exhaustive bool
	// Err is set when the subset could not be matched in this frame.
	Err error
}

type trackedSubset struct {
	id     int
	oracle *subset.Subset
	def    deformation.Vector
	gamma  float64
	seeded bool
}

// Tracker drives the initializer over successive frames. Subsets share one Index, and each
// owns its oracle and motion, so a frame's subsets are searched in parallel.
type Tracker struct {
	index     *pathinit.Index
	subsets   []*trackedSubset
	threshold float64
	workers   int
	frame     int
	logger    logging.Logger
}

// NewTracker samples the reference intensities of every subset from ref.
func NewTracker(idx *pathinit.Index, ref *subset.Image, specs []SubsetSpec, opts Options, logger logging.Logger) (*Tracker, error) {
	if idx == nil {
		return nil, errors.New("tracker needs an index")
	}
	if len(specs) == 0 {
		return nil, errors.New("tracker needs at least one subset")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	tr := &Tracker{
		index:     idx,
		subsets:   make([]*trackedSubset, 0, len(specs)),
		threshold: opts.GammaThreshold,
		workers:   workers,
		logger:    logger,
	}
	seen := make(map[int]bool, len(specs))
	for _, spec := range specs {
		if seen[spec.ID] {
			return nil, errors.Errorf("subset id %d is not unique", spec.ID)
		}
		seen[spec.ID] = true
		if spec.Subset == nil {
			return nil, errors.Errorf("subset %d has no pixels", spec.ID)
		}
		if err := spec.Subset.Initialize(ref, subset.RefIntensities, nil); err != nil {
			return nil, errors.Wrapf(err, "subset %d", spec.ID)
		}
		ts := &trackedSubset{
			id:     spec.ID,
			oracle: spec.Subset,
			def:    deformation.NewVector(),
			gamma:  math.Inf(1),
		}
		if spec.Seed != nil {
			ts.def.SetUVT(spec.Seed.X, spec.Seed.Y, spec.Seed.Z)
			ts.seeded = true
		}
		tr.subsets = append(tr.subsets, ts)
	}
	return tr, nil
}

// Frame is the number of frames processed so far.
func (tr *Tracker) Frame() int {
	return tr.frame
}

// Motion returns the current motion of the subset with the given id.
func (tr *Tracker) Motion(id int) (r3.Vector, bool) {
	for _, ts := range tr.subsets {
		if ts.id == id {
			return ts.def.MotionVector(), true
		}
	}
	return r3.Vector{}, false
}

// useSeed reports whether the previous motion of ts is trusted enough to seed the search.
func (tr *Tracker) useSeed(ts *trackedSubset) bool {
	if !ts.seeded {
		return false
	}
	// a user supplied seed has no gamma yet
	if tr.frame == 0 {
		return true
	}
	return ts.gamma <= tr.threshold
}

// Step finds the motion of every subset in img. Results are in subset order. A subset that
// no catalog triad matches gets a Result with Err set and is searched exhaustively in the
// next frame; other failures abort the step.
func (tr *Tracker) Step(ctx context.Context, img *subset.Image) ([]Result, error) {
	if img == nil {
		return nil, errors.New("cannot track into a nil image")
	}
	frame := tr.frame
	logger := tr.logger.Sublogger("frame")
	results := make([]Result, len(tr.subsets))
	seeds := make([]bool, len(tr.subsets))
	for i, ts := range tr.subsets {
		seeds[i] = tr.useSeed(ts)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(tr.workers)
	for i, ts := range tr.subsets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			in := tr.index.NewInitializer(img, ts.oracle)
			res := Result{Frame: frame, SubsetID: ts.id, Exhaustive: !seeds[i]}

			var gamma float64
			var err error
			if seeds[i] {
				u, v, t := ts.def.UVT()
				gamma, err = in.InitialGuess(ts.def, u, v, t)
			} else {
				gamma, err = in.InitialGuessExhaustive(ts.def)
			}
			switch {
			case errors.Is(err, pathinit.ErrNoMatch):
				res.Err = errors.Wrapf(err, "subset %d frame %d", ts.id, frame)
				ts.seeded = false
			case err != nil:
				return errors.Wrapf(err, "subset %d frame %d", ts.id, frame)
			default:
				ts.seeded = true
			}
			ts.gamma = gamma
			res.Gamma = gamma
			res.Motion = ts.def.MotionVector()
			results[i] = res
			logger.Debugw("subset tracked", "frame", frame, "subset", ts.id, "exhaustive", res.Exhaustive,
				"u", res.Motion.X, "v", res.Motion.Y, "theta", res.Motion.Z, "gamma", gamma)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	tr.frame++
	return results, nil
}

// Run loads and tracks each frame in turn, calling emit with the results of every frame.
func (tr *Tracker) Run(ctx context.Context, frames []string, emit func([]Result) error) error {
	for _, path := range frames {
		img, err := subset.NewImageFromFile(path)
		if err != nil {
			return errors.Wrapf(err, "frame %d", tr.frame)
		}
		results, err := tr.Step(ctx, img)
		if err != nil {
			return err
		}
		if emit != nil {
			if err := emit(results); err != nil {
				return err
			}
		}
	}
	return nil
}

// Failures combines the errors of the subsets that could not be matched.
func Failures(results []Result) error {
	var err error
	for _, r := range results {
		err = multierr.Append(err, r.Err)
	}
	return err
}

// Summary aggregates the match quality of one frame.
type Summary struct {
	Matched     int
	Lost        int
	MeanGamma   float64
	MedianGamma float64
	MaxGamma    float64
}

// Summarize reports how many subsets of a frame matched and the distribution of their gammas.
// Gamma statistics are NaN when nothing matched.
func Summarize(results []Result) (Summary, error) {
	sum := Summary{MeanGamma: math.NaN(), MedianGamma: math.NaN(), MaxGamma: math.NaN()}
	gammas := make(stats.Float64Data, 0, len(results))
	for _, r := range results {
		if r.Err != nil || math.IsNaN(r.Gamma) || math.IsInf(r.Gamma, 0) {
			sum.Lost++
			continue
		}
		gammas = append(gammas, r.Gamma)
	}
	sum.Matched = len(gammas)
	if sum.Matched == 0 {
		return sum, nil
	}
	var errMean, errMedian, errMax error
	sum.MeanGamma, errMean = gammas.Mean()
	sum.MedianGamma, errMedian = gammas.Median()
	sum.MaxGamma, errMax = gammas.Max()
	if err := multierr.Combine(errMean, errMedian, errMax); err != nil {
		return Summary{}, errors.Wrap(err, "summarizing gammas")
	}
	return sum, nil
}
