package cli

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/dice/config"
	"go.viam.com/dice/logging"
	"go.viam.com/dice/pathinit"
	"go.viam.com/dice/subset"
	"go.viam.com/dice/tracking"
	"go.viam.com/dice/triangulation"
)

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(generalFlagDebug) {
		return logging.NewStderrLogger("dice", logging.DEBUG)
	}
	return logging.NewStderrLogger("dice", logging.WARN)
}

func parseFloatArgs(c *cli.Context, names ...string) ([]float64, error) {
	if c.NArg() != len(names) {
		return nil, errors.Errorf("expected %d arguments (%s), got %d", len(names), strings.Join(names, " "), c.NArg())
	}
	vals := make([]float64, len(names))
	for i, name := range names {
		v, err := strconv.ParseFloat(c.Args().Get(i), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", name)
		}
		vals[i] = v
	}
	return vals, nil
}

// CatalogAction loads a path file and prints the catalog size and, optionally, the
// neighbors of one triad.
func CatalogAction(c *cli.Context) error {
	logger := newLogger(c)
	defer utils.UncheckedErrorFunc(logger.Sync)

	var opts []pathinit.CatalogOption
	if c.Bool(catalogFlagIDs) {
		opts = append(opts, pathinit.WithIDColumn())
	}
	cat, err := pathinit.LoadCatalog(c.String(catalogFlagPath), logger, opts...)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "samples: %d", cat.Samples())
	printf(c.App.Writer, "triads: %d", cat.Size())
	if c.Bool(catalogFlagList) {
		printf(c.App.Writer, "%s", catalogTable(cat))
	}

	k := c.Int(catalogFlagNeighbors)
	id := c.Int(catalogFlagTriad)
	if k == 0 {
		if id >= 0 {
			return errors.Errorf("--%s needs --%s", catalogFlagTriad, catalogFlagNeighbors)
		}
		return nil
	}
	idx, err := pathinit.NewIndex(cat, k, logger)
	if err != nil {
		return err
	}
	if id < 0 {
		return nil
	}
	if id >= idx.Size() {
		return errors.Errorf("triad id %d out of range [0, %d)", id, idx.Size())
	}
	for i, nb := range idx.Neighbors(id) {
		printf(c.App.Writer, "%d: %d %s", i, nb, idx.Triad(nb))
	}
	return nil
}

// catalogTable renders one row per triad, in id order.
func catalogTable(cat *pathinit.Catalog) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "U", "V", "Theta"})
	for id, tr := range cat.Triads() {
		t.AppendRow(table.Row{id, tr.U, tr.V, tr.T})
	}
	return t.Render()
}

// newTracker builds the index, the reference image and the subsets described by cfg.
func newTracker(cfg *config.Config, ignoreSeeds bool, logger logging.Logger) (*tracking.Tracker, error) {
	var opts []pathinit.CatalogOption
	if cfg.PathFileHasIDs {
		opts = append(opts, pathinit.WithIDColumn())
	}
	idx, err := pathinit.NewIndexFromFile(cfg.PathFile, cfg.NumNeighbors, logger, opts...)
	if err != nil {
		return nil, err
	}
	ref, err := subset.NewImageFromFile(cfg.ReferenceImage)
	if err != nil {
		return nil, errors.Wrap(err, "reference image")
	}

	specs := make([]tracking.SubsetSpec, 0, len(cfg.Subsets))
	for _, sc := range cfg.Subsets {
		s, err := subset.NewSquare(sc.X, sc.Y, sc.Size)
		if err != nil {
			return nil, errors.Wrapf(err, "subset %d", sc.ID)
		}
		for _, r := range sc.Obstructions {
			s.AddObstruction(r.R2())
		}
		spec := tracking.SubsetSpec{ID: sc.ID, Subset: s}
		if sc.InitialGuess != nil && !ignoreSeeds {
			seed := sc.InitialGuess.Vector()
			spec.Seed = &seed
		}
		specs = append(specs, spec)
	}
	return tracking.NewTracker(idx, ref, specs, tracking.Options{
		GammaThreshold: cfg.GammaThreshold,
		Workers:        cfg.Workers,
	}, logger)
}

// GuessAction finds the initial motion of every configured subset in one deformed image.
func GuessAction(c *cli.Context) error {
	logger := newLogger(c)
	defer utils.UncheckedErrorFunc(logger.Sync)

	cfg, err := config.Read(c.String(generalFlagConfig), logger)
	if err != nil {
		return err
	}
	frame := c.Int(guessFlagFrame)
	if frame < 0 || frame >= len(cfg.DeformedImages) {
		return errors.Errorf("frame %d out of range [0, %d)", frame, len(cfg.DeformedImages))
	}
	tr, err := newTracker(cfg, c.Bool(guessFlagExhaustive), logger)
	if err != nil {
		return err
	}
	img, err := subset.NewImageFromFile(cfg.DeformedImages[frame])
	if err != nil {
		return errors.Wrapf(err, "frame %d", frame)
	}
	results, err := tr.Step(c.Context, img)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Err != nil {
			printf(c.App.Writer, "subset %d: no match", res.SubsetID)
			continue
		}
		printf(c.App.Writer, "subset %d: u=%g v=%g theta=%g gamma=%.6g", res.SubsetID,
			res.Motion.X, res.Motion.Y, res.Motion.Z, res.Gamma)
	}
	return nil
}

// TrackAction tracks every configured subset through all deformed images and writes one
// csv row per subset and frame.
func TrackAction(c *cli.Context) (err error) {
	logger := newLogger(c)
	defer utils.UncheckedErrorFunc(logger.Sync)

	cfg, err := config.Read(c.String(generalFlagConfig), logger)
	if err != nil {
		return err
	}
	tr, err := newTracker(cfg, false, logger)
	if err != nil {
		return err
	}

	out := c.App.Writer
	if path := c.String(trackFlagOutput); path != "" {
		//nolint:gosec
		f, createErr := os.Create(path)
		if createErr != nil {
			return errors.Wrap(createErr, "creating output file")
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		out = f
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"frame", "subset", "u", "v", "theta", "gamma", "exhaustive", "error"}); err != nil {
		return err
	}
	lost := 0
	err = tr.Run(c.Context, cfg.DeformedImages, func(results []tracking.Result) error {
		for _, res := range results {
			row := []string{
				strconv.Itoa(res.Frame),
				strconv.Itoa(res.SubsetID),
				strconv.FormatFloat(res.Motion.X, 'g', -1, 64),
				strconv.FormatFloat(res.Motion.Y, 'g', -1, 64),
				strconv.FormatFloat(res.Motion.Z, 'g', -1, 64),
				strconv.FormatFloat(res.Gamma, 'g', 6, 64),
				strconv.FormatBool(res.Exhaustive),
				"",
			}
			if res.Err != nil {
				row[len(row)-1] = res.Err.Error()
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		if sum, err := tracking.Summarize(results); err == nil {
			logger.Debugw("frame summary", "frame", results[0].Frame, "matched", sum.Matched,
				"mean_gamma", sum.MeanGamma, "median_gamma", sum.MedianGamma, "max_gamma", sum.MaxGamma)
		}
		if failures := tracking.Failures(results); failures != nil {
			lost += len(multierr.Errors(failures))
			logger.Warnw("subsets lost", "frame", results[0].Frame, "error", failures)
		}
		return nil
	})
	w.Flush()
	if err != nil {
		return err
	}
	if lost > 0 {
		logger.Warnw("tracking finished with unmatched subsets", "count", lost)
	}
	return w.Error()
}

// TriangulateAction prints the camera and world coordinates of a stereo correspondence.
func TriangulateAction(c *cli.Context) error {
	logger := newLogger(c)
	defer utils.UncheckedErrorFunc(logger.Sync)

	args, err := parseFloatArgs(c, "x-left", "y-left", "x-right", "y-right")
	if err != nil {
		return err
	}
	calPath := c.String(triangulateFlagCal)
	if calPath == "" {
		cfgPath := c.String(generalFlagConfig)
		if cfgPath == "" {
			return errors.Errorf("one of --%s or --%s is required", triangulateFlagCal, generalFlagConfig)
		}
		cfg, err := config.Read(cfgPath, logger)
		if err != nil {
			return err
		}
		if cfg.CalibrationFile == "" {
			return errors.Errorf("config %q has no calibration_file", cfgPath)
		}
		calPath = cfg.CalibrationFile
	}
	tri, err := triangulation.NewTriangulatorFromFile(calPath, logger)
	if err != nil {
		return err
	}
	camera, world, err := tri.Triangulate(args[0], args[1], args[2], args[3])
	if err != nil {
		return err
	}
	printf(c.App.Writer, "camera: %g %g %g", camera.X, camera.Y, camera.Z)
	printf(c.App.Writer, "world: %g %g %g", world.X, world.Y, world.Z)
	return nil
}

// readCorrespondences reads lines of "xl yl xr yr", skipping blank and '#' lines.
func readCorrespondences(path string) ([]r2.Point, []r2.Point, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var left, right []r2.Point
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, nil, errors.Errorf("line %d: expected 4 values, got %d", lineNum, len(fields))
		}
		var vals [4]float64
		for i, field := range fields {
			if vals[i], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, nil, errors.Wrapf(err, "line %d", lineNum)
			}
		}
		left = append(left, r2.Point{X: vals[0], Y: vals[1]})
		right = append(right, r2.Point{X: vals[2], Y: vals[3]})
	}
	return left, right, scanner.Err()
}

// ProjectAction maps left sensor coordinates to the right sensor with given or fitted
// projective parameters.
func ProjectAction(c *cli.Context) error {
	logger := newLogger(c)
	defer utils.UncheckedErrorFunc(logger.Sync)

	args, err := parseFloatArgs(c, "x-left", "y-left")
	if err != nil {
		return err
	}
	tri, err := triangulation.NewTriangulator(nil, logger)
	if err != nil {
		return err
	}

	params := c.Float64Slice(projectFlagProjectives)
	fitPath := c.String(projectFlagFit)
	switch {
	case len(params) > 0 && fitPath != "":
		return errors.Errorf("--%s and --%s are exclusive", projectFlagProjectives, projectFlagFit)
	case len(params) > 0:
		if len(params) != len(triangulation.Projective{}) {
			return errors.Errorf("--%s needs %d values, got %d", projectFlagProjectives, len(triangulation.Projective{}), len(params))
		}
		var p triangulation.Projective
		copy(p[:], params)
		tri.SetProjectives(p)
	case fitPath != "":
		left, right, err := readCorrespondences(fitPath)
		if err != nil {
			return errors.Wrap(err, "reading correspondences")
		}
		p, err := tri.EstimateProjectives(left, right)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "projectives: %s", strings.Trim(fmt.Sprint(p[:]), "[]"))
	default:
		return errors.Errorf("one of --%s or --%s is required", projectFlagProjectives, projectFlagFit)
	}

	xr, yr, err := tri.ProjectLeftToRight(args[0], args[1])
	if err != nil {
		return err
	}
	printf(c.App.Writer, "right: %g %g", xr, yr)
	return nil
}
