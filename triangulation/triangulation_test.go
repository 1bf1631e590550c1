package triangulation

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/dice/logging"
)

var (
	leftIntrinsics  = Intrinsics{Cx: 320, Cy: 240, Fx: 1000, Fy: 1000, K1: -0.05, K2: 0.01}
	rightIntrinsics = Intrinsics{Cx: 310, Cy: 250, Fx: 1100, Fy: 1090, Fs: 0.5, K1: 0.02}
)

// rig returns a camera 0 to camera 1 transform rotated 10 degrees about y, and a world
// transform flipping y and z and shifting by (10, 20, 30).
func rig() (*mat.Dense, *mat.Dense) {
	s, c := math.Sincos(10 * math.Pi / 180)
	ext := mat.NewDense(4, 4, []float64{
		c, 0, s, -200,
		0, 1, 0, 5,
		-s, 0, c, 30,
		0, 0, 0, 1,
	})
	world := mat.NewDense(4, 4, []float64{
		1, 0, 0, 10,
		0, -1, 0, 20,
		0, 0, -1, 30,
		0, 0, 0, 1,
	})
	return ext, world
}

func rowText(m *mat.Dense) string {
	var sb strings.Builder
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&sb, "%.17g %.17g %.17g %.17g\n", m.At(i, 0), m.At(i, 1), m.At(i, 2), m.At(i, 3))
	}
	return sb.String()
}

func flatText(m *mat.Dense) string {
	vals := make([]string, 0, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			vals = append(vals, fmt.Sprintf("%.17g", m.At(i, j)))
		}
	}
	return strings.Join(vals, " ")
}

func intrinsicText(in Intrinsics) string {
	vals := make([]string, 0, NumIntrinsics)
	for _, v := range in.Row() {
		vals = append(vals, fmt.Sprintf("%.17g", v))
	}
	return strings.Join(vals, " ") + "\n"
}

func calibrationText(withWorld bool) string {
	ext, world := rig()
	txt := "# stereo calibration\n" + intrinsicText(leftIntrinsics) + intrinsicText(rightIntrinsics) + "\n" + rowText(ext)
	if withWorld {
		txt += "TRANSFORM\n" + rowText(world)
	}
	return txt
}

func intrinsicXML(in Intrinsics) string {
	return fmt.Sprintf(`<intrinsics cx="%g" cy="%g" fx="%g" fy="%g" fs="%g" k1="%g" k2="%g" k3="%g"/>`,
		in.Cx, in.Cy, in.Fx, in.Fy, in.Fs, in.K1, in.K2, in.K3)
}

func calibrationXML(withWorld bool) string {
	ext, world := rig()
	doc := `<?xml version="1.0"?>
<calibration>
  <camera id="1">` + intrinsicXML(rightIntrinsics) + `<extrinsics>` + flatText(ext) + `</extrinsics></camera>
  <camera id="0">` + intrinsicXML(leftIntrinsics) + `</camera>`
	if withWorld {
		doc += `<world_transform>` + flatText(world) + `</world_transform>`
	}
	return doc + "</calibration>\n"
}

func TestIntrinsics(t *testing.T) {
	_, err := NewIntrinsics([]float64{1, 2, 3})
	test.That(t, errors.Is(err, ErrInvalidIntrinsics), test.ShouldBeTrue)
	_, err = NewIntrinsics([]float64{320, 240, 0, 1000, 0, 0, 0, 0})
	test.That(t, errors.Is(err, ErrInvalidIntrinsics), test.ShouldBeTrue)
	_, err = NewIntrinsics([]float64{320, 240, 1000, 1000, math.NaN(), 0, 0, 0})
	test.That(t, errors.Is(err, ErrInvalidIntrinsics), test.ShouldBeTrue)

	in, err := NewIntrinsics(rightIntrinsics.Row())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in, test.ShouldResemble, rightIntrinsics)

	for _, p := range []r3.Vector{{X: 0, Y: 0, Z: 1}, {X: 120, Y: -80, Z: 900}, {X: -300, Y: 200, Z: 1200}} {
		x, y := in.Project(p)
		xn, yn := in.Normalize(x, y)
		test.That(t, xn, test.ShouldAlmostEqual, p.X/p.Z, 1e-9)
		test.That(t, yn, test.ShouldAlmostEqual, p.Y/p.Z, 1e-9)
	}
	x, y := in.Project(r3.Vector{Z: 5})
	test.That(t, x, test.ShouldEqual, in.Cx)
	test.That(t, y, test.ShouldEqual, in.Cy)
}

func TestParseCalibration(t *testing.T) {
	ext, world := rig()

	checkCal := func(t *testing.T, cal *Calibration, wantWorld *mat.Dense) {
		t.Helper()
		test.That(t, cal.Intrinsics[0], test.ShouldResemble, leftIntrinsics)
		test.That(t, cal.Intrinsics[1], test.ShouldResemble, rightIntrinsics)
		test.That(t, mat.EqualApprox(cal.Extrinsics, ext, 1e-12), test.ShouldBeTrue)
		test.That(t, mat.EqualApprox(cal.WorldTransform, wantWorld, 1e-12), test.ShouldBeTrue)
		table := cal.IntrinsicTable()
		test.That(t, len(table), test.ShouldEqual, 2)
		test.That(t, len(table[0]), test.ShouldEqual, NumIntrinsics)
	}

	t.Run("text", func(t *testing.T) {
		cal, err := ParseCalibrationText(strings.NewReader(calibrationText(false)))
		test.That(t, err, test.ShouldBeNil)
		checkCal(t, cal, eye(4))
	})
	t.Run("text with transform", func(t *testing.T) {
		cal, err := ParseCalibrationText(strings.NewReader(calibrationText(true)))
		test.That(t, err, test.ShouldBeNil)
		checkCal(t, cal, world)
	})
	t.Run("xml", func(t *testing.T) {
		cal, err := ParseCalibrationXML(strings.NewReader(calibrationXML(false)))
		test.That(t, err, test.ShouldBeNil)
		checkCal(t, cal, eye(4))
	})
	t.Run("xml with transform", func(t *testing.T) {
		cal, err := ParseCalibrationXML(strings.NewReader(calibrationXML(true)))
		test.That(t, err, test.ShouldBeNil)
		checkCal(t, cal, world)
	})
}

func TestParseCalibrationErrors(t *testing.T) {
	good := calibrationText(true)
	lines := strings.Split(strings.TrimSpace(good), "\n")

	for _, tc := range []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"short intrinsics", "1 2 3\n"},
		{"missing extrinsic rows", strings.Join(lines[:5], "\n")},
		{"bad number", strings.Replace(good, "1000", "1e", 1)},
		{"zero focal length", strings.Replace(good, "1000 1000", "0 1000", 1)},
		{"short transform", strings.Join(lines[:len(lines)-1], "\n")},
		{"trailing data", good + "1 2 3 4\n"},
		{"transform twice", good + "TRANSFORM\n"},
		{"bad last row", strings.Replace(good, "0 0 0 1\nTRANSFORM", "0 0 1 1\nTRANSFORM", 1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCalibrationText(strings.NewReader(tc.text))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}

	_, err := ParseCalibrationText(strings.NewReader(strings.Replace(good, "0 0 0 1\nTRANSFORM", "0 0 1 1\nTRANSFORM", 1)))
	test.That(t, errors.Is(err, ErrInvalidCalibration), test.ShouldBeTrue)

	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"not xml", "calibration"},
		{"one camera", `<calibration><camera id="0"></camera></calibration>`},
		{"duplicate camera", `<calibration><camera id="0"></camera><camera id="0"></camera></calibration>`},
		{"missing extrinsics", strings.Replace(calibrationXML(false), "<extrinsics>", "<other>", 1)},
		{"short world", strings.Replace(calibrationXML(false), "</calibration>", "<world_transform>1 0 0</world_transform></calibration>", 1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCalibrationXML(strings.NewReader(tc.doc))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestLoadCalibration(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	txt := filepath.Join(dir, "cal.txt")
	xmlPath := filepath.Join(dir, "cal.XML")
	test.That(t, os.WriteFile(txt, []byte(calibrationText(true)), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(xmlPath, []byte(calibrationXML(true)), 0o600), test.ShouldBeNil)

	fromText, err := LoadCalibration(txt, logger)
	test.That(t, err, test.ShouldBeNil)
	fromXML, err := LoadCalibration(xmlPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fromXML.Intrinsics, test.ShouldResemble, fromText.Intrinsics)
	test.That(t, mat.EqualApprox(fromXML.WorldTransform, fromText.WorldTransform, 1e-12), test.ShouldBeTrue)

	_, err = LoadCalibration(filepath.Join(dir, "missing.txt"), logger)
	test.That(t, err, test.ShouldNotBeNil)

	// text content behind an xml extension is rejected
	bad := filepath.Join(dir, "bad.xml")
	test.That(t, os.WriteFile(bad, []byte(calibrationText(false)), 0o600), test.ShouldBeNil)
	_, err = LoadCalibration(bad, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTriangulate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fn := filepath.Join(t.TempDir(), "cal.txt")
	test.That(t, os.WriteFile(fn, []byte(calibrationText(true)), 0o600), test.ShouldBeNil)
	tri, err := NewTriangulatorFromFile(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	ext := tri.Calibration().Extrinsics

	for _, p := range []r3.Vector{{X: 25, Y: -40, Z: 1500}, {X: -120, Y: 60, Z: 900}, {X: 0, Y: 0, Z: 2000}} {
		xl, yl := leftIntrinsics.Project(p)
		p1 := applyTransform(ext, p)
		xr, yr := rightIntrinsics.Project(p1)

		camera, world, err := tri.Triangulate(xl, yl, xr, yr)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, camera.X, test.ShouldAlmostEqual, p.X, 1e-6)
		test.That(t, camera.Y, test.ShouldAlmostEqual, p.Y, 1e-6)
		test.That(t, camera.Z, test.ShouldAlmostEqual, p.Z, 1e-6)
		test.That(t, world.X, test.ShouldAlmostEqual, p.X+10, 1e-6)
		test.That(t, world.Y, test.ShouldAlmostEqual, 20-p.Y, 1e-6)
		test.That(t, world.Z, test.ShouldAlmostEqual, 30-p.Z, 1e-6)
	}
}

func TestTriangulateErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)

	tri, err := NewTriangulator(nil, logger)
	test.That(t, err, test.ShouldBeNil)
	_, _, err = tri.Triangulate(1, 2, 3, 4)
	test.That(t, errors.Is(err, ErrInvalidCalibration), test.ShouldBeTrue)

	_, err = NewTriangulator(&Calibration{Intrinsics: [2]Intrinsics{leftIntrinsics, leftIntrinsics}}, logger)
	test.That(t, errors.Is(err, ErrInvalidCalibration), test.ShouldBeTrue)

	// two cameras sharing one center see any pixel along the same ray
	same := &Calibration{
		Intrinsics:     [2]Intrinsics{leftIntrinsics, leftIntrinsics},
		Extrinsics:     eye(4),
		WorldTransform: eye(4),
	}
	tri, err = NewTriangulator(same, logger)
	test.That(t, err, test.ShouldBeNil)
	_, _, err = tri.Triangulate(100, 200, 100, 200)
	test.That(t, err, test.ShouldBeError, ErrParallelRays)
}

func TestProjectLeftToRight(t *testing.T) {
	tri, err := NewTriangulator(nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	_, _, err = tri.ProjectLeftToRight(75, 380)
	test.That(t, err, test.ShouldBeError, ErrNoProjectives)
	_, ok := tri.Projectives()
	test.That(t, ok, test.ShouldBeFalse)

	p := Projective{1.5, 0.03, -25.85, 0.3, 1.6, -18.0, 0.0005, 0.0001}
	tri.SetProjectives(p)
	xr, yr, err := tri.ProjectLeftToRight(75, 380)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, xr, test.ShouldAlmostEqual, 91.166, 1e-2)
	test.That(t, yr, test.ShouldAlmostEqual, 569.5026, 1e-2)

	got, ok := tri.Projectives()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, p)
	test.That(t, p.ApplyPoint(r2.Point{X: 75, Y: 380}), test.ShouldResemble, r2.Point{X: xr, Y: yr})

	h := p.Matrix()
	test.That(t, h.At(2, 2), test.ShouldEqual, 1.0)
	test.That(t, h.At(2, 0), test.ShouldEqual, 0.0005)
}

func TestEstimateProjective(t *testing.T) {
	want := Projective{1.5, 0.03, -25.85, 0.3, 1.6, -18.0, 0.0005, 0.0001}
	var left, right []r2.Point
	for _, x := range []float64{50, 250, 450} {
		for _, y := range []float64{40, 220, 400} {
			left = append(left, r2.Point{X: x, Y: y})
			right = append(right, want.ApplyPoint(r2.Point{X: x, Y: y}))
		}
	}

	got, err := EstimateProjective(left, right)
	test.That(t, err, test.ShouldBeNil)
	for i := range want {
		test.That(t, got[i], test.ShouldAlmostEqual, want[i], 1e-6)
	}

	// exactly four correspondences determine the mapping too
	tri, err := NewTriangulator(nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	corners := []int{0, 2, 6, 8}
	var l4, r4 []r2.Point
	for _, i := range corners {
		l4 = append(l4, left[i])
		r4 = append(r4, right[i])
	}
	_, err = tri.EstimateProjectives(l4, r4)
	test.That(t, err, test.ShouldBeNil)
	xr, yr, err := tri.ProjectLeftToRight(75, 380)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, xr, test.ShouldAlmostEqual, 91.166, 1e-2)
	test.That(t, yr, test.ShouldAlmostEqual, 569.5026, 1e-2)

	t.Run("degenerate", func(t *testing.T) {
		_, err := EstimateProjective(left[:3], right[:3])
		test.That(t, errors.Is(err, ErrDegenerateProjective), test.ShouldBeTrue)

		_, err = EstimateProjective(left, right[:4])
		test.That(t, err, test.ShouldNotBeNil)

		line := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}, {X: 4, Y: 4}}
		_, err = EstimateProjective(line, line)
		test.That(t, errors.Is(err, ErrDegenerateProjective), test.ShouldBeTrue)

		same := []r2.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}
		_, err = EstimateProjective(same, right[:4])
		test.That(t, errors.Is(err, ErrDegenerateProjective), test.ShouldBeTrue)
	})
}
