package cli

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := NewApp(&out, &errOut)
	err := a.Run(append([]string{"dice"}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
}

func speckle(x, y float64) float64 {
	return 128 + 50*math.Sin(0.7*x)*math.Cos(0.5*y) + 30*math.Sin(0.3*x+0.9*y)
}

func writeFrame(t *testing.T, path string, u, v int) {
	t.Helper()
	gray := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			gray.SetGray(x, y, color.Gray{Y: uint8(math.Round(speckle(float64(x-u), float64(y-v))))})
		}
	}
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, gray), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)
}

// scanFloats reads the numbers following prefix on the line of out that starts with it.
func scanFloats(t *testing.T, out, prefix string) []float64 {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		var vals []float64
		for _, f := range strings.Fields(strings.TrimPrefix(line, prefix)) {
			var v float64
			_, err := fmt.Sscan(f, &v)
			test.That(t, err, test.ShouldBeNil)
			vals = append(vals, v)
		}
		return vals
	}
	t.Fatalf("no line starting with %q in %q", prefix, out)
	return nil
}

func TestCatalogCommand(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "path.txt")
	writeFile(t, fn, "10.1 20.3 0.004\n10.3 20.3 0.006\n50.0 50.0 0.5\n10.1 20.3 0.0\n")

	out, err := runApp(t, "catalog", "--path", fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "samples: 4")
	test.That(t, out, test.ShouldContainSubstring, "triads: 3")
	test.That(t, out, test.ShouldNotContainSubstring, "THETA")

	out, err = runApp(t, "catalog", "--path", fn, "--list")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "THETA")
	test.That(t, out, test.ShouldContainSubstring, "20.5")
	test.That(t, out, test.ShouldContainSubstring, "0.01")

	out, err = runApp(t, "catalog", "--path", fn, "--neighbors", "2", "--triad", "2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "0: 2 (u=50 v=50 theta=0.5)")
	test.That(t, out, test.ShouldContainSubstring, "1: 1 (u=10.5 v=20.5 theta=0.01)")

	_, err = runApp(t, "catalog", "--path", fn, "--triad", "0")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "catalog", "--path", fn, "--neighbors", "4")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "catalog", "--path", fn, "--neighbors", "1", "--triad", "3")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "catalog", "--path", filepath.Join(dir, "missing.txt"))
	test.That(t, err, test.ShouldNotBeNil)

	idFile := filepath.Join(dir, "ids.txt")
	writeFile(t, idFile, "0 1 1 0\n1 2 2 0\n")
	_, err = runApp(t, "catalog", "--path", idFile)
	test.That(t, err, test.ShouldNotBeNil)
	out, err = runApp(t, "catalog", "--path", idFile, "--ids")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "triads: 2")
}

func TestTrackAndGuessCommands(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for u := 0.0; u <= 2; u += 0.5 {
		for v := -2.0; v <= 0; v += 0.5 {
			fmt.Fprintf(&sb, "%g %g 0\n", u, v)
		}
	}
	writeFile(t, filepath.Join(dir, "path.txt"), sb.String())
	writeFrame(t, filepath.Join(dir, "ref.png"), 0, 0)
	writeFrame(t, filepath.Join(dir, "def_0.png"), 1, -1)
	writeFrame(t, filepath.Join(dir, "def_1.png"), 2, -1)
	cfgPath := filepath.Join(dir, "run.json")
	writeFile(t, cfgPath, `{
		"path_file": "path.txt",
		"num_neighbors": 25,
		"reference_image": "ref.png",
		"deformed_images": ["def_0.png", "def_1.png"],
		"workers": 2,
		"subsets": [{"id": 0, "x": 32, "y": 32, "size": 11, "initial_guess": {"u": 0.9, "v": -0.1, "theta": 0}}]
	}`)

	csvPath := filepath.Join(dir, "out.csv")
	out, err := runApp(t, "track", "--config", cfgPath, "--output", csvPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldBeEmpty)

	f, err := os.Open(csvPath)
	test.That(t, err, test.ShouldBeNil)
	rows, err := csv.NewReader(f).ReadAll()
	test.That(t, f.Close(), test.ShouldBeNil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(rows), test.ShouldEqual, 3)
	test.That(t, rows[0][0], test.ShouldEqual, "frame")
	test.That(t, rows[1][:5], test.ShouldResemble, []string{"0", "0", "1", "-1", "0"})
	test.That(t, rows[1][6], test.ShouldEqual, "false")
	test.That(t, rows[2][:5], test.ShouldResemble, []string{"1", "0", "2", "-1", "0"})
	test.That(t, rows[2][7], test.ShouldBeEmpty)

	out, err = runApp(t, "track", "--config", cfgPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldStartWith, "frame,subset,u,v,theta,gamma,exhaustive,error\n0,0,1,-1,0,")

	out, err = runApp(t, "guess", "--config", cfgPath, "--frame", "1", "--exhaustive")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "subset 0: u=2 v=-1 theta=0 gamma=")

	_, err = runApp(t, "guess", "--config", cfgPath, "--frame", "2")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "guess", "--config", filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTriangulateCommand(t *testing.T) {
	dir := t.TempDir()
	cal := filepath.Join(dir, "cal.txt")
	// unit cameras one unit apart along x
	writeFile(t, cal, `0 0 1 1 0 0 0 0
0 0 1 1 0 0 0 0
1 0 0 1
0 1 0 0
0 0 1 0
0 0 0 1
TRANSFORM
1 0 0 5
0 1 0 0
0 0 1 0
0 0 0 1
`)

	out, err := runApp(t, "triangulate", "--calibration", cal, "0", "0", "0.1", "0")
	test.That(t, err, test.ShouldBeNil)
	camera := scanFloats(t, out, "camera:")
	world := scanFloats(t, out, "world:")
	test.That(t, len(camera), test.ShouldEqual, 3)
	test.That(t, camera[0], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, camera[1], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, camera[2], test.ShouldAlmostEqual, 10, 1e-9)
	test.That(t, world[0], test.ShouldAlmostEqual, 5, 1e-9)
	test.That(t, world[2], test.ShouldAlmostEqual, 10, 1e-9)

	cfgPath := filepath.Join(dir, "config.json")
	writeFile(t, cfgPath, `{
	"path_file": "path.txt",
	"num_neighbors": 1,
	"reference_image": "ref.png",
	"deformed_images": ["def.png"],
	"subsets": [{"id": 0, "x": 10, "y": 10, "size": 5}],
	"calibration_file": "cal.txt"
}`)
	out, err = runApp(t, "triangulate", "--config", cfgPath, "0", "0", "0.1", "0")
	test.That(t, err, test.ShouldBeNil)
	world = scanFloats(t, out, "world:")
	test.That(t, world[0], test.ShouldAlmostEqual, 5, 1e-9)

	_, err = runApp(t, "triangulate", "0", "0", "0.1", "0")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "triangulate", "--calibration", cal, "0", "0")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "triangulate", "--calibration", cal, "0", "0", "x", "0")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestProjectCommand(t *testing.T) {
	out, err := runApp(t, "project", "--projectives", "1.5,0.03,-25.85,0.3,1.6,-18.0,0.0005,0.0001", "75", "380")
	test.That(t, err, test.ShouldBeNil)
	right := scanFloats(t, out, "right:")
	test.That(t, right[0], test.ShouldAlmostEqual, 91.166, 1e-2)
	test.That(t, right[1], test.ShouldAlmostEqual, 569.5026, 1e-2)

	fit := filepath.Join(t.TempDir(), "pairs.txt")
	writeFile(t, fit, "# xl yl xr yr\n0 0 10 20\n100 0 110 20\n0 100 10 120\n100 100 110 120\n")
	out, err = runApp(t, "project", "--fit", fit, "50", "50")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "projectives:")
	right = scanFloats(t, out, "right:")
	test.That(t, right[0], test.ShouldAlmostEqual, 60, 1e-6)
	test.That(t, right[1], test.ShouldAlmostEqual, 70, 1e-6)

	_, err = runApp(t, "project", "75", "380")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "project", "--projectives", "1,2,3", "75", "380")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "project", "--fit", fit, "--projectives", "1,0,0,0,1,0,0,0", "75", "380")
	test.That(t, err, test.ShouldNotBeNil)
}
