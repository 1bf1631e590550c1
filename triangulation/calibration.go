package triangulation

import (
	"bufio"
	"encoding/xml"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/dice/logging"
)

// transformKeyword starts the optional camera 0 to world block of a text calibration file.
const transformKeyword = "TRANSFORM"

// ErrInvalidCalibration is returned for calibration data that cannot describe a stereo rig.
var ErrInvalidCalibration = errors.New("invalid calibration")

// Calibration holds a two camera stereo calibration.
type Calibration struct {
	// Intrinsics of camera 0 (left) and camera 1 (right).
	Intrinsics [2]Intrinsics
	// Extrinsics is the 4x4 rigid transform taking camera 0 coordinates to camera 1 coordinates.
	Extrinsics *mat.Dense
	// WorldTransform is the 4x4 transform taking camera 0 coordinates to world coordinates.
	WorldTransform *mat.Dense
}

// eye creates an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func checkTransform(name string, m *mat.Dense) error {
	if m == nil {
		return errors.Wrapf(ErrInvalidCalibration, "missing %s transform", name)
	}
	if r, c := m.Dims(); r != 4 || c != 4 {
		return errors.Wrapf(ErrInvalidCalibration, "%s transform is %dx%d, expected 4x4", name, r, c)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrapf(ErrInvalidCalibration, "%s transform entry (%d, %d) is %v", name, i, j, v)
			}
		}
	}
	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || m.At(3, 3) != 1 {
		return errors.Wrapf(ErrInvalidCalibration, "%s transform last row must be 0 0 0 1", name)
	}
	return nil
}

// CheckValid checks both cameras and both transforms.
func (c *Calibration) CheckValid() error {
	for i, in := range c.Intrinsics {
		if err := in.CheckValid(); err != nil {
			return errors.Wrapf(err, "camera %d", i)
		}
	}
	if err := checkTransform("extrinsic", c.Extrinsics); err != nil {
		return err
	}
	return checkTransform("world", c.WorldTransform)
}

// IntrinsicTable returns one intrinsic row per camera.
func (c *Calibration) IntrinsicTable() [][]float64 {
	return [][]float64{c.Intrinsics[0].Row(), c.Intrinsics[1].Row()}
}

func parseRow(fields []string) ([]float64, error) {
	row := make([]float64, len(fields))
	for i, f := range fields {
		val, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		row[i] = val
	}
	return row, nil
}

// ParseCalibrationText reads the text calibration format. Ignoring blank lines and lines
// starting with '#', it holds one row of NumIntrinsics values per camera, then four rows of
// four values for the camera 0 to camera 1 transform. A line reading TRANSFORM followed by
// four more rows of four sets the camera 0 to world transform, otherwise it is the identity.
func ParseCalibrationText(r io.Reader) (*Calibration, error) {
	cal := &Calibration{}
	var intrinsics, extrinsic, world [][]float64
	inWorld := false

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.EqualFold(line, transformKeyword) {
			if inWorld || len(extrinsic) != 4 {
				return nil, errors.Wrapf(ErrInvalidCalibration, "line %d: unexpected %s block", lineNum, transformKeyword)
			}
			inWorld = true
			continue
		}
		row, err := parseRow(strings.Fields(line))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidCalibration, "line %d: %v", lineNum, err)
		}
		switch {
		case len(intrinsics) < 2:
			if len(row) != NumIntrinsics {
				return nil, errors.Wrapf(ErrInvalidCalibration, "line %d: intrinsic row needs %d values, got %d",
					lineNum, NumIntrinsics, len(row))
			}
			intrinsics = append(intrinsics, row)
		case len(extrinsic) < 4:
			if len(row) != 4 {
				return nil, errors.Wrapf(ErrInvalidCalibration, "line %d: extrinsic row needs 4 values, got %d", lineNum, len(row))
			}
			extrinsic = append(extrinsic, row)
		case inWorld && len(world) < 4:
			if len(row) != 4 {
				return nil, errors.Wrapf(ErrInvalidCalibration, "line %d: transform row needs 4 values, got %d", lineNum, len(row))
			}
			world = append(world, row)
		default:
			return nil, errors.Wrapf(ErrInvalidCalibration, "line %d: unexpected data", lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading calibration")
	}
	if len(intrinsics) != 2 || len(extrinsic) != 4 {
		return nil, errors.Wrap(ErrInvalidCalibration, "expected two intrinsic rows and a 4x4 extrinsic transform")
	}
	if inWorld && len(world) != 4 {
		return nil, errors.Wrapf(ErrInvalidCalibration, "%s block needs 4 rows, got %d", transformKeyword, len(world))
	}

	for i, row := range intrinsics {
		in, err := NewIntrinsics(row)
		if err != nil {
			return nil, errors.Wrapf(err, "camera %d", i)
		}
		cal.Intrinsics[i] = in
	}
	cal.Extrinsics = denseFromRows(extrinsic)
	if inWorld {
		cal.WorldTransform = denseFromRows(world)
	} else {
		cal.WorldTransform = eye(4)
	}
	return cal, cal.CheckValid()
}

func denseFromRows(rows [][]float64) *mat.Dense {
	m := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		m.SetRow(i, row)
	}
	return m
}

// xmlCalibration is the XML calibration document.
type xmlCalibration struct {
	XMLName        xml.Name    `xml:"calibration"`
	Cameras        []xmlCamera `xml:"camera"`
	WorldTransform string      `xml:"world_transform"` // 16 values, row-major
}

type xmlCamera struct {
	ID         int           `xml:"id,attr"`
	Intrinsics xmlIntrinsics `xml:"intrinsics"`
	Extrinsics string        `xml:"extrinsics"` // 16 values, row-major
}

type xmlIntrinsics struct {
	Cx float64 `xml:"cx,attr"`
	Cy float64 `xml:"cy,attr"`
	Fx float64 `xml:"fx,attr"`
	Fy float64 `xml:"fy,attr"`
	Fs float64 `xml:"fs,attr"`
	K1 float64 `xml:"k1,attr"`
	K2 float64 `xml:"k2,attr"`
	K3 float64 `xml:"k3,attr"`
}

func parseMatrix4(name, text string) (*mat.Dense, error) {
	vals, err := parseRow(strings.Fields(text))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidCalibration, "%s: %v", name, err)
	}
	if len(vals) != 16 {
		return nil, errors.Wrapf(ErrInvalidCalibration, "%s needs 16 values, got %d", name, len(vals))
	}
	return mat.NewDense(4, 4, vals), nil
}

// ParseCalibrationXML reads the XML calibration format: a calibration element holding
// camera elements with id 0 and 1, each with an intrinsics element carrying the parameters
// as attributes. Camera 1 carries the camera 0 to camera 1 transform in an extrinsics
// element. An optional world_transform element sets the camera 0 to world transform.
func ParseCalibrationXML(r io.Reader) (*Calibration, error) {
	var doc xmlCalibration
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decoding calibration xml")
	}
	if len(doc.Cameras) != 2 {
		return nil, errors.Wrapf(ErrInvalidCalibration, "expected 2 cameras, got %d", len(doc.Cameras))
	}

	cal := &Calibration{}
	seen := [2]bool{}
	for _, cam := range doc.Cameras {
		if cam.ID < 0 || cam.ID > 1 || seen[cam.ID] {
			return nil, errors.Wrapf(ErrInvalidCalibration, "unexpected camera id %d", cam.ID)
		}
		seen[cam.ID] = true
		ci := cam.Intrinsics
		cal.Intrinsics[cam.ID] = Intrinsics{
			Cx: ci.Cx, Cy: ci.Cy, Fx: ci.Fx, Fy: ci.Fy,
			Fs: ci.Fs, K1: ci.K1, K2: ci.K2, K3: ci.K3,
		}
		if cam.ID == 1 {
			ext, err := parseMatrix4("camera 1 extrinsics", cam.Extrinsics)
			if err != nil {
				return nil, err
			}
			cal.Extrinsics = ext
		}
	}

	if strings.TrimSpace(doc.WorldTransform) == "" {
		cal.WorldTransform = eye(4)
	} else {
		world, err := parseMatrix4("world_transform", doc.WorldTransform)
		if err != nil {
			return nil, err
		}
		cal.WorldTransform = world
	}
	return cal, cal.CheckValid()
}

// LoadCalibration reads a calibration file, choosing the XML parser for a .xml extension
// and the text parser otherwise.
func LoadCalibration(path string, logger logging.Logger) (*Calibration, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open calibration file %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var cal *Calibration
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		cal, err = ParseCalibrationXML(f)
	} else {
		cal, err = ParseCalibrationText(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "calibration file %q", path)
	}
	logger.Debugw("loaded calibration", "path", path,
		"intrinsics", cal.IntrinsicTable(),
		"extrinsics", mat.DenseCopyOf(cal.Extrinsics).RawMatrix().Data,
		"world", mat.DenseCopyOf(cal.WorldTransform).RawMatrix().Data)
	return cal, nil
}
