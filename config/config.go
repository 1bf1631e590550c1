// Package config defines the JSON run configuration of a tracking job.
package config

import (
	"fmt"
	"math"
	"path/filepath"
	"runtime"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// DefaultGammaThreshold is the largest previous-frame mismatch that still seeds the next
// frame's search.
const DefaultGammaThreshold = 0.5

// A Config describes one tracking run: the motion catalog, the images and the subsets.
type Config struct {
	PathFile       string   `json:"path_file"`
	NumNeighbors   int      `json:"num_neighbors"`
	PathFileHasIDs bool     `json:"path_file_has_ids,omitempty"`
	ReferenceImage string   `json:"reference_image"`
	DeformedImages []string `json:"deformed_images"`
	Subsets        []Subset `json:"subsets"`

	// GammaThreshold defaults to DefaultGammaThreshold.
	GammaThreshold float64 `json:"gamma_threshold,omitempty"`
	// Workers defaults to the number of CPUs.
	Workers int `json:"workers,omitempty"`
	// CalibrationFile is optional. It is read as XML when its extension is .xml.
	CalibrationFile string `json:"calibration_file,omitempty"`

	ConfigFilePath string `json:"-"`
}

// Subset describes one tracked square subset.
type Subset struct {
	ID   int `json:"id"`
	X    int `json:"x"`
	Y    int `json:"y"`
	Size int `json:"size"`

	// InitialGuess seeds the first frame. Without one the first frame is searched exhaustively.
	InitialGuess *Motion `json:"initial_guess,omitempty"`
	Obstructions []Rect  `json:"obstructions,omitempty"`
}

// Motion is a displacement and rotation.
type Motion struct {
	U     float64 `json:"u"`
	V     float64 `json:"v"`
	Theta float64 `json:"theta"`
}

// Vector returns the motion as an r3.Vector.
func (m Motion) Vector() r3.Vector {
	return r3.Vector{X: m.U, Y: m.V, Z: m.Theta}
}

// Rect is an axis-aligned region of the deformed image.
type Rect struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// R2 returns the rectangle as an r2.Rect.
func (r Rect) R2() r2.Rect {
	return r2.RectFromPoints(r2.Point{X: r.MinX, Y: r.MinY}, r2.Point{X: r.MaxX, Y: r.MaxY})
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate ensures all parts of the subset config are valid.
func (s *Subset) Validate(path string) error {
	if s.Size < 3 {
		return utils.NewConfigValidationError(path, errors.Errorf("size must be at least 3, got %d", s.Size))
	}
	half := s.Size / 2
	if s.X-half < 0 || s.Y-half < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("subset at (%d, %d) extends past the image origin", s.X, s.Y))
	}
	if s.InitialGuess != nil && !finite(s.InitialGuess.U, s.InitialGuess.V, s.InitialGuess.Theta) {
		return utils.NewConfigValidationError(path, errors.New("initial_guess must be finite"))
	}
	for idx, r := range s.Obstructions {
		if !finite(r.MinX, r.MinY, r.MaxX, r.MaxY) || r.MinX > r.MaxX || r.MinY > r.MaxY {
			return utils.NewConfigValidationError(fmt.Sprintf("%s.obstructions.%d", path, idx),
				errors.New("min corner must not exceed max corner"))
		}
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if c.PathFile == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "path_file")
	}
	if c.NumNeighbors <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("num_neighbors must be positive, got %d", c.NumNeighbors))
	}
	if c.ReferenceImage == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "reference_image")
	}
	if len(c.DeformedImages) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "deformed_images")
	}
	if len(c.Subsets) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "subsets")
	}
	if c.GammaThreshold < 0 || !finite(c.GammaThreshold) {
		return utils.NewConfigValidationError(path, errors.Errorf("gamma_threshold must be a non-negative number, got %v", c.GammaThreshold))
	}
	if c.Workers < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("workers must not be negative, got %d", c.Workers))
	}
	seen := make(map[int]bool, len(c.Subsets))
	for idx := range c.Subsets {
		subsetPath := fmt.Sprintf("%s.%s.%d", path, "subsets", idx)
		if err := c.Subsets[idx].Validate(subsetPath); err != nil {
			return err
		}
		if seen[c.Subsets[idx].ID] {
			return utils.NewConfigValidationError(subsetPath, errors.Errorf("subset id %d is not unique", c.Subsets[idx].ID))
		}
		seen[c.Subsets[idx].ID] = true
	}
	return nil
}

// Ensure validates the config, fills in defaults and resolves file paths relative to the
// directory of the config file.
func (c *Config) Ensure() error {
	if err := c.Validate("config"); err != nil {
		return err
	}
	if c.GammaThreshold == 0 {
		c.GammaThreshold = DefaultGammaThreshold
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	c.PathFile = c.resolve(c.PathFile)
	c.ReferenceImage = c.resolve(c.ReferenceImage)
	for i := range c.DeformedImages {
		c.DeformedImages[i] = c.resolve(c.DeformedImages[i])
	}
	if c.CalibrationFile != "" {
		c.CalibrationFile = c.resolve(c.CalibrationFile)
	}
	return nil
}

func (c *Config) resolve(p string) string {
	if c.ConfigFilePath == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(c.ConfigFilePath), p)
}
