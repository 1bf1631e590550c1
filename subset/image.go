// Package subset implements the image-matching oracle used to score deformation hypotheses:
// grayscale images with sub-pixel sampling, and subsets that compare reference intensities
// against the deformed image under a candidate motion.
package subset

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
)

// Image is a grayscale image stored as float intensities in [0, 255].
type Image struct {
	width       int
	height      int
	intensities []float64
}

// NewImage converts any image to grayscale intensities.
func NewImage(img image.Image) *Image {
	b := img.Bounds()
	out := &Image{width: b.Dx(), height: b.Dy(), intensities: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < out.height; y++ {
		for x := 0; x < out.width; x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out.intensities[y*out.width+x] = float64(g.Y) / 257.0
		}
	}
	return out
}

// NewImageFromFunc builds a width x height image whose pixel (x, y) has intensity f(x, y).
func NewImageFromFunc(width, height int, f func(x, y int) float64) *Image {
	out := &Image{width: width, height: height, intensities: make([]float64, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.intensities[y*width+x] = f(x, y)
		}
	}
	return out
}

// NewImageFromFile decodes the image at path as grayscale. Besides the formats imaging
// understands, binary PPM frames are accepted.
func NewImageFromFile(path string) (*Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open image %q", path)
	}
	return NewImage(imaging.Grayscale(img)), nil
}

// Width of the image in pixels.
func (img *Image) Width() int {
	return img.width
}

// Height of the image in pixels.
func (img *Image) Height() int {
	return img.height
}

// At returns the intensity at integer pixel (x, y). It panics when out of bounds.
func (img *Image) At(x, y int) float64 {
	return img.intensities[y*img.width+x]
}

// Contains reports whether (x, y) can be interpolated.
func (img *Image) Contains(x, y float64) bool {
	return x >= 0 && y >= 0 && x <= float64(img.width-1) && y <= float64(img.height-1)
}

// Interpolate returns the bilinearly interpolated intensity at (x, y). The second return
// is false when the location falls outside the image.
func (img *Image) Interpolate(x, y float64) (float64, bool) {
	if !img.Contains(x, y) {
		return 0, false
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 >= img.width {
		x1 = x0
	}
	if y1 >= img.height {
		y1 = y0
	}
	fx, fy := x-float64(x0), y-float64(y0)
	a := img.At(x0, y0)
	b := img.At(x1, y0)
	c := img.At(x0, y1)
	d := img.At(x1, y1)
	return a*(1-fx)*(1-fy) + b*fx*(1-fy) + c*(1-fx)*fy + d*fx*fy, true
}
