package pathinit

import "github.com/pkg/errors"

var (
	// ErrEmptyCatalog is returned when a path file yields no triads.
	ErrEmptyCatalog = errors.New("path file contains no motion samples")
	// ErrInvalidNeighbors is returned when the neighbor count is zero or exceeds the catalog size.
	ErrInvalidNeighbors = errors.New("invalid number of neighbors")
	// ErrMalformedLine is returned for a path file line that is not a motion sample.
	ErrMalformedLine = errors.New("malformed path file line")
	// ErrNoMatch is returned by an exhaustive search in which no candidate produced a finite score.
	ErrNoMatch = errors.New("no catalog triad produced a finite mismatch score")
	// ErrShortVector is returned when a deformation vector cannot hold displacement and rotation.
	ErrShortVector = errors.New("deformation vector too short")
)

func newMalformedLineError(line int, msg string) error {
	return errors.Wrapf(ErrMalformedLine, "line %d: %s", line, msg)
}
