package pathinit

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/dice/logging"
)

// Catalog is the sorted, deduplicated set of quantized triads read from a path file.
// A triad's position in the catalog is its id. A Catalog is immutable once built.
type Catalog struct {
	triads []Triad
	lines  int
}

type catalogOptions struct {
	idColumn bool
}

// CatalogOption configures path file parsing.
type CatalogOption func(*catalogOptions)

// WithIDColumn makes the parser accept, and discard, a leading id column on every line.
// Without it a four column line is rejected rather than read with shifted columns.
func WithIDColumn() CatalogOption {
	return func(o *catalogOptions) {
		o.idColumn = true
	}
}

// NewCatalog quantizes and deduplicates raw samples given as (u, v, theta) vectors.
func NewCatalog(samples []r3.Vector) (*Catalog, error) {
	triads := make([]Triad, 0, len(samples))
	for _, s := range samples {
		triads = append(triads, Quantize(s.X, s.Y, s.Z))
	}
	return newCatalogFromTriads(triads, len(samples))
}

func newCatalogFromTriads(triads []Triad, lines int) (*Catalog, error) {
	if len(triads) == 0 {
		return nil, ErrEmptyCatalog
	}
	sort.Slice(triads, func(i, j int) bool {
		return triads[i].Less(triads[j])
	})
	unique := triads[:1]
	for _, tr := range triads[1:] {
		if tr.Compare(unique[len(unique)-1]) != 0 {
			unique = append(unique, tr)
		}
	}
	return &Catalog{triads: unique, lines: lines}, nil
}

// ParseCatalog reads a path file: one "u v theta" sample per line, whitespace separated.
// Blank lines and lines starting with '#' are skipped.
func ParseCatalog(r io.Reader, opts ...CatalogOption) (*Catalog, error) {
	var o catalogOptions
	for _, opt := range opts {
		opt(&o)
	}
	want := 3
	if o.idColumn {
		want = 4
	}

	var triads []Triad
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != want {
			return nil, newMalformedLineError(lineNum, strconv.Itoa(len(fields))+" columns, expected "+strconv.Itoa(want))
		}
		fields = fields[want-3:]
		var vals [3]float64
		for i, f := range fields {
			val, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, newMalformedLineError(lineNum, "non-numeric value "+strconv.Quote(f))
			}
			vals[i] = val
		}
		triads = append(triads, Quantize(vals[0], vals[1], vals[2]))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading path file")
	}
	return newCatalogFromTriads(triads, len(triads))
}

// LoadCatalog opens and parses the path file at path.
func LoadCatalog(path string, logger logging.Logger, opts ...CatalogOption) (*Catalog, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load path file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	cat, err := ParseCatalog(f, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "path file %q", path)
	}
	logger.Debugw("loaded path file", "file", path, "samples", cat.Samples(), "triads", cat.Size())
	return cat, nil
}

// Size is the number of distinct triads.
func (c *Catalog) Size() int {
	return len(c.triads)
}

// Samples is the number of motion samples read before deduplication.
func (c *Catalog) Samples() int {
	return c.lines
}

// Triad returns the triad with the given id.
func (c *Catalog) Triad(id int) Triad {
	return c.triads[id]
}

// Triads returns a copy of the catalog in id order.
func (c *Catalog) Triads() []Triad {
	out := make([]Triad, len(c.triads))
	copy(out, c.triads)
	return out
}

// ID returns the id of tr, which must already be quantized.
func (c *Catalog) ID(tr Triad) (int, bool) {
	i := sort.Search(len(c.triads), func(i int) bool {
		return c.triads[i].Compare(tr) >= 0
	})
	if i < len(c.triads) && c.triads[i].Compare(tr) == 0 {
		return i, true
	}
	return -1, false
}
