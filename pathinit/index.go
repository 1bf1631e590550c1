package pathinit

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/dice/logging"
)

// Index bundles a Catalog with its k-d tree and the precomputed neighbor table.
//
// An Index is immutable after construction and safe for concurrent use; per-subset state
// lives in the Initializer values created from it.
type Index struct {
	catalog      *Catalog
	cloud        []r3.Vector
	tree         *spatialIndex
	numNeighbors int
	// neighbors[id*numNeighbors+i] is the i-th nearest catalog id to id. Slot 0 is id itself.
	neighbors []int
	logger    logging.Logger
}

// NewIndex builds the spatial index and neighbor table over cat.
func NewIndex(cat *Catalog, numNeighbors int, logger logging.Logger) (*Index, error) {
	if cat == nil || cat.Size() == 0 {
		return nil, ErrEmptyCatalog
	}
	if numNeighbors <= 0 || numNeighbors > cat.Size() {
		return nil, errors.Wrapf(ErrInvalidNeighbors, "%d requested, catalog holds %d triads", numNeighbors, cat.Size())
	}

	n := cat.Size()
	idx := &Index{
		catalog:      cat,
		cloud:        make([]r3.Vector, n),
		numNeighbors: numNeighbors,
		neighbors:    make([]int, n*numNeighbors),
		logger:       logger,
	}
	for id := 0; id < n; id++ {
		idx.cloud[id] = cat.Triad(id).Vector()
	}

	logger.Debugw("building the kd-tree", "triads", n)
	idx.tree = newSpatialIndex(idx.cloud)

	logger.Debugw("building the neighbor table", "neighbors", numNeighbors)
	for id := 0; id < n; id++ {
		nbrs := idx.tree.kNearest(idx.cloud[id], numNeighbors)
		if len(nbrs) != numNeighbors {
			return nil, errors.Errorf("neighbor query for triad %d returned %d of %d neighbors", id, len(nbrs), numNeighbors)
		}
		row := idx.neighbors[id*numNeighbors : (id+1)*numNeighbors]
		for i, nb := range nbrs {
			row[i] = nb.ID
		}
	}
	return idx, nil
}

// NewIndexFromFile loads a path file and indexes it.
func NewIndexFromFile(path string, numNeighbors int, logger logging.Logger, opts ...CatalogOption) (*Index, error) {
	if numNeighbors <= 0 {
		return nil, errors.Wrapf(ErrInvalidNeighbors, "%d requested", numNeighbors)
	}
	cat, err := LoadCatalog(path, logger, opts...)
	if err != nil {
		return nil, err
	}
	return NewIndex(cat, numNeighbors, logger)
}

// Catalog returns the indexed catalog.
func (idx *Index) Catalog() *Catalog {
	return idx.catalog
}

// Size is the number of catalog triads.
func (idx *Index) Size() int {
	return len(idx.cloud)
}

// NumNeighbors is the neighbor table width.
func (idx *Index) NumNeighbors() int {
	return idx.numNeighbors
}

// Triad returns the catalog triad with the given id.
func (idx *Index) Triad(id int) Triad {
	return idx.catalog.Triad(id)
}

// Neighbor returns the i-th nearest catalog id to id.
func (idx *Index) Neighbor(id, i int) int {
	return idx.neighbors[id*idx.numNeighbors+i]
}

// Neighbors returns a copy of the neighbor list of id.
func (idx *Index) Neighbors(id int) []int {
	out := make([]int, idx.numNeighbors)
	copy(out, idx.neighbors[id*idx.numNeighbors:(id+1)*idx.numNeighbors])
	return out
}

// ClosestTriad returns the id of the catalog triad nearest to (u, v, t) and its squared
// distance. The query need not lie on the catalog grid.
func (idx *Index) ClosestTriad(u, v, t float64) (int, float64) {
	nb := idx.tree.nearest(r3.Vector{X: u, Y: v, Z: t})
	return nb.ID, nb.DistSq
}

// KNearest returns the k catalog triads nearest to (u, v, t), closest first.
func (idx *Index) KNearest(u, v, t float64, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	if k > idx.Size() {
		k = idx.Size()
	}
	return idx.tree.kNearest(r3.Vector{X: u, Y: v, Z: t}, k)
}
