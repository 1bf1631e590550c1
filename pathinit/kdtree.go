package pathinit

import (
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// catalogPoint is a catalog triad placed in (u, v, theta) space, remembering its catalog id
// because building the tree reorders the points.
type catalogPoint struct {
	id int
	p  r3.Vector
}

func (cp *catalogPoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return cp.p.X
	case 1:
		return cp.p.Y
	default:
		return cp.p.Z
	}
}

// Compare returns the signed distance of cp from the plane passing through c and
// perpendicular to the dimension d.
func (cp *catalogPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return cp.coord(d) - c.(*catalogPoint).coord(d)
}

// Dims returns the number of dimensions described by the receiver.
func (cp *catalogPoint) Dims() int {
	return 3
}

// Distance returns the squared Euclidean distance between the receiver and c.
func (cp *catalogPoint) Distance(c kdtree.Comparable) float64 {
	return cp.p.Sub(c.(*catalogPoint).p).Norm2()
}

type catalogPoints []*catalogPoint

func (cps catalogPoints) Index(i int) kdtree.Comparable { return cps[i] }

func (cps catalogPoints) Len() int { return len(cps) }

func (cps catalogPoints) Pivot(d kdtree.Dim) int {
	return plane{catalogPoints: cps, Dim: d}.Pivot()
}

func (cps catalogPoints) Slice(start, end int) kdtree.Interface { return cps[start:end] }

// plane is a sortable view of catalogPoints along one dimension.
type plane struct {
	kdtree.Dim
	catalogPoints
}

func (p plane) Less(i, j int) bool {
	return p.catalogPoints[i].coord(p.Dim) < p.catalogPoints[j].coord(p.Dim)
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{Dim: p.Dim, catalogPoints: p.catalogPoints[start:end]}
}

func (p plane) Swap(i, j int) {
	p.catalogPoints[i], p.catalogPoints[j] = p.catalogPoints[j], p.catalogPoints[i]
}

// Neighbor is a catalog id with its squared distance from a query point.
type Neighbor struct {
	ID     int
	DistSq float64
}

// spatialIndex is a static k-d tree over the catalog. Queries do not mutate the tree and
// may run concurrently.
type spatialIndex struct {
	tree *kdtree.Tree
}

func newSpatialIndex(cloud []r3.Vector) *spatialIndex {
	pts := make(catalogPoints, len(cloud))
	for i, p := range cloud {
		pts[i] = &catalogPoint{id: i, p: p}
	}
	return &spatialIndex{tree: kdtree.New(pts, false)}
}

func (si *spatialIndex) nearest(q r3.Vector) Neighbor {
	c, d := si.tree.Nearest(&catalogPoint{id: -1, p: q})
	return Neighbor{ID: c.(*catalogPoint).id, DistSq: d}
}

// kNearest returns up to k neighbors of q ordered by distance, then id.
func (si *spatialIndex) kNearest(q r3.Vector, k int) []Neighbor {
	keep := kdtree.NewNKeeper(k)
	si.tree.NearestSet(keep, &catalogPoint{id: -1, p: q})
	out := make([]Neighbor, 0, k)
	for _, c := range keep.Heap {
		if c.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{ID: c.Comparable.(*catalogPoint).id, DistSq: c.Dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistSq != out[j].DistSq {
			return out[i].DistSq < out[j].DistSq
		}
		return out[i].ID < out[j].ID
	})
	return out
}
