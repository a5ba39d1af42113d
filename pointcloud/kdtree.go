package pointcloud

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDTree indexes a fixed set of positions for nearest-neighbor and radius
// queries. Queries return indices into the slice the tree was built from.
type KDTree struct {
	tree *kdtree.Tree
	pts  []Vec3
}

// treePoint carries the source index through gonum's kd-tree.
type treePoint struct {
	vec Vec3
	idx int
}

func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	switch d {
	case 0:
		return p.vec.X - q.vec.X
	case 1:
		return p.vec.Y - q.vec.Y
	default:
		return p.vec.Z - q.vec.Z
	}
}

func (p treePoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance, per the gonum kd-tree
// convention.
func (p treePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(treePoint)
	return p.vec.Sub(q.vec).Norm2()
}

type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable { return p[i] }
func (p treePoints) Len() int                      { return len(p) }
func (p treePoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p treePoints) Pivot(d kdtree.Dim) int {
	return treePlane{Dim: d, treePoints: p}.Pivot()
}

type treePlane struct {
	kdtree.Dim
	treePoints
}

func (p treePlane) Less(i, j int) bool {
	return p.treePoints[i].Compare(p.treePoints[j], p.Dim) < 0
}
func (p treePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p treePlane) Slice(start, end int) kdtree.SortSlicer {
	p.treePoints = p.treePoints[start:end]
	return p
}
func (p treePlane) Swap(i, j int) {
	p.treePoints[i], p.treePoints[j] = p.treePoints[j], p.treePoints[i]
}

// NewKDTree builds a tree over the given positions.
func NewKDTree(pts []Vec3) *KDTree {
	data := make(treePoints, len(pts))
	for i, p := range pts {
		data[i] = treePoint{vec: p, idx: i}
	}
	return &KDTree{tree: kdtree.New(data, false), pts: pts}
}

// Len returns the number of indexed points.
func (t *KDTree) Len() int { return len(t.pts) }

// At returns the indexed position i.
func (t *KDTree) At(i int) Vec3 { return t.pts[i] }

// Nearest returns the index of the closest indexed point to q and its
// Euclidean distance.
func (t *KDTree) Nearest(q Vec3) (int, float64) {
	c, dist := t.tree.Nearest(treePoint{vec: q, idx: -1})
	if c == nil {
		return -1, math.Inf(1)
	}
	return c.(treePoint).idx, math.Sqrt(dist)
}

// KNN returns the indices of up to k nearest indexed points to q, closest
// first.
func (t *KDTree) KNN(q Vec3, k int) []int {
	if k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keep, treePoint{vec: q, idx: -1})
	type hit struct {
		idx  int
		dist float64
	}
	hits := make([]hit, 0, k)
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		hits = append(hits, hit{idx: cd.Comparable.(treePoint).idx, dist: cd.Dist})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.idx
	}
	return out
}

// RadiusSearch returns the indices of indexed points within radius of q,
// closest first, capped at maxNeighbors (0 means no cap).
func (t *KDTree) RadiusSearch(q Vec3, radius float64, maxNeighbors int) []int {
	keep := kdtree.NewDistKeeper(radius * radius)
	t.tree.NearestSet(keep, treePoint{vec: q, idx: -1})
	type hit struct {
		idx  int
		dist float64
	}
	hits := make([]hit, 0, len(keep.Heap))
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		hits = append(hits, hit{idx: cd.Comparable.(treePoint).idx, dist: cd.Dist})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if maxNeighbors > 0 && len(hits) > maxNeighbors {
		hits = hits[:maxNeighbors]
	}
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.idx
	}
	return out
}
