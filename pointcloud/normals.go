package pointcloud

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// PlaneNormal estimates the unit normal of the best-fit plane through the
// given points by PCA: the eigenvector of the neighborhood covariance with
// the smallest eigenvalue. Returns the zero vector for degenerate
// neighborhoods (fewer than 3 points).
func PlaneNormal(pts []Vec3) r3.Vector {
	if len(pts) < 3 {
		return r3.Vector{}
	}
	var c r3.Vector
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	var xx, xy, xz, yy, yz, zz float64
	for _, p := range pts {
		d := p.Sub(c)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	cov := mat.NewSymDense(3, []float64{xx, xy, xz, xy, yy, yz, xz, yz, zz})

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return r3.Vector{}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// eigenvalues are sorted ascending; column 0 spans the direction of
	// least variance.
	n := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	if n.Norm() == 0 {
		return r3.Vector{}
	}
	return n.Normalize()
}

// NormalsFromPositions estimates one normal per position from its radius
// neighborhood, capped at maxNeighbors, reusing the supplied tree.
func NormalsFromPositions(pts []Vec3, tree *KDTree, radius float64, maxNeighbors int) []r3.Vector {
	normals := make([]r3.Vector, len(pts))
	neighborhood := make([]Vec3, 0, maxNeighbors)
	for i, p := range pts {
		neighborhood = neighborhood[:0]
		for _, j := range tree.RadiusSearch(p, radius, maxNeighbors) {
			neighborhood = append(neighborhood, pts[j])
		}
		normals[i] = PlaneNormal(neighborhood)
	}
	return normals
}

// EstimateNormals computes a surface normal for every point of the cloud
// from its radius neighborhood and returns a new cloud carrying them.
func EstimateNormals(cloud PointCloud, radius float64, maxNeighbors int) PointCloud {
	pts := VectorsOf(cloud)
	tree := NewKDTree(pts)
	normals := NormalsFromPositions(pts, tree, radius, maxNeighbors)

	out := NewWithPrealloc(cloud.Size())
	i := 0
	cloud.Iterate(0, 0, func(p Vec3, d Data) bool {
		if d == nil {
			d = NewBasicData()
		}
		if normals[i].Norm() > 0 {
			d = d.SetNormal(normals[i])
		}
		i++
		//nolint:errcheck // Set on a fresh basic cloud cannot fail
		out.Set(p, d)
		return true
	})
	return out
}
