package align

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/structlight/structlight/pointcloud"
)

const (
	featureBins = 11
	featureDim  = 3 * featureBins
)

// Feature is a fast point feature histogram: three 11-bin angular
// histograms over a point's neighborhood, concatenated.
type Feature [featureDim]float64

// pairAngles computes the Darboux-frame angle triplet for an oriented point
// pair. Returns ok=false for coincident points.
func pairAngles(ps, pt r3.Vector, ns, nt r3.Vector) (alpha, phi, theta float64, ok bool) {
	d := pt.Sub(ps)
	dist := d.Norm()
	if dist == 0 {
		return 0, 0, 0, false
	}
	d = d.Mul(1 / dist)

	// source is the point whose normal is better aligned with the pair axis
	if math.Abs(ns.Dot(d)) < math.Abs(nt.Dot(d)) {
		ps, pt = pt, ps
		ns, nt = nt, ns
		d = d.Mul(-1)
	}

	u := ns
	v := d.Cross(u)
	if v.Norm() == 0 {
		return 0, 0, 0, false
	}
	v = v.Normalize()
	w := u.Cross(v)

	alpha = v.Dot(nt)
	phi = u.Dot(d)
	theta = math.Atan2(w.Dot(nt), u.Dot(nt))
	return alpha, phi, theta, true
}

func (f *Feature) accumulate(alpha, phi, theta float64, weight float64) {
	f[binIndex(alpha, -1, 1)] += weight
	f[featureBins+binIndex(phi, -1, 1)] += weight
	f[2*featureBins+binIndex(theta, -math.Pi, math.Pi)] += weight
}

func binIndex(v, lo, hi float64) int {
	i := int(float64(featureBins) * (v - lo) / (hi - lo))
	if i < 0 {
		return 0
	}
	if i >= featureBins {
		return featureBins - 1
	}
	return i
}

func (f *Feature) normalize() {
	for block := 0; block < 3; block++ {
		sum := 0.0
		for i := 0; i < featureBins; i++ {
			sum += f[block*featureBins+i]
		}
		if sum == 0 {
			continue
		}
		for i := 0; i < featureBins; i++ {
			f[block*featureBins+i] /= sum
		}
	}
}

func featureDist2(a, b Feature) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// computeFeatures builds an FPFH per point: each point's own simplified
// histogram blended with its neighbors' histograms, distance-weighted, the
// way Rusu's estimator does.
func computeFeatures(pts []pointcloud.Vec3, normals []r3.Vector, tree *pointcloud.KDTree, radius float64, maxNeighbors int) []Feature {
	n := len(pts)
	neighborSets := make([][]int, n)
	for i, p := range pts {
		nn := tree.RadiusSearch(p, radius, maxNeighbors)
		set := nn[:0]
		for _, j := range nn {
			if j != i {
				set = append(set, j)
			}
		}
		neighborSets[i] = set
	}

	simple := make([]Feature, n)
	for i, p := range pts {
		for _, j := range neighborSets[i] {
			alpha, phi, theta, ok := pairAngles(p, pts[j], normals[i], normals[j])
			if !ok {
				continue
			}
			simple[i].accumulate(alpha, phi, theta, 1)
		}
		simple[i].normalize()
	}

	out := make([]Feature, n)
	for i, p := range pts {
		out[i] = simple[i]
		k := len(neighborSets[i])
		if k == 0 {
			continue
		}
		for _, j := range neighborSets[i] {
			w := pts[j].Sub(p).Norm()
			if w == 0 {
				continue
			}
			scale := 1 / (float64(k) * w)
			for b := range out[i] {
				out[i][b] += scale * simple[j][b]
			}
		}
		out[i].normalize()
	}
	return out
}

// matchFeatures pairs every source point with its nearest destination
// point in feature space.
func matchFeatures(src, dst []Feature) []int {
	matches := make([]int, len(src))
	for i := range src {
		best, bestDist := -1, math.Inf(1)
		for j := range dst {
			if d := featureDist2(src[i], dst[j]); d < bestDist {
				best, bestDist = j, d
			}
		}
		matches[i] = best
	}
	return matches
}
