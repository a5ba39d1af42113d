package align

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/structlight/structlight/pointcloud"
)

const (
	ransacMaxIterations  = 100000
	ransacConfidence     = 0.999
	ransacEdgeSimilarity = 0.9
	ransacSampleSize     = 3
)

// kabsch solves the least-squares rigid transform taking src onto dst.
func kabsch(src, dst []pointcloud.Vec3) (pointcloud.RigidTransform, error) {
	if len(src) != len(dst) || len(src) < 3 {
		return pointcloud.RigidTransform{}, errors.Errorf("kabsch needs >=3 matched points, got %d and %d", len(src), len(dst))
	}
	var cs, cd r3.Vector
	for i := range src {
		cs = cs.Add(src[i])
		cd = cd.Add(dst[i])
	}
	n := float64(len(src))
	cs = cs.Mul(1 / n)
	cd = cd.Mul(1 / n)

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(cs)
		d := dst[i].Sub(cd)
		h.Set(0, 0, h.At(0, 0)+s.X*d.X)
		h.Set(0, 1, h.At(0, 1)+s.X*d.Y)
		h.Set(0, 2, h.At(0, 2)+s.X*d.Z)
		h.Set(1, 0, h.At(1, 0)+s.Y*d.X)
		h.Set(1, 1, h.At(1, 1)+s.Y*d.Y)
		h.Set(1, 2, h.At(1, 2)+s.Y*d.Z)
		h.Set(2, 0, h.At(2, 0)+s.Z*d.X)
		h.Set(2, 1, h.At(2, 1)+s.Z*d.Y)
		h.Set(2, 2, h.At(2, 2)+s.Z*d.Z)
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return pointcloud.RigidTransform{}, errors.New("kabsch svd failed to factorize")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var tmp mat.Dense
		tmp.Mul(&v, d)
		rot.Mul(&tmp, u.T())
	}

	rcs := r3.Vector{
		X: rot.At(0, 0)*cs.X + rot.At(0, 1)*cs.Y + rot.At(0, 2)*cs.Z,
		Y: rot.At(1, 0)*cs.X + rot.At(1, 1)*cs.Y + rot.At(1, 2)*cs.Z,
		Z: rot.At(2, 0)*cs.X + rot.At(2, 1)*cs.Y + rot.At(2, 2)*cs.Z,
	}
	return pointcloud.NewRigidTransform(&rot, cd.Sub(rcs))
}

type ransacResult struct {
	transform pointcloud.RigidTransform
	fitness   float64
	inliers   int
}

// ransacFeatureAlign estimates a coarse src-to-dst transform from feature
// correspondences: repeatedly fit a transform to three sampled matches,
// keep the one with the most geometric inliers, and stop early once the
// confidence target is met.
func ransacFeatureAlign(
	src, dst []pointcloud.Vec3,
	matches []int,
	dstTree *pointcloud.KDTree,
	distThreshold float64,
	rng *rand.Rand,
) (ransacResult, error) {
	if len(src) < ransacSampleSize || len(dst) < ransacSampleSize {
		return ransacResult{}, errors.Errorf("too few points to register: %d and %d", len(src), len(dst))
	}

	var best ransacResult
	maxIter := ransacMaxIterations
	sampleSrc := make([]pointcloud.Vec3, ransacSampleSize)
	sampleDst := make([]pointcloud.Vec3, ransacSampleSize)

	for iter := 0; iter < maxIter; iter++ {
		i0 := rng.Intn(len(src))
		i1 := rng.Intn(len(src))
		i2 := rng.Intn(len(src))
		if i0 == i1 || i1 == i2 || i0 == i2 {
			continue
		}
		idx := [ransacSampleSize]int{i0, i1, i2}
		for k, i := range idx {
			sampleSrc[k] = src[i]
			sampleDst[k] = dst[matches[i]]
		}
		if !edgesSimilar(sampleSrc, sampleDst) {
			continue
		}

		tr, err := kabsch(sampleSrc, sampleDst)
		if err != nil {
			continue
		}

		inliers := 0
		for i := range src {
			moved := tr.Apply(src[i])
			if _, d := dstTree.Nearest(moved); d < distThreshold {
				inliers++
			}
		}
		fitness := float64(inliers) / float64(len(src))
		if inliers > best.inliers {
			best = ransacResult{transform: tr, fitness: fitness, inliers: inliers}
			if fitness > 0 {
				// expected iterations to have sampled one all-inlier triple
				needed := math.Log(1-ransacConfidence) / math.Log(1-math.Pow(fitness, ransacSampleSize))
				if !math.IsNaN(needed) && !math.IsInf(needed, 0) && int(needed)+1 < maxIter {
					maxIter = iter + int(needed) + 1
				}
			}
		}
	}

	if best.inliers == 0 {
		return ransacResult{}, errors.New("ransac found no geometric consensus")
	}
	return best, nil
}

// edgesSimilar rejects samples whose triangle in the source does not match
// the matched triangle in the destination, the cheap polygon check that
// filters most bad feature matches before a fit is attempted.
func edgesSimilar(src, dst []pointcloud.Vec3) bool {
	for i := 0; i < len(src); i++ {
		for j := i + 1; j < len(src); j++ {
			es := src[i].Sub(src[j]).Norm()
			ed := dst[i].Sub(dst[j]).Norm()
			if es < ransacEdgeSimilarity*ed || ed < ransacEdgeSimilarity*es {
				return false
			}
		}
	}
	return true
}
