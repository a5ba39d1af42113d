// Package align registers partial scans of an object taken from different
// turntable angles into one cloud. Each scan is coarsely aligned to its
// predecessor from shape features, refined with point-to-plane ICP, and
// chained through accumulated transforms into the first scan's frame.
package align

import (
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/structlight/structlight/pointcloud"
)

// ErrRegistrationFailed is returned when two consecutive scans cannot be
// brought into agreement. A merge with a broken link in the chain would
// place every later scan wrongly, so the whole merge fails.
var ErrRegistrationFailed = errors.New("scan registration failed")

const (
	normalRadiusFactor   = 2
	normalMaxNeighbors   = 30
	featureRadiusFactor  = 5
	featureMaxNeighbors  = 100
	ransacDistanceFactor = 1.5

	outlierNeighbors = 20
	outlierStdRatio  = 2.0
)

// Aligner holds the registration tuning. VoxelSize sets the working
// resolution everything else is scaled from and should be on the order of
// the scanner's point spacing.
type Aligner struct {
	VoxelSize float64

	// Seed fixes the RANSAC sampling sequence. Zero seeds from the stock
	// source, any other value makes registration reproducible.
	Seed int64

	Logger golog.Logger
}

// NewAligner returns an Aligner at the given working resolution.
func NewAligner(voxelSize float64, logger golog.Logger) *Aligner {
	return &Aligner{VoxelSize: voxelSize, Logger: logger}
}

// scanShape is a scan downsampled to working resolution with the derived
// per-point support registration needs.
type scanShape struct {
	pts      []pointcloud.Vec3
	tree     *pointcloud.KDTree
	normals  []r3.Vector
	features []Feature
}

func (a *Aligner) prepare(cloud pointcloud.PointCloud) (*scanShape, error) {
	down := pointcloud.VoxelDownsample(cloud, a.VoxelSize)
	pts := pointcloud.VectorsOf(down)
	if len(pts) < ransacSampleSize {
		return nil, errors.Errorf("scan reduces to %d points at voxel size %g", len(pts), a.VoxelSize)
	}
	tree := pointcloud.NewKDTree(pts)
	normals := pointcloud.NormalsFromPositions(pts, tree, normalRadiusFactor*a.VoxelSize, normalMaxNeighbors)
	features := computeFeatures(pts, normals, tree, featureRadiusFactor*a.VoxelSize, featureMaxNeighbors)
	return &scanShape{pts: pts, tree: tree, normals: normals, features: features}, nil
}

func (a *Aligner) rng() *rand.Rand {
	if a.Seed != 0 {
		return rand.New(rand.NewSource(a.Seed)) //nolint:gosec
	}
	return rand.New(rand.NewSource(rand.Int63())) //nolint:gosec
}

// Register estimates the rigid transform taking src into dst's frame.
func (a *Aligner) Register(src, dst pointcloud.PointCloud) (pointcloud.RigidTransform, error) {
	srcShape, err := a.prepare(src)
	if err != nil {
		return pointcloud.RigidTransform{}, errors.Wrap(ErrRegistrationFailed, err.Error())
	}
	dstShape, err := a.prepare(dst)
	if err != nil {
		return pointcloud.RigidTransform{}, errors.Wrap(ErrRegistrationFailed, err.Error())
	}

	matches := matchFeatures(srcShape.features, dstShape.features)
	coarse, err := ransacFeatureAlign(
		srcShape.pts, dstShape.pts, matches, dstShape.tree,
		ransacDistanceFactor*a.VoxelSize, a.rng(),
	)
	if err != nil {
		return pointcloud.RigidTransform{}, errors.Wrap(ErrRegistrationFailed, err.Error())
	}
	a.Logger.Debugw("coarse alignment",
		"fitness", coarse.fitness, "inliers", coarse.inliers, "points", len(srcShape.pts))

	refined, err := icpPointToPlane(
		srcShape.pts, dstShape.tree, dstShape.normals,
		coarse.transform, a.VoxelSize,
	)
	if err != nil {
		return pointcloud.RigidTransform{}, errors.Wrap(ErrRegistrationFailed, err.Error())
	}
	a.Logger.Debugw("refined alignment", "fitness", refined.fitness, "rmse", refined.rmse)
	return refined.transform, nil
}

// MergeSequential registers every scan against its predecessor and
// accumulates the chain into the first scan's frame, then cleans up the
// combined cloud. Scans must be ordered as captured; neighbors in the
// sequence are the only pairs with enough overlap to register.
func (a *Aligner) MergeSequential(clouds []pointcloud.PointCloud) (pointcloud.PointCloud, error) {
	if len(clouds) < 2 {
		return nil, errors.Errorf("need at least 2 scans to merge, got %d", len(clouds))
	}

	merged := pointcloud.New()
	accum := pointcloud.IdentityTransform()
	for i, cloud := range clouds {
		if i > 0 {
			local, err := a.Register(cloud, clouds[i-1])
			if err != nil {
				return nil, errors.Wrapf(err, "scan %d against %d", i, i-1)
			}
			accum = accum.Compose(local)
			a.Logger.Infow("scan registered",
				"scan", i, "rotation_deg", accum.RotationAngle()*180/math.Pi)
		}
		if err := pointcloud.ApplyOffset(cloud, accum, merged); err != nil {
			return nil, err
		}
	}

	final := pointcloud.VoxelDownsample(merged, a.VoxelSize)
	final, err := pointcloud.RemoveStatisticalOutliers(final, outlierNeighbors, outlierStdRatio)
	if err != nil {
		return nil, err
	}
	final = pointcloud.EstimateNormals(final, normalRadiusFactor*a.VoxelSize, normalMaxNeighbors)
	a.Logger.Infow("merge complete", "scans", len(clouds), "points", final.Size())
	return final, nil
}
