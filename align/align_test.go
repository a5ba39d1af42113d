package align

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/structlight/structlight/pointcloud"
)

// bowlCloud samples a shallow bowl on a grid; curvature gives normals and
// features something to grip.
func bowlCloud(n int, spacing float64) pointcloud.PointCloud {
	pc := pointcloud.New()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x := (float64(i) - float64(n)/2) * spacing
			y := (float64(j) - float64(n)/2) * spacing
			z := 0.05 * (x*x + y*y)
			pc.Set(pointcloud.NewVector(x, y, z), nil) //nolint:errcheck
		}
	}
	return pc
}

func transformed(cloud pointcloud.PointCloud, tr pointcloud.RigidTransform) pointcloud.PointCloud {
	out := pointcloud.New()
	if err := pointcloud.ApplyOffset(cloud, tr, out); err != nil {
		panic(err)
	}
	return out
}

func TestKabschRecoversTransform(t *testing.T) {
	theta := 0.3
	rot := mat.NewDense(3, 3, []float64{
		math.Cos(theta), -math.Sin(theta), 0,
		math.Sin(theta), math.Cos(theta), 0,
		0, 0, 1,
	})
	want, err := pointcloud.NewRigidTransform(rot, r3.Vector{X: 1, Y: -2, Z: 0.5})
	test.That(t, err, test.ShouldBeNil)

	src := []pointcloud.Vec3{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {2, 3, -1},
	}
	dst := make([]pointcloud.Vec3, len(src))
	for i, s := range src {
		dst[i] = want.Apply(s)
	}

	got, err := kabsch(src, dst)
	test.That(t, err, test.ShouldBeNil)
	for _, s := range src {
		diff := got.Apply(s).Sub(want.Apply(s))
		test.That(t, diff.Norm(), test.ShouldBeLessThan, 1e-9)
	}

	_, err = kabsch(src[:2], dst[:2])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEdgesSimilar(t *testing.T) {
	src := []pointcloud.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	same := []pointcloud.Vec3{{5, 5, 5}, {6, 5, 5}, {5, 6, 5}}
	test.That(t, edgesSimilar(src, same), test.ShouldBeTrue)

	stretched := []pointcloud.Vec3{{0, 0, 0}, {2, 0, 0}, {0, 1, 0}}
	test.That(t, edgesSimilar(src, stretched), test.ShouldBeFalse)
}

func TestSmallMotionZeroIsIdentity(t *testing.T) {
	tr, err := smallMotion(0, 0, 0, 0, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	p := r3.Vector{X: 3, Y: -2, Z: 7}
	test.That(t, tr.Apply(p).Sub(p).Norm(), test.ShouldBeLessThan, 1e-12)
	test.That(t, tr.RotationAngle(), test.ShouldAlmostEqual, 0)
}

func TestRegisterSelfIsIdentity(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cloud := bowlCloud(15, 0.5)

	a := NewAligner(0.5, logger)
	a.Seed = 1
	tr, err := a.Register(cloud, cloud)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tr.RotationAngle(), test.ShouldBeLessThan, 1e-3)
	test.That(t, tr.Translation().Norm(), test.ShouldBeLessThan, 1e-3)
}

func TestRegisterRecoversOffset(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dst := bowlCloud(15, 0.5)
	offset, err := pointcloud.NewRigidTransform(
		mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		r3.Vector{X: 0.3, Y: -0.2, Z: 0.1},
	)
	test.That(t, err, test.ShouldBeNil)
	src := transformed(dst, offset)

	a := NewAligner(0.5, logger)
	a.Seed = 1
	tr, err := a.Register(src, dst)
	test.That(t, err, test.ShouldBeNil)

	// registering the shifted copy back recovers the inverse shift
	residual := tr.Apply(r3.Vector{X: 0.3, Y: -0.2, Z: 0.1}).Norm()
	test.That(t, residual, test.ShouldBeLessThan, 0.1)
}

func TestRegisterTooSmallFails(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tiny := pointcloud.New()
	test.That(t, tiny.Set(pointcloud.NewVector(0, 0, 0), nil), test.ShouldBeNil)
	test.That(t, tiny.Set(pointcloud.NewVector(1, 0, 0), nil), test.ShouldBeNil)

	a := NewAligner(0.5, logger)
	_, err := a.Register(tiny, bowlCloud(10, 0.5))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrRegistrationFailed), test.ShouldBeTrue)
}

func TestMergeSequentialSelf(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cloud := bowlCloud(12, 0.5)

	a := NewAligner(0.5, logger)
	a.Seed = 1
	merged, err := a.MergeSequential([]pointcloud.PointCloud{cloud, cloud})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, merged.Size(), test.ShouldBeGreaterThan, 0)
	test.That(t, merged.MetaData().HasNormals, test.ShouldBeTrue)

	// a self-merge cannot blow the deduplicated size past one scan's worth
	single := pointcloud.VoxelDownsample(cloud, 0.5)
	test.That(t, merged.Size(), test.ShouldBeLessThanOrEqualTo, 2*single.Size())
}

func TestMergeSequentialOrderReversal(t *testing.T) {
	logger := golog.NewTestLogger(t)
	base := bowlCloud(12, 0.5)
	shiftA, err := pointcloud.NewRigidTransform(
		mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		r3.Vector{X: 0.3, Y: -0.2, Z: 0.1},
	)
	test.That(t, err, test.ShouldBeNil)
	shiftB, err := pointcloud.NewRigidTransform(
		mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		r3.Vector{X: -0.25, Y: 0.15, Z: 0.05},
	)
	test.That(t, err, test.ShouldBeNil)
	scans := []pointcloud.PointCloud{base, transformed(base, shiftA), transformed(base, shiftB)}

	a := NewAligner(0.5, logger)
	a.Seed = 1
	forward, err := a.MergeSequential(scans)
	test.That(t, err, test.ShouldBeNil)

	reversed := []pointcloud.PointCloud{scans[2], scans[1], scans[0]}
	backward, err := a.MergeSequential(reversed)
	test.That(t, err, test.ShouldBeNil)

	// the merged frames differ (each merge lives in its first scan's frame)
	// but the gross shape must not: extents and point counts agree, with
	// slack for voxel binning landing on a different phase in each frame
	fm, bm := forward.MetaData(), backward.MetaData()
	test.That(t, bm.MaxX-bm.MinX, test.ShouldAlmostEqual, fm.MaxX-fm.MinX, 1.0)
	test.That(t, bm.MaxY-bm.MinY, test.ShouldAlmostEqual, fm.MaxY-fm.MinY, 1.0)
	test.That(t, bm.MaxZ-bm.MinZ, test.ShouldAlmostEqual, fm.MaxZ-fm.MinZ, 1.0)
	test.That(t, float64(backward.Size()), test.ShouldAlmostEqual,
		float64(forward.Size()), 0.25*float64(forward.Size()))
}

func TestMergeSequentialTooFewScans(t *testing.T) {
	logger := golog.NewTestLogger(t)
	a := NewAligner(0.5, logger)
	_, err := a.MergeSequential(nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = a.MergeSequential([]pointcloud.PointCloud{bowlCloud(10, 0.5)})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMergeSequentialBrokenLinkFails(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cloud := bowlCloud(12, 0.5)
	tiny := pointcloud.New()
	test.That(t, tiny.Set(pointcloud.NewVector(0, 0, 0), nil), test.ShouldBeNil)

	a := NewAligner(0.5, logger)
	_, err := a.MergeSequential([]pointcloud.PointCloud{cloud, tiny})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrRegistrationFailed), test.ShouldBeTrue)
}
