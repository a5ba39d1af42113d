package pointcloud

import (
	"math"
	"math/rand"
	"testing"

	"go.viam.com/test"
)

func TestPlaneNormal(t *testing.T) {
	// points on z=0
	pts := []Vec3{
		{0, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
		{1, 1, 0},
	}
	n := PlaneNormal(pts)
	test.That(t, math.Abs(n.Z), test.ShouldAlmostEqual, 1)
	test.That(t, n.Norm(), test.ShouldAlmostEqual, 1)

	test.That(t, PlaneNormal(pts[:2]).Norm(), test.ShouldEqual, 0)
}

func TestEstimateNormalsFlatPlane(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	pc := New()
	for i := 0; i < 200; i++ {
		test.That(t, pc.Set(NewVector(r.Float64()*10, r.Float64()*10, 0), nil), test.ShouldBeNil)
	}

	withNormals := EstimateNormals(pc, 2.0, 30)
	test.That(t, withNormals.Size(), test.ShouldEqual, pc.Size())
	test.That(t, withNormals.MetaData().HasNormals, test.ShouldBeTrue)

	withNormals.Iterate(0, 0, func(_ Vec3, d Data) bool {
		test.That(t, d.HasNormal(), test.ShouldBeTrue)
		test.That(t, math.Abs(d.Normal().Z), test.ShouldAlmostEqual, 1, 1e-6)
		return true
	})
}

func TestRemoveStatisticalOutliers(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	pc := New()
	// dense unit cluster plus one distant speck
	for i := 0; i < 100; i++ {
		pc.Set(NewVector(r.Float64(), r.Float64(), r.Float64()), nil) //nolint:errcheck
	}
	test.That(t, pc.Set(NewVector(100, 100, 100), nil), test.ShouldBeNil)

	filtered, err := RemoveStatisticalOutliers(pc, 20, 2.0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filtered.Size(), test.ShouldBeLessThan, pc.Size())
	_, found := filtered.At(100, 100, 100)
	test.That(t, found, test.ShouldBeFalse)

	_, err = RemoveStatisticalOutliers(pc, 0, 2.0)
	test.That(t, err, test.ShouldNotBeNil)

	small := New()
	test.That(t, small.Set(NewVector(1, 1, 1), nil), test.ShouldBeNil)
	same, err := RemoveStatisticalOutliers(small, 20, 2.0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same.Size(), test.ShouldEqual, 1)
}
