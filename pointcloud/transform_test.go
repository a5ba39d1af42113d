package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func rotZ(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{c, -s, 0, s, c, 0, 0, 0, 1})
}

func TestRigidTransformApply(t *testing.T) {
	tr, err := NewRigidTransform(rotZ(math.Pi/2), r3.Vector{X: 1})
	test.That(t, err, test.ShouldBeNil)

	p := tr.Apply(r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, p.X, test.ShouldAlmostEqual, 1)
	test.That(t, p.Y, test.ShouldAlmostEqual, 1)
	test.That(t, p.Z, test.ShouldAlmostEqual, 0)

	n := tr.ApplyRotation(r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, n.X, test.ShouldAlmostEqual, 0)
	test.That(t, n.Y, test.ShouldAlmostEqual, 1)

	test.That(t, tr.RotationAngle(), test.ShouldAlmostEqual, math.Pi/2)

	_, err = NewRigidTransform(mat.NewDense(2, 2, nil), r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRigidTransformCompose(t *testing.T) {
	a, err := NewRigidTransform(rotZ(math.Pi/2), r3.Vector{X: 1})
	test.That(t, err, test.ShouldBeNil)
	b, err := NewRigidTransform(rotZ(math.Pi/2), r3.Vector{Y: 2})
	test.That(t, err, test.ShouldBeNil)

	p := r3.Vector{X: 1, Y: 1, Z: 0}
	composed := a.Compose(b).Apply(p)
	sequential := a.Apply(b.Apply(p))
	test.That(t, composed.X, test.ShouldAlmostEqual, sequential.X)
	test.That(t, composed.Y, test.ShouldAlmostEqual, sequential.Y)
	test.That(t, composed.Z, test.ShouldAlmostEqual, sequential.Z)

	id := IdentityTransform()
	same := id.Compose(a)
	test.That(t, same.Translation().X, test.ShouldAlmostEqual, a.Translation().X)
	test.That(t, same.RotationAngle(), test.ShouldAlmostEqual, a.RotationAngle())
}

func TestApplyOffset(t *testing.T) {
	src := New()
	d := NewBasicData().SetNormal(r3.Vector{X: 1})
	test.That(t, src.Set(NewVector(1, 0, 0), d), test.ShouldBeNil)

	tr, err := NewRigidTransform(rotZ(math.Pi), r3.Vector{Z: 5})
	test.That(t, err, test.ShouldBeNil)

	dst := New()
	test.That(t, ApplyOffset(src, tr, dst), test.ShouldBeNil)
	test.That(t, dst.Size(), test.ShouldEqual, 1)

	got, found := dst.At(-1, 0, 5)
	if !found {
		// rounding in the rotation can shift the key a hair off the axis
		dst.Iterate(0, 0, func(p Vec3, dd Data) bool {
			test.That(t, p.X, test.ShouldAlmostEqual, -1)
			test.That(t, p.Z, test.ShouldAlmostEqual, 5)
			got = dd
			return false
		})
	}
	test.That(t, got.HasNormal(), test.ShouldBeTrue)
	test.That(t, got.Normal().X, test.ShouldAlmostEqual, -1)
}
