package calib

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestBoardObjectPoints(t *testing.T) {
	b := DefaultBoard()
	pts := b.ObjectPoints()
	test.That(t, len(pts), test.ShouldEqual, 49)
	test.That(t, pts[0], test.ShouldResemble, r3.Vector{})
	test.That(t, pts[len(pts)-1].X, test.ShouldAlmostEqual, 6*35.0)
	test.That(t, pts[len(pts)-1].Y, test.ShouldAlmostEqual, 6*35.0)
	for _, p := range pts {
		test.That(t, p.Z, test.ShouldEqual, 0)
	}
}

func TestIntrinsicsProjectAndRay(t *testing.T) {
	in := Intrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Cx: 320, Cy: 240}

	// the principal ray
	r := in.PixelRay(320, 240)
	test.That(t, r.X, test.ShouldAlmostEqual, 0)
	test.That(t, r.Y, test.ShouldAlmostEqual, 0)
	test.That(t, r.Z, test.ShouldAlmostEqual, 1)

	p, ok := in.Project(r3.Vector{X: 0, Y: 0, Z: 100})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.X, test.ShouldAlmostEqual, 320)
	test.That(t, p.Y, test.ShouldAlmostEqual, 240)

	_, ok = in.Project(r3.Vector{Z: -1})
	test.That(t, ok, test.ShouldBeFalse)

	// projecting along a pixel's own ray lands back on the pixel
	r = in.PixelRay(100, 50)
	p, ok = in.Project(r.Mul(250))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.X, test.ShouldAlmostEqual, 100, 1e-9)
	test.That(t, p.Y, test.ShouldAlmostEqual, 50, 1e-9)
}

func TestIntrinsicsFromK(t *testing.T) {
	k := mat.NewDense(3, 3, []float64{800, 0, 400, 0, 810, 300, 0, 0, 1})
	in, err := IntrinsicsFromK(k, []float64{0.1, -0.2}, 800, 600)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in.Fx, test.ShouldEqual, 800)
	test.That(t, in.Dist[0], test.ShouldAlmostEqual, 0.1)
	test.That(t, in.Dist[1], test.ShouldAlmostEqual, -0.2)
	test.That(t, in.Dist[4], test.ShouldEqual, 0)

	_, err = IntrinsicsFromK(mat.NewDense(2, 2, nil), nil, 1, 1)
	test.That(t, err, test.ShouldNotBeNil)

	bad := mat.NewDense(3, 3, []float64{-5, 0, 0, 0, 1, 0, 0, 0, 1})
	_, err = IntrinsicsFromK(bad, nil, 1, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func rotXYZ(ax, ay, az float64) *mat.Dense {
	cx, sx := math.Cos(ax), math.Sin(ax)
	cy, sy := math.Cos(ay), math.Sin(ay)
	cz, sz := math.Cos(az), math.Sin(az)
	rx := mat.NewDense(3, 3, []float64{1, 0, 0, 0, cx, -sx, 0, sx, cx})
	ry := mat.NewDense(3, 3, []float64{cy, 0, sy, 0, 1, 0, -sy, 0, cy})
	rz := mat.NewDense(3, 3, []float64{cz, -sz, 0, sz, cz, 0, 0, 0, 1})
	var tmp, out mat.Dense
	tmp.Mul(ry, rx)
	out.Mul(rz, &tmp)
	d := mat.NewDense(3, 3, nil)
	d.Copy(&out)
	return d
}

// projectPose images board points seen through pose (rot, t) with an ideal
// pinhole.
func projectPose(in Intrinsics, rot *mat.Dense, t r3.Vector, object []r3.Vector) []Point2 {
	out := make([]Point2, len(object))
	for i, op := range object {
		pc := matVec(rot, op).Add(t)
		out[i] = Point2{
			X: in.Fx*pc.X/pc.Z + in.Cx,
			Y: in.Fy*pc.Y/pc.Z + in.Cy,
		}
	}
	return out
}

func TestHomographyExtrinsicsRecovery(t *testing.T) {
	in := Intrinsics{Width: 1280, Height: 960, Fx: 1000, Fy: 1000, Cx: 640, Cy: 480}
	object := DefaultBoard().ObjectPoints()
	rot := rotXYZ(0.2, -0.15, 0.1)
	tVec := r3.Vector{X: -100, Y: -80, Z: 600}

	obs := projectPose(in, rot, tVec, object)
	h, err := findHomography(object, obs)
	test.That(t, err, test.ShouldBeNil)

	gotR, gotT, err := extrinsicsFromHomography(in, h)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, gotR.At(i, j), test.ShouldAlmostEqual, rot.At(i, j), 1e-6)
		}
	}
	test.That(t, gotT.X, test.ShouldAlmostEqual, tVec.X, 1e-3)
	test.That(t, gotT.Y, test.ShouldAlmostEqual, tVec.Y, 1e-3)
	test.That(t, gotT.Z, test.ShouldAlmostEqual, tVec.Z, 1e-3)
}

func TestHomographyNeedsFourPoints(t *testing.T) {
	object := DefaultBoard().ObjectPoints()[:3]
	obs := []Point2{{0, 0}, {1, 0}, {0, 1}}
	_, err := findHomography(object, obs)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestQuaternionRoundTrip(t *testing.T) {
	rot := rotXYZ(0.4, -0.3, 0.7)
	back := quatToRotation(rotationToQuat(rot))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, back.At(i, j), test.ShouldAlmostEqual, rot.At(i, j), 1e-12)
		}
	}
}
