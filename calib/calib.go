// Package calib estimates the camera and projector models of a scanner and
// turns them into the per-pixel ray and per-stripe plane geometry that
// triangulation consumes. Calibration observes a printed chessboard under
// projected stripe patterns: the camera sees the board corners directly and
// the projector "sees" them through the decoded stripe coordinates, which
// lets the projector be calibrated as an inverse camera.
package calib

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrInsufficientPoses is returned when fewer usable board poses remain than
// a stable stereo solution needs.
var ErrInsufficientPoses = errors.New("not enough usable calibration poses")

// Point2 is a sub-pixel image coordinate.
type Point2 struct {
	X, Y float64
}

// Intrinsics is a pinhole model with Brown-Conrady distortion. Dist holds
// k1, k2, p1, p2, k3 in that order.
type Intrinsics struct {
	Width, Height  int
	Fx, Fy, Cx, Cy float64
	Dist           [5]float64
	ReprojError    float64
}

// K returns the 3x3 intrinsic matrix.
func (in Intrinsics) K() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		in.Fx, 0, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	})
}

// IntrinsicsFromK builds an Intrinsics from a 3x3 matrix and distortion
// coefficients.
func IntrinsicsFromK(k mat.Matrix, dist []float64, width, height int) (Intrinsics, error) {
	r, c := k.Dims()
	if r != 3 || c != 3 {
		return Intrinsics{}, errors.Errorf("intrinsic matrix must be 3x3, got %dx%d", r, c)
	}
	in := Intrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Cx:     k.At(0, 2),
		Cy:     k.At(1, 2),
	}
	for i := 0; i < len(in.Dist) && i < len(dist); i++ {
		in.Dist[i] = dist[i]
	}
	if in.Fx <= 0 || in.Fy <= 0 {
		return Intrinsics{}, errors.Errorf("non-positive focal length fx=%g fy=%g", in.Fx, in.Fy)
	}
	return in, nil
}

// PixelRay returns the unit ray through pixel (u, v) in the device frame.
// Distortion is not unapplied here; for the lenses this rig uses the
// residual is well under a pixel at the working distance.
func (in Intrinsics) PixelRay(u, v float64) r3.Vector {
	d := r3.Vector{
		X: (u - in.Cx) / in.Fx,
		Y: (v - in.Cy) / in.Fy,
		Z: 1,
	}
	return d.Normalize()
}

// Project maps a point in the device frame to pixel coordinates, applying
// the distortion model. Points at or behind the optical center are
// reported as not projectable.
func (in Intrinsics) Project(p r3.Vector) (Point2, bool) {
	if p.Z <= 0 {
		return Point2{}, false
	}
	x := p.X / p.Z
	y := p.Y / p.Z

	k1, k2, p1, p2, k3 := in.Dist[0], in.Dist[1], in.Dist[2], in.Dist[3], in.Dist[4]
	r2 := x*x + y*y
	radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y

	return Point2{
		X: in.Fx*xd + in.Cx,
		Y: in.Fy*yd + in.Cy,
	}, true
}

// reprojectionError is the RMS pixel error of projecting object points
// through (R, t) against their observed image positions.
func (in Intrinsics) reprojectionError(object []r3.Vector, observed []Point2, rot *mat.Dense, t r3.Vector) float64 {
	if len(object) == 0 {
		return 0
	}
	sum := 0.0
	n := 0
	for i, op := range object {
		pc := r3.Vector{
			X: rot.At(0, 0)*op.X + rot.At(0, 1)*op.Y + rot.At(0, 2)*op.Z + t.X,
			Y: rot.At(1, 0)*op.X + rot.At(1, 1)*op.Y + rot.At(1, 2)*op.Z + t.Y,
			Z: rot.At(2, 0)*op.X + rot.At(2, 1)*op.Y + rot.At(2, 2)*op.Z + t.Z,
		}
		proj, ok := in.Project(pc)
		if !ok {
			continue
		}
		dx := proj.X - observed[i].X
		dy := proj.Y - observed[i].Y
		sum += dx*dx + dy*dy
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(sum / float64(n))
}
