package calib

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// findHomography solves the planar homography mapping board coordinates
// (X, Y on the Z=0 plane) to image pixels with the normalized DLT. Needs at
// least 4 correspondences.
func findHomography(object []r3.Vector, image []Point2) (*mat.Dense, error) {
	n := len(object)
	if n < 4 || n != len(image) {
		return nil, errors.Errorf("homography needs >=4 matched points, got %d and %d", n, len(image))
	}

	srcN, tSrc := normalizePlanar(object)
	dstN, tDst := normalizePoints(image)

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("homography svd failed to factorize")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		h.Set(i/3, i%3, v.At(i, cols-1))
	}

	// undo the conditioning: H = Tdst^-1 * Hn * Tsrc
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "inverting normalization transform")
	}
	var tmp, out mat.Dense
	tmp.Mul(h, tSrc)
	out.Mul(&tDstInv, &tmp)

	if s := out.At(2, 2); s != 0 {
		out.Scale(1/s, &out)
	}
	return &out, nil
}

// extrinsicsFromHomography factors a board-to-image homography into the
// board pose (R, t) in the device frame, given the device intrinsics. The
// two rotation columns recovered from K^-1*H are completed by cross product
// and the result is snapped to the nearest rotation via SVD.
func extrinsicsFromHomography(in Intrinsics, h *mat.Dense) (*mat.Dense, r3.Vector, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(in.K()); err != nil {
		return nil, r3.Vector{}, errors.Wrap(err, "inverting intrinsic matrix")
	}
	var m mat.Dense
	m.Mul(&kInv, h)

	c1 := r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
	c2 := r3.Vector{X: m.At(0, 1), Y: m.At(1, 1), Z: m.At(2, 1)}
	c3 := r3.Vector{X: m.At(0, 2), Y: m.At(1, 2), Z: m.At(2, 2)}

	scale := 2 / (c1.Norm() + c2.Norm())
	if math.IsInf(scale, 0) || math.IsNaN(scale) || scale == 0 {
		return nil, r3.Vector{}, errors.New("degenerate homography, zero rotation columns")
	}

	// the board must sit in front of the device
	t := c3.Mul(scale)
	if t.Z < 0 {
		scale = -scale
		t = c3.Mul(scale)
	}
	r1 := c1.Mul(scale)
	r2 := c2.Mul(scale)
	r3c := r1.Cross(r2)

	rot := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3c.X,
		r1.Y, r2.Y, r3c.Y,
		r1.Z, r2.Z, r3c.Z,
	})
	snapped, err := nearestRotation(rot)
	if err != nil {
		return nil, r3.Vector{}, err
	}
	return snapped, t, nil
}

// nearestRotation projects an approximate rotation onto SO(3): R = U*V^T
// from the SVD, with a reflection fix if the determinant comes out negative.
func nearestRotation(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, errors.New("rotation svd failed to factorize")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var tmp mat.Dense
		tmp.Mul(&u, d)
		r.Mul(&tmp, v.T())
	}
	out := mat.NewDense(3, 3, nil)
	out.Copy(&r)
	return out, nil
}

// normalizePlanar conditions planar object points (Z ignored) to zero mean
// and average distance sqrt(2), returning the conditioned points and the
// similarity transform applied.
func normalizePlanar(pts []r3.Vector) ([]Point2, *mat.Dense) {
	flat := make([]Point2, len(pts))
	for i, p := range pts {
		flat[i] = Point2{X: p.X, Y: p.Y}
	}
	return normalizePoints(flat)
}

func normalizePoints(pts []Point2) ([]Point2, *mat.Dense) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range pts {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= n

	s := 1.0
	if meanDist > 0 {
		s = math.Sqrt2 / meanDist
	}

	out := make([]Point2, len(pts))
	for i, p := range pts {
		out[i] = Point2{X: s * (p.X - cx), Y: s * (p.Y - cy)}
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	return out, t
}
