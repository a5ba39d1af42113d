package calib

import (
	"image"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// IntrinsicsSolver fits a pinhole-plus-distortion model to matched planar
// object points and image observations, one slice per board pose. The
// default solver delegates to OpenCV; tests substitute a closed-form one so
// the solver pipeline runs without native bindings in the loop.
type IntrinsicsSolver func(object [][]r3.Vector, observed [][]Point2, width, height int) (Intrinsics, error)

// SolveIntrinsicsOpenCV runs OpenCV's full bundle calibration over the
// pose observations.
func SolveIntrinsicsOpenCV(object [][]r3.Vector, observed [][]Point2, width, height int) (Intrinsics, error) {
	if len(object) == 0 || len(object) != len(observed) {
		return Intrinsics{}, errors.Errorf("mismatched calibration input: %d object sets, %d observations", len(object), len(observed))
	}

	objVecs := gocv.NewPoints3fVector()
	defer objVecs.Close()
	imgVecs := gocv.NewPoints2fVector()
	defer imgVecs.Close()

	for i := range object {
		if len(object[i]) != len(observed[i]) {
			return Intrinsics{}, errors.Errorf("pose %d: %d object points but %d observations", i, len(object[i]), len(observed[i]))
		}
		op := make([]gocv.Point3f, len(object[i]))
		for j, p := range object[i] {
			op[j] = gocv.Point3f{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}
		}
		ip := make([]gocv.Point2f, len(observed[i]))
		for j, p := range observed[i] {
			ip[j] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
		}
		objVecs.Append(gocv.NewPoint3fVectorFromPoints(op))
		imgVecs.Append(gocv.NewPoint2fVectorFromPoints(ip))
	}

	cameraMatrix := gocv.NewMat()
	defer cameraMatrix.Close()
	distCoeffs := gocv.NewMat()
	defer distCoeffs.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(
		objVecs, imgVecs, image.Pt(width, height),
		&cameraMatrix, &distCoeffs, &rvecs, &tvecs, gocv.CalibFlag(0),
	)

	var dist []float64
	for r := 0; r < distCoeffs.Rows(); r++ {
		for c := 0; c < distCoeffs.Cols(); c++ {
			dist = append(dist, distCoeffs.GetDoubleAt(r, c))
		}
	}

	in := Intrinsics{
		Width:       width,
		Height:      height,
		Fx:          cameraMatrix.GetDoubleAt(0, 0),
		Fy:          cameraMatrix.GetDoubleAt(1, 1),
		Cx:          cameraMatrix.GetDoubleAt(0, 2),
		Cy:          cameraMatrix.GetDoubleAt(1, 2),
		ReprojError: rms,
	}
	for i := 0; i < len(in.Dist) && i < len(dist); i++ {
		in.Dist[i] = dist[i]
	}
	if in.Fx <= 0 || in.Fy <= 0 {
		return Intrinsics{}, errors.Errorf("calibration produced non-positive focal length fx=%g fy=%g", in.Fx, in.Fy)
	}
	return in, nil
}
