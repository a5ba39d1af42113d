package calib

import (
	"image"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrBoardNotFound is returned when the chessboard cannot be located in a
// capture.
var ErrBoardNotFound = errors.New("chessboard not found")

// Board describes the printed calibration chessboard by its inner corner
// grid and physical square size in millimeters.
type Board struct {
	Cols, Rows int
	SquareSize float64
}

// DefaultBoard is the 7x7 inner-corner, 35 mm board shipped with the rig.
func DefaultBoard() Board {
	return Board{Cols: 7, Rows: 7, SquareSize: 35}
}

// ObjectPoints returns the corner positions in the board frame, row by row
// on the Z=0 plane, in the order the detector reports them.
func (b Board) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, b.Cols*b.Rows)
	for r := 0; r < b.Rows; r++ {
		for c := 0; c < b.Cols; c++ {
			pts = append(pts, r3.Vector{
				X: float64(c) * b.SquareSize,
				Y: float64(r) * b.SquareSize,
			})
		}
	}
	return pts
}

// DetectCorners locates the board's inner corners in a capture file to
// sub-pixel precision. The frame is smoothed and contrast-equalized first;
// projected stripes and uneven lighting otherwise break the detector.
func (b Board) DetectCorners(path string) ([]Point2, int, int, error) {
	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer img.Close()
	if img.Empty() {
		return nil, 0, 0, errors.Errorf("could not read capture %q", path)
	}
	width, height := img.Cols(), img.Rows()

	prepped := gocv.NewMat()
	defer prepped.Close()
	gocv.GaussianBlur(img, &prepped, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(prepped, &equalized)

	corners := gocv.NewMat()
	defer corners.Close()
	found := gocv.FindChessboardCorners(
		equalized, image.Pt(b.Cols, b.Rows), &corners,
		gocv.CalibCBAdaptiveThresh|gocv.CalibCBNormalizeImage,
	)
	if !found || corners.Rows() != b.Cols*b.Rows {
		return nil, width, height, errors.Wrapf(ErrBoardNotFound, "in %q", path)
	}

	criteria := gocv.NewTermCriteria(gocv.MaxIter|gocv.EPS, 30, 0.001)
	gocv.CornerSubPix(equalized, &corners, image.Pt(11, 11), image.Pt(-1, -1), criteria)

	out := make([]Point2, corners.Rows())
	for i := range out {
		v := corners.GetVecfAt(i, 0)
		out[i] = Point2{X: float64(v[0]), Y: float64(v[1])}
	}
	return out, width, height, nil
}
