package calib

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// StereoParams relates the camera and projector of one rig: both device
// models plus the rigid transform taking camera-frame points into the
// projector frame, xp = R*xc + T.
type StereoParams struct {
	Cam  Intrinsics
	Proj Intrinsics
	R    *mat.Dense
	T    r3.Vector

	// RotationSpread is the largest angle, in radians, by which any single
	// pose's relative rotation deviates from the averaged one. Large values
	// mean the rig moved between placements.
	RotationSpread float64
}

// Calibrator runs the full stereo solve over a dataset.
type Calibrator struct {
	Board                 Board
	ProjWidth, ProjHeight int

	// MinPoses is the minimum number of usable board placements; below it
	// the relative pose average is unstable.
	MinPoses int

	Solver IntrinsicsSolver
	Logger golog.Logger
}

// NewCalibrator returns a Calibrator with the OpenCV solver and the
// stability floor of three poses.
func NewCalibrator(board Board, projWidth, projHeight int, logger golog.Logger) *Calibrator {
	return &Calibrator{
		Board:      board,
		ProjWidth:  projWidth,
		ProjHeight: projHeight,
		MinPoses:   3,
		Solver:     SolveIntrinsicsOpenCV,
		Logger:     logger,
	}
}

// Calibrate solves both device models, then recovers the camera-projector
// transform by averaging the per-pose relative transforms over all usable
// placements.
func (c *Calibrator) Calibrate(ds *Dataset) (*StereoParams, error) {
	if len(ds.Poses) < c.MinPoses {
		return nil, errors.Wrapf(ErrInsufficientPoses, "have %d, need %d", len(ds.Poses), c.MinPoses)
	}

	object := make([][]r3.Vector, len(ds.Poses))
	camObs := make([][]Point2, len(ds.Poses))
	projObs := make([][]Point2, len(ds.Poses))
	for i, p := range ds.Poses {
		object[i] = p.Object
		camObs[i] = p.Cam
		projObs[i] = p.Proj
	}

	camIn, err := c.Solver(object, camObs, ds.CamWidth, ds.CamHeight)
	if err != nil {
		return nil, errors.Wrap(err, "solving camera intrinsics")
	}
	projIn, err := c.Solver(object, projObs, c.ProjWidth, c.ProjHeight)
	if err != nil {
		return nil, errors.Wrap(err, "solving projector intrinsics")
	}
	c.Logger.Infow("intrinsics solved",
		"cam_reproj_px", camIn.ReprojError, "proj_reproj_px", projIn.ReprojError)

	var rels []quat.Number
	var trans []r3.Vector
	for i, p := range ds.Poses {
		rRel, tRel, rms, err := relativePose(camIn, projIn, p)
		if err != nil {
			c.Logger.Warnw("dropping pose from stereo average", "dir", p.Dir, "error", err)
			continue
		}
		rels = append(rels, rotationToQuat(rRel))
		trans = append(trans, tRel)
		c.Logger.Debugw("pose relative transform", "index", i, "dir", p.Dir, "t", tRel, "cam_reproj_px", rms)
	}
	if len(rels) < c.MinPoses {
		return nil, errors.Wrapf(ErrInsufficientPoses, "only %d poses factored cleanly, need %d", len(rels), c.MinPoses)
	}

	avgQ := averageQuats(rels)
	avgR := quatToRotation(avgQ)

	var avgT r3.Vector
	for _, t := range trans {
		avgT = avgT.Add(t)
	}
	avgT = avgT.Mul(1 / float64(len(trans)))

	spread := 0.0
	for _, q := range rels {
		if a := quatAngleBetween(avgQ, q); a > spread {
			spread = a
		}
	}
	c.Logger.Infow("stereo transform averaged",
		"poses", len(rels), "baseline_mm", avgT.Norm(), "rotation_spread_deg", spread*180/math.Pi)

	return &StereoParams{
		Cam:            camIn,
		Proj:           projIn,
		R:              avgR,
		T:              avgT,
		RotationSpread: spread,
	}, nil
}

// relativePose recovers the camera-to-projector transform implied by a
// single board placement, along with the camera-side reprojection RMS of
// that placement's recovered pose.
func relativePose(camIn, projIn Intrinsics, p Pose) (*mat.Dense, r3.Vector, float64, error) {
	hc, err := findHomography(p.Object, p.Cam)
	if err != nil {
		return nil, r3.Vector{}, 0, errors.Wrap(err, "camera homography")
	}
	rc, tc, err := extrinsicsFromHomography(camIn, hc)
	if err != nil {
		return nil, r3.Vector{}, 0, errors.Wrap(err, "camera extrinsics")
	}
	hp, err := findHomography(p.Object, p.Proj)
	if err != nil {
		return nil, r3.Vector{}, 0, errors.Wrap(err, "projector homography")
	}
	rp, tp, err := extrinsicsFromHomography(projIn, hp)
	if err != nil {
		return nil, r3.Vector{}, 0, errors.Wrap(err, "projector extrinsics")
	}

	// xp = Rp*xb + tp, xc = Rc*xb + tc  =>  xp = (Rp*Rc^T)*xc + (tp - Rp*Rc^T*tc)
	var rRel mat.Dense
	rRel.Mul(rp, rc.T())
	tRel := tp.Sub(matVec(&rRel, tc))
	out := mat.NewDense(3, 3, nil)
	out.Copy(&rRel)
	return out, tRel, camIn.reprojectionError(p.Object, p.Cam, rc, tc), nil
}

func matVec(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// rotationToQuat converts a rotation matrix to a unit quaternion using the
// largest-pivot branch for numerical stability.
func rotationToQuat(m *mat.Dense) quat.Number {
	trace := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	var q quat.Number
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q.Real = s / 4
		q.Imag = (m.At(2, 1) - m.At(1, 2)) / s
		q.Jmag = (m.At(0, 2) - m.At(2, 0)) / s
		q.Kmag = (m.At(1, 0) - m.At(0, 1)) / s
	case m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2))
		q.Real = (m.At(2, 1) - m.At(1, 2)) / s
		q.Imag = s / 4
		q.Jmag = (m.At(0, 1) + m.At(1, 0)) / s
		q.Kmag = (m.At(0, 2) + m.At(2, 0)) / s
	case m.At(1, 1) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2))
		q.Real = (m.At(0, 2) - m.At(2, 0)) / s
		q.Imag = (m.At(0, 1) + m.At(1, 0)) / s
		q.Jmag = s / 4
		q.Kmag = (m.At(1, 2) + m.At(2, 1)) / s
	default:
		s := 2 * math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1))
		q.Real = (m.At(1, 0) - m.At(0, 1)) / s
		q.Imag = (m.At(0, 2) + m.At(2, 0)) / s
		q.Jmag = (m.At(1, 2) + m.At(2, 1)) / s
		q.Kmag = s / 4
	}
	return quat.Scale(1/quat.Abs(q), q)
}

func quatToRotation(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// averageQuats sign-aligns the quaternions against the first and returns
// the normalized component mean. Valid for the tight rotation clusters a
// rigid rig produces.
func averageQuats(qs []quat.Number) quat.Number {
	var sum quat.Number
	first := qs[0]
	for _, q := range qs {
		if quatDot(first, q) < 0 {
			q = quat.Scale(-1, q)
		}
		sum = quat.Add(sum, q)
	}
	return quat.Scale(1/quat.Abs(sum), sum)
}

func quatDot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// quatAngleBetween returns the rotation angle separating two unit
// quaternions, in radians.
func quatAngleBetween(a, b quat.Number) float64 {
	d := math.Abs(quatDot(a, b))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}
