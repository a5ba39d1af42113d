package calib

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PoseReport grades one board placement by the reprojection error of its
// recovered pose on each device. Placements with outlying errors are the
// ones to retake or exclude before the final solve.
type PoseReport struct {
	Index      int
	Dir        string
	CamReproj  float64
	ProjReproj float64
}

// AnalyzePoses runs a provisional solve and reports per-pose reprojection
// errors for curation. Poses whose homography does not factor are reported
// with infinite error rather than dropped, so the operator sees them.
func (c *Calibrator) AnalyzePoses(ds *Dataset) ([]PoseReport, error) {
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
		return nil, errors.Wrap(err, "solving provisional camera intrinsics")
	}
	projIn, err := c.Solver(object, projObs, c.ProjWidth, c.ProjHeight)
	if err != nil {
		return nil, errors.Wrap(err, "solving provisional projector intrinsics")
	}

	reports := make([]PoseReport, len(ds.Poses))
	for i, p := range ds.Poses {
		reports[i] = PoseReport{
			Index:      i,
			Dir:        p.Dir,
			CamReproj:  poseReprojection(camIn, p.Object, p.Cam),
			ProjReproj: poseReprojection(projIn, p.Object, p.Proj),
		}
	}
	return reports, nil
}

func poseReprojection(in Intrinsics, object []r3.Vector, obs []Point2) float64 {
	h, err := findHomography(object, obs)
	if err != nil {
		return math.Inf(1)
	}
	rot, t, err := extrinsicsFromHomography(in, h)
	if err != nil {
		return math.Inf(1)
	}
	return in.reprojectionError(object, obs, rot, t)
}

// Select returns a dataset restricted to the given pose indices, in the
// given order. Out-of-range indices are ignored.
func (ds *Dataset) Select(indices ...int) *Dataset {
	out := &Dataset{
		Board:      ds.Board,
		ProjWidth:  ds.ProjWidth,
		ProjHeight: ds.ProjHeight,
		CamWidth:   ds.CamWidth,
		CamHeight:  ds.CamHeight,
	}
	for _, i := range indices {
		if i >= 0 && i < len(ds.Poses) {
			out.Poses = append(out.Poses, ds.Poses[i])
		}
	}
	return out
}
