package calib

import (
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/structlight/structlight/pattern"
)

// Pose is one usable board observation: matched board-frame corners, their
// camera pixel positions and the projector pixel each corner decoded to.
type Pose struct {
	Dir    string
	Object []r3.Vector
	Cam    []Point2
	Proj   []Point2
}

// Dataset is the set of usable poses gathered from a calibration capture
// tree, one subdirectory per board placement.
type Dataset struct {
	Board                 Board
	ProjWidth, ProjHeight int
	CamWidth, CamHeight   int
	Poses                 []Pose
}

// LoadDataset walks the pose subdirectories of root and extracts a Pose
// from each. Placements where the board is not detected, a corner falls in
// shadow, or a decoded projector coordinate lands off the projector raster
// are skipped with a warning; calibration quality depends on every kept
// corner being trustworthy.
func LoadDataset(root string, board Board, projWidth, projHeight int, logger golog.Logger) (*Dataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "reading calibration tree %q", root)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(dirs)
	if len(dirs) == 0 {
		return nil, errors.Errorf("calibration tree %q holds no pose directories", root)
	}

	ds := &Dataset{Board: board, ProjWidth: projWidth, ProjHeight: projHeight}
	for _, dir := range dirs {
		pose, w, h, err := loadPose(dir, board, projWidth, projHeight)
		if err != nil {
			logger.Warnw("skipping calibration pose", "dir", dir, "error", err)
			continue
		}
		if ds.CamWidth == 0 {
			ds.CamWidth, ds.CamHeight = w, h
		} else if w != ds.CamWidth || h != ds.CamHeight {
			logger.Warnw("skipping calibration pose with mismatched frame size",
				"dir", dir, "got", []int{w, h}, "want", []int{ds.CamWidth, ds.CamHeight})
			continue
		}
		ds.Poses = append(ds.Poses, *pose)
		logger.Debugw("loaded calibration pose", "dir", dir, "corners", len(pose.Cam))
	}
	logger.Infow("calibration dataset loaded", "usable", len(ds.Poses), "total", len(dirs))
	return ds, nil
}

func loadPose(dir string, board Board, projWidth, projHeight int) (*Pose, int, int, error) {
	files, err := pattern.ListFrameFiles(dir)
	if err != nil {
		return nil, 0, 0, err
	}
	nColBits := pattern.BitsFor(projWidth)
	nRowBits := pattern.BitsFor(projHeight)
	if want := 2 + 2*(nColBits+nRowBits); len(files) < want {
		return nil, 0, 0, errors.Wrapf(pattern.ErrNotEnoughFrames, "%d files, need %d", len(files), want)
	}

	corners, width, height, err := board.DetectCorners(files[0])
	if err != nil {
		return nil, width, height, err
	}

	white, err := pattern.ReadGrayFrame(files[0])
	if err != nil {
		return nil, width, height, err
	}
	black, err := pattern.ReadGrayFrame(files[1])
	if err != nil {
		return nil, width, height, err
	}
	opts := pattern.DefaultFixedOptions()
	for _, c := range corners {
		x, y := int(c.X), int(c.Y)
		wv := float64(white.GrayAt(x, y).Y)
		bv := float64(black.GrayAt(x, y).Y)
		if wv <= opts.ShadowFloor || wv-bv <= opts.MinContrast {
			return nil, width, height, errors.Errorf("corner (%.1f, %.1f) is in shadow", c.X, c.Y)
		}
	}

	planes := make([]*image.Gray, 2*(nColBits+nRowBits))
	for i := range planes {
		planes[i], err = pattern.ReadGrayFrame(files[2+i])
		if err != nil {
			return nil, width, height, err
		}
	}

	xs := make([]float64, len(corners))
	ys := make([]float64, len(corners))
	for i, c := range corners {
		xs[i], ys[i] = c.X, c.Y
	}
	cols, err := pattern.DecodeAtPoints(planes[:2*nColBits], nColBits, xs, ys)
	if err != nil {
		return nil, width, height, err
	}
	rows, err := pattern.DecodeAtPoints(planes[2*nColBits:], nRowBits, xs, ys)
	if err != nil {
		return nil, width, height, err
	}

	proj := make([]Point2, len(corners))
	for i := range corners {
		if cols[i] < 0 || cols[i] >= float64(projWidth) || rows[i] < 0 || rows[i] >= float64(projHeight) {
			return nil, width, height, errors.Errorf(
				"corner %d decoded off the projector raster: (%.0f, %.0f)", i, cols[i], rows[i])
		}
		proj[i] = Point2{X: cols[i], Y: rows[i]}
	}

	return &Pose{
		Dir:    dir,
		Object: board.ObjectPoints(),
		Cam:    corners,
		Proj:   proj,
	}, width, height, nil
}
