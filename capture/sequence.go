package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/structlight/structlight/pattern"
)

// Projector displays one pattern frame. Implementations range from a
// fullscreen window on the projector's output to a test double.
type Projector interface {
	Show(ctx context.Context, f pattern.Frame) error
}

// CapturePose projects every frame in order and captures each one into dir
// under the frame's label. Strictly sequential: a frame's file must land
// before the next pattern goes up, otherwise captures and patterns skew.
func CapturePose(ctx context.Context, s *Session, proj Projector, frames []pattern.Frame, dir string, logger golog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating capture dir %q", dir)
	}
	for _, f := range frames {
		if err := proj.Show(ctx, f); err != nil {
			return errors.Wrapf(err, "projecting %s", f.Label)
		}
		if err := s.RequestFrame(ctx, filepath.Join(dir, f.Label)); err != nil {
			return errors.Wrapf(err, "capturing %s", f.Label)
		}
	}
	logger.Infow("pose captured", "dir", dir, "frames", len(frames))
	return nil
}

// Scan360 sweeps the object through a full revolution: capture a scan,
// rotate one step, repeat. Scan directories are numbered in capture order,
// which is the order the aligner chains registrations in.
func Scan360(
	ctx context.Context,
	s *Session,
	proj Projector,
	table Turntable,
	frames []pattern.Frame,
	root string,
	steps int,
	logger golog.Logger,
) error {
	if steps < 1 {
		return errors.Errorf("need at least 1 step, got %d", steps)
	}
	stepDeg := 360.0 / float64(steps)
	for i := 0; i < steps; i++ {
		dir := filepath.Join(root, fmt.Sprintf("scan_%03d", i))
		if err := CapturePose(ctx, s, proj, frames, dir, logger); err != nil {
			return errors.Wrapf(err, "scan %d of %d", i+1, steps)
		}
		if i < steps-1 {
			if err := table.Rotate(ctx, stepDeg); err != nil {
				return errors.Wrapf(err, "rotating after scan %d", i+1)
			}
		}
	}
	logger.Infow("sweep complete", "scans", steps, "root", root)
	return nil
}
