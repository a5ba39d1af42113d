package main

import (
	"context"
	"image"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/structlight/structlight/pattern"
)

// settleDelay gives the projector and the camera's auto-exposure time to
// stabilize on a new pattern before the capture is requested.
const settleDelay = 200 * time.Millisecond

// windowProjector throws patterns at the projector through a borderless
// fullscreen window on its output.
type windowProjector struct {
	window *gocv.Window
	logger golog.Logger
}

func newWindowProjector(logger golog.Logger) (*windowProjector, error) {
	w := gocv.NewWindow("structlight")
	w.SetWindowProperty(gocv.WindowPropertyFullscreen, gocv.WindowFullscreen)
	return &windowProjector{window: w, logger: logger}, nil
}

func (p *windowProjector) Show(ctx context.Context, f pattern.Frame) error {
	m, err := gocv.ImageGrayToMatGray(f.Image)
	if err != nil {
		return errors.Wrapf(err, "converting %s", f.Label)
	}
	defer m.Close()
	p.window.IMShow(m)
	// WaitKey pumps the GUI event loop; without it nothing is drawn
	p.window.WaitKey(1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settleDelay):
	}
	return nil
}

func (p *windowProjector) Close() error {
	return p.window.Close()
}

func writeGrayPNG(path string, img *image.Gray) error {
	m, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return err
	}
	defer m.Close()
	if ok := gocv.IMWrite(path, m); !ok {
		return errors.Errorf("could not write %q", path)
	}
	return nil
}
