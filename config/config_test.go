package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Projector.Width, test.ShouldEqual, 1920)
	test.That(t, cfg.Projector.Height, test.ShouldEqual, 1080)
	test.That(t, cfg.Projector.Brightness, test.ShouldEqual, 200)
	test.That(t, cfg.Board.Cols, test.ShouldEqual, 7)
	test.That(t, cfg.Board.SquareSizeMM, test.ShouldAlmostEqual, 35)
	test.That(t, cfg.Capture.FrameTimeout, test.ShouldEqual, 20*time.Second)
	test.That(t, cfg.Decode.FixedThresholds, test.ShouldBeFalse)
}

func TestLoadOverrides(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "scan.yml")
	yml := `
projector:
  width: 1280
  height: 720
align:
  voxel_size_mm: 1.5
capture:
  serial_port: /dev/ttyACM0
`
	test.That(t, os.WriteFile(fn, []byte(yml), 0o644), test.ShouldBeNil)

	cfg, err := Load(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Projector.Width, test.ShouldEqual, 1280)
	test.That(t, cfg.Projector.Height, test.ShouldEqual, 720)
	// untouched keys keep their defaults
	test.That(t, cfg.Projector.Brightness, test.ShouldEqual, 200)
	test.That(t, cfg.Align.VoxelSizeMM, test.ShouldAlmostEqual, 1.5)
	test.That(t, cfg.Capture.SerialPort, test.ShouldEqual, "/dev/ttyACM0")
	test.That(t, cfg.Capture.Steps, test.ShouldEqual, 12)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	test.That(t, err, test.ShouldNotBeNil)
}
