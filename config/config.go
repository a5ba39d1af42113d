// Package config loads the scanner's YAML configuration over a complete
// set of defaults matching the reference rig.
package config

import (
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
)

// ProjectorConfig describes the projection hardware.
type ProjectorConfig struct {
	Width      int   `koanf:"width"`
	Height     int   `koanf:"height"`
	Brightness uint8 `koanf:"brightness"`
}

// BoardConfig describes the calibration chessboard.
type BoardConfig struct {
	Cols         int     `koanf:"cols"`
	Rows         int     `koanf:"rows"`
	SquareSizeMM float64 `koanf:"square_size_mm"`
}

// DecodeConfig selects the validity masking mode.
type DecodeConfig struct {
	FixedThresholds bool    `koanf:"fixed_thresholds"`
	ShadowFloor     float64 `koanf:"shadow_floor"`
	MinContrast     float64 `koanf:"min_contrast"`
}

// AlignConfig tunes scan registration.
type AlignConfig struct {
	VoxelSizeMM float64 `koanf:"voxel_size_mm"`
	Seed        int64   `koanf:"seed"`
}

// CaptureConfig wires the acquisition hardware.
type CaptureConfig struct {
	Addr          string        `koanf:"addr"`
	SerialPort    string        `koanf:"serial_port"`
	Steps         int           `koanf:"steps"`
	FrameTimeout  time.Duration `koanf:"frame_timeout"`
	RotateTimeout time.Duration `koanf:"rotate_timeout"`
}

// ScanConfig is the full scanner configuration.
type ScanConfig struct {
	Projector ProjectorConfig `koanf:"projector"`
	Board     BoardConfig     `koanf:"board"`
	Decode    DecodeConfig    `koanf:"decode"`
	Align     AlignConfig     `koanf:"align"`
	Capture   CaptureConfig   `koanf:"capture"`
}

// Default is the reference rig: a 1080p projector driven below full white,
// a 7x7 inner-corner 35 mm board, adaptive masking and a 12-stop sweep.
func Default() ScanConfig {
	return ScanConfig{
		Projector: ProjectorConfig{Width: 1920, Height: 1080, Brightness: 200},
		Board:     BoardConfig{Cols: 7, Rows: 7, SquareSizeMM: 35},
		Decode:    DecodeConfig{FixedThresholds: false, ShadowFloor: 40, MinContrast: 10},
		Align:     AlignConfig{VoxelSizeMM: 2},
		Capture: CaptureConfig{
			Addr:          ":8080",
			SerialPort:    "/dev/ttyUSB0",
			Steps:         12,
			FrameTimeout:  20 * time.Second,
			RotateTimeout: 10 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults untouched.
func Load(path string) (ScanConfig, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return ScanConfig{}, errors.Wrap(err, "loading config defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return ScanConfig{}, errors.Wrapf(err, "loading config %q", path)
		}
	}
	var cfg ScanConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return ScanConfig{}, errors.Wrap(err, "unmarshaling config")
	}
	return cfg, nil
}
