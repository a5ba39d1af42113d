package pattern

import (
	"image"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ListFrameFiles returns the capture files of dir in frame order. Scans are
// stored as lossless bmp; calibration poses as png. The numeric labels sort
// lexically, matching the projection order.
func ListFrameFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.bmp"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		files, err = filepath.Glob(filepath.Join(dir, "*.png"))
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadGrayFrame loads one capture as an 8-bit grayscale raster.
func ReadGrayFrame(path string) (*image.Gray, error) {
	m := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer m.Close()
	if m.Empty() {
		return nil, errors.Errorf("could not read frame %q", path)
	}
	img, err := m.ToImage()
	if err != nil {
		return nil, errors.Wrapf(err, "converting frame %q", path)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		return nil, errors.Errorf("frame %q did not decode to grayscale", path)
	}
	return gray, nil
}

// ReadColorFrame loads one capture in color. The BGR-native mat is
// converted to canonical RGB ordering on the way out.
func ReadColorFrame(path string) (image.Image, error) {
	m := gocv.IMRead(path, gocv.IMReadColor)
	defer m.Close()
	if m.Empty() {
		return nil, errors.Errorf("could not read frame %q", path)
	}
	img, err := m.ToImage()
	if err != nil {
		return nil, errors.Wrapf(err, "converting frame %q", path)
	}
	return img, nil
}

// DecodeDir decodes a capture directory: the sorted frame files are loaded
// as grayscale, the first (all-white) also in color as the texture, and the
// sequence is decoded against the projector resolution.
func DecodeDir(dir string, projWidth, projHeight int, opts DecodeOptions) (*DecodedFrame, error) {
	files, err := ListFrameFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) < 4 {
		return nil, errors.Wrapf(ErrNotEnoughFrames, "directory %q holds %d frames", dir, len(files))
	}
	frames := make([]*image.Gray, len(files))
	for i, f := range files {
		frames[i], err = ReadGrayFrame(f)
		if err != nil {
			return nil, err
		}
	}
	texture, err := ReadColorFrame(files[0])
	if err != nil {
		return nil, err
	}
	df, err := Decode(frames, texture, projWidth, projHeight, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q", dir)
	}
	return df, nil
}
