package pattern

import (
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

const testBrightness = 200

func grayImages(frames []Frame) []*image.Gray {
	imgs := make([]*image.Gray, len(frames))
	for i, f := range frames {
		imgs[i] = f.Image
	}
	return imgs
}

func TestGenerateSequence(t *testing.T) {
	const w, h = 16, 8
	frames := Generate(w, h, testBrightness)

	want := 2 + 2*(BitsFor(w)+BitsFor(h))
	test.That(t, len(frames), test.ShouldEqual, want)
	for i, f := range frames {
		test.That(t, f.Label, test.ShouldEqual, fmt.Sprintf("%02d.png", i+1))
		test.That(t, f.Image.Bounds().Dx(), test.ShouldEqual, w)
		test.That(t, f.Image.Bounds().Dy(), test.ShouldEqual, h)
	}

	// reference frames are uniform
	for _, p := range frames[0].Image.Pix {
		test.That(t, p, test.ShouldEqual, uint8(testBrightness))
	}
	for _, p := range frames[1].Image.Pix {
		test.That(t, p, test.ShouldEqual, uint8(0))
	}

	// every bit plane is followed by its exact complement
	for i := 2; i < len(frames); i += 2 {
		pos, inv := frames[i].Image, frames[i+1].Image
		for j, p := range pos.Pix {
			if p == 0 {
				test.That(t, inv.Pix[j], test.ShouldEqual, uint8(testBrightness))
			} else {
				test.That(t, inv.Pix[j], test.ShouldEqual, uint8(0))
			}
		}
	}
}

func TestDecodeRecoversCoordinates(t *testing.T) {
	const w, h = 16, 8
	frames := Generate(w, h, testBrightness)

	for _, opts := range []DecodeOptions{DefaultFixedOptions(), {}} {
		df, err := Decode(grayImages(frames), nil, w, h, opts)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, df.Width, test.ShouldEqual, w)
		test.That(t, df.Height, test.ShouldEqual, h)
		test.That(t, df.ValidCount(), test.ShouldEqual, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				test.That(t, df.Cols[y*w+x], test.ShouldEqual, x)
				test.That(t, df.Rows[y*w+x], test.ShouldEqual, y)
			}
		}
	}
}

func TestDecodeMasksShadows(t *testing.T) {
	const w, h = 16, 8
	frames := Generate(w, h, testBrightness)
	imgs := grayImages(frames)

	// darken one corner of the white reference below the fixed floor
	white := image.NewGray(imgs[0].Bounds())
	copy(white.Pix, imgs[0].Pix)
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			white.SetGray(x, y, color.Gray{Y: 20})
		}
	}
	imgs[0] = white

	df, err := Decode(imgs, nil, w, h, DefaultFixedOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, df.ValidCount(), test.ShouldEqual, w*h-6)
	test.That(t, df.Valid[0], test.ShouldBeFalse)
	test.That(t, df.Valid[1*w+2], test.ShouldBeFalse)
	test.That(t, df.Valid[1*w+3], test.ShouldBeTrue)
}

func TestDecodeTexture(t *testing.T) {
	const w, h = 8, 4
	frames := Generate(w, h, testBrightness)

	tex := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tex.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 20), B: 7, A: 255})
		}
	}

	df, err := Decode(grayImages(frames), tex, w, h, DefaultFixedOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, df.Texture, test.ShouldNotBeNil)
	got := df.Texture.NRGBAAt(3, 2)
	test.That(t, got.R, test.ShouldEqual, uint8(30))
	test.That(t, got.G, test.ShouldEqual, uint8(40))
	test.That(t, got.B, test.ShouldEqual, uint8(7))
}

func TestDecodeNotEnoughFrames(t *testing.T) {
	const w, h = 16, 8
	frames := Generate(w, h, testBrightness)
	imgs := grayImages(frames)

	_, err := Decode(imgs[:3], nil, w, h, DefaultFixedOptions())
	test.That(t, errors.Is(err, ErrNotEnoughFrames), test.ShouldBeTrue)

	// enough for the minimum gate but short of the full plane count
	_, err = Decode(imgs[:len(imgs)-2], nil, w, h, DefaultFixedOptions())
	test.That(t, errors.Is(err, ErrNotEnoughFrames), test.ShouldBeTrue)
}

func TestDecodeMismatchedFrameSize(t *testing.T) {
	const w, h = 16, 8
	frames := Generate(w, h, testBrightness)
	imgs := grayImages(frames)
	imgs[3] = image.NewGray(image.Rect(0, 0, w+1, h))

	_, err := Decode(imgs, nil, w, h, DefaultFixedOptions())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeAtPointsMatchesFull(t *testing.T) {
	const w, h = 16, 8
	frames := Generate(w, h, testBrightness)
	imgs := grayImages(frames)

	df, err := Decode(imgs, nil, w, h, DefaultFixedOptions())
	test.That(t, err, test.ShouldBeNil)

	nColBits := BitsFor(w)
	colPairs := imgs[2 : 2+2*nColBits]
	xs := []float64{0, 3.2, 7.9, 15}
	ys := []float64{0, 1.5, 6.1, 7}
	vals, err := DecodeAtPoints(colPairs, nColBits, xs, ys)
	test.That(t, err, test.ShouldBeNil)
	for i := range xs {
		full := df.Cols[int(ys[i])*w+int(xs[i])]
		test.That(t, vals[i], test.ShouldAlmostEqual, float64(full))
	}

	nRowBits := BitsFor(h)
	rowPairs := imgs[2+2*nColBits : 2+2*(nColBits+nRowBits)]
	vals, err = DecodeAtPoints(rowPairs, nRowBits, xs, ys)
	test.That(t, err, test.ShouldBeNil)
	for i := range xs {
		full := df.Rows[int(ys[i])*w+int(xs[i])]
		test.That(t, vals[i], test.ShouldAlmostEqual, float64(full))
	}
}

func TestDecodeAtPointsShortPairs(t *testing.T) {
	const w, h = 16, 8
	frames := Generate(w, h, testBrightness)
	imgs := grayImages(frames)

	_, err := DecodeAtPoints(imgs[2:4], BitsFor(w), []float64{1}, []float64{1})
	test.That(t, errors.Is(err, ErrNotEnoughFrames), test.ShouldBeTrue)

	_, err = DecodeAtPoints(imgs[2:2+2*BitsFor(w)], BitsFor(w), []float64{1, 2}, []float64{1})
	test.That(t, err, test.ShouldNotBeNil)
}
