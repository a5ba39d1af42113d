package pattern

import (
	"image"
	"image/draw"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// ErrNotEnoughFrames is returned when a capture directory or frame slice
// does not hold the white/black references plus every bit-plane pair.
var ErrNotEnoughFrames = errors.New("not enough frames to decode")

// DecodeOptions selects how the validity mask is thresholded.
//
// The adaptive mode (the default) derives a brightness floor from the
// all-black frame's 95th percentile and a contrast floor from the maximum
// observed white-black contrast, which tolerates ambient light changes
// between scans. Fixed mode applies the constant floors used for
// calibration captures taken under controlled lighting.
type DecodeOptions struct {
	FixedThresholds bool
	ShadowFloor     float64 // fixed mode: minimum all-white intensity
	MinContrast     float64 // fixed mode: minimum white-black contrast
}

// DefaultFixedOptions are the constant thresholds of the fixed masking mode.
func DefaultFixedOptions() DecodeOptions {
	return DecodeOptions{FixedThresholds: true, ShadowFloor: 40, MinContrast: 10}
}

const (
	shadowFloorScale   = 1.5  // adaptive floor: multiple of the black frame's 95th percentile
	contrastFraction   = 0.05 // adaptive floor: fraction of the maximum observed contrast
	percentileForFloor = 95
)

// DecodedFrame holds per-pixel decoded projector coordinates for one
// captured pose or scan. Cols, Rows and Valid are row-major (y*Width+x).
// Immutable after decode.
type DecodedFrame struct {
	Width, Height int
	Cols          []int
	Rows          []int
	Valid         []bool
	Texture       *image.NRGBA
}

// ValidCount returns the number of pixels that passed the validity mask.
func (df *DecodedFrame) ValidCount() int {
	n := 0
	for _, v := range df.Valid {
		if v {
			n++
		}
	}
	return n
}

// Decode turns a captured frame sequence into per-pixel projector
// coordinates. frames must be ordered exactly as Generate emits them:
// all-white, all-black, then positive/inverse pairs for the column bit
// planes followed by the row bit planes. texture provides the point colors
// and is normally the all-white capture in its native color format; it is
// converted to canonical RGB regardless of source channel order.
func Decode(frames []*image.Gray, texture image.Image, projWidth, projHeight int, opts DecodeOptions) (*DecodedFrame, error) {
	if len(frames) < 4 {
		return nil, errors.Wrapf(ErrNotEnoughFrames, "got %d frames, need at least white, black and one bit-plane pair", len(frames))
	}
	nColBits := BitsFor(projWidth)
	nRowBits := BitsFor(projHeight)
	if want := 2 + 2*(nColBits+nRowBits); len(frames) < want {
		return nil, errors.Wrapf(ErrNotEnoughFrames, "got %d frames, need %d for a %dx%d projector", len(frames), want, projWidth, projHeight)
	}

	white, black := frames[0], frames[1]
	bounds := white.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	for i, f := range frames {
		if f.Bounds().Dx() != w || f.Bounds().Dy() != h {
			return nil, errors.Errorf("frame %d size %v does not match reference %dx%d", i, f.Bounds().Size(), w, h)
		}
	}

	valid, err := validityMask(white, black, opts)
	if err != nil {
		return nil, err
	}

	cols := decodeBitPlanes(frames[2:2+2*nColBits], nColBits, w, h)
	rows := decodeBitPlanes(frames[2+2*nColBits:2+2*(nColBits+nRowBits)], nRowBits, w, h)

	df := &DecodedFrame{
		Width:  w,
		Height: h,
		Cols:   cols,
		Rows:   rows,
		Valid:  valid,
	}
	if texture != nil {
		df.Texture = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(df.Texture, df.Texture.Bounds(), texture, texture.Bounds().Min, draw.Src)
	}
	return df, nil
}

// validityMask combines a brightness floor on the all-white frame with a
// contrast floor on white-minus-black. Pixels failing either are excluded
// from all downstream triangulation.
func validityMask(white, black *image.Gray, opts DecodeOptions) ([]bool, error) {
	w := white.Bounds().Dx()
	h := white.Bounds().Dy()

	shadowFloor := opts.ShadowFloor
	minContrast := opts.MinContrast
	if !opts.FixedThresholds {
		blackVals := make([]float64, 0, w*h)
		maxContrast := 0.0
		for y := 0; y < h; y++ {
			wRow := white.Pix[y*white.Stride : y*white.Stride+w]
			bRow := black.Pix[y*black.Stride : y*black.Stride+w]
			for x := 0; x < w; x++ {
				blackVals = append(blackVals, float64(bRow[x]))
				if c := float64(wRow[x]) - float64(bRow[x]); c > maxContrast {
					maxContrast = c
				}
			}
		}
		noiseFloor, err := stats.Percentile(blackVals, percentileForFloor)
		if err != nil {
			return nil, errors.Wrap(err, "computing black frame noise floor")
		}
		shadowFloor = noiseFloor * shadowFloorScale
		minContrast = maxContrast * contrastFraction
	}

	valid := make([]bool, w*h)
	for y := 0; y < h; y++ {
		wRow := white.Pix[y*white.Stride : y*white.Stride+w]
		bRow := black.Pix[y*black.Stride : y*black.Stride+w]
		for x := 0; x < w; x++ {
			wv := float64(wRow[x])
			bv := float64(bRow[x])
			valid[y*w+x] = wv > shadowFloor && wv-bv > minContrast
		}
	}
	return valid, nil
}

// decodeBitPlanes folds positive/inverse frame pairs into per-pixel Gray
// values, most significant bit first, then converts Gray to plain binary.
func decodeBitPlanes(pairs []*image.Gray, nBits, w, h int) []int {
	gray := make([]uint32, w*h)
	for b := 0; b < nBits; b++ {
		pos := pairs[2*b]
		inv := pairs[2*b+1]
		shift := uint(nBits - 1 - b)
		for y := 0; y < h; y++ {
			pRow := pos.Pix[y*pos.Stride : y*pos.Stride+w]
			iRow := inv.Pix[y*inv.Stride : y*inv.Stride+w]
			base := y * w
			for x := 0; x < w; x++ {
				if pRow[x] > iRow[x] {
					gray[base+x] |= 1 << shift
				}
			}
		}
	}
	vals := make([]int, w*h)
	for i, g := range gray {
		vals[i] = int(DecodeGray(g))
	}
	return vals
}

// DecodeAtPoints decodes one axis's bit-plane pairs at the given sub-pixel
// sample coordinates only, rather than at every pixel. pairs is ordered
// pos,inv,pos,inv... most significant bit first, exactly as captured. Used
// during calibration to read projector coordinates at chessboard corners.
func DecodeAtPoints(pairs []*image.Gray, nBits int, xs, ys []float64) ([]float64, error) {
	if len(pairs) < 2*nBits {
		return nil, errors.Wrapf(ErrNotEnoughFrames, "got %d bit-plane frames, need %d", len(pairs), 2*nBits)
	}
	if len(xs) != len(ys) {
		return nil, errors.Errorf("coordinate slices differ in length: %d vs %d", len(xs), len(ys))
	}
	vals := make([]float64, len(xs))
	bin := make([]uint32, len(xs))
	for b := 0; b < nBits; b++ {
		pos := pairs[2*b]
		inv := pairs[2*b+1]
		for i := range xs {
			x, y := int(xs[i]), int(ys[i])
			var bit uint32
			if pos.GrayAt(x, y).Y > inv.GrayAt(x, y).Y {
				bit = 1
			}
			// Gray to binary on the fly: each binary bit is the XOR of all
			// Gray bits down to it.
			if b == 0 {
				bin[i] = bit
			} else {
				bin[i] ^= bit
			}
			vals[i] += float64(bin[i]) * float64(int(1)<<uint(nBits-1-b))
		}
	}
	return vals, nil
}
