package pattern

import (
	"fmt"
	"image"
)

// Frame is one projectable pattern with the file label under which its
// capture is expected to land.
type Frame struct {
	Label string
	Image *image.Gray
}

// Generate produces the full projection sequence for a projector of the
// given resolution: an all-white and an all-black reference frame followed
// by the column bit planes and then the row bit planes, each immediately
// followed by its logical inverse. The Gray sequence guarantees adjacent
// stripes differ by one bit, so a mis-thresholded pixel at a stripe
// boundary is off by at most one projector coordinate.
//
// value is the projected brightness for lit pixels; driving the projector
// below full white keeps the camera sensor out of blooming.
func Generate(width, height int, value uint8) []Frame {
	nColBits := BitsFor(width)
	nRowBits := BitsFor(height)
	colCodes := GraySequence(nColBits)
	rowCodes := GraySequence(nRowBits)

	frames := make([]Frame, 0, 2+2*(nColBits+nRowBits))
	frames = append(frames,
		Frame{Label: "01.png", Image: uniform(width, height, value)},
		Frame{Label: "02.png", Image: uniform(width, height, 0)},
	)

	idx := 3
	appendPair := func(pos *image.Gray) {
		frames = append(frames, Frame{Label: frameLabel(idx), Image: pos})
		idx++
		frames = append(frames, Frame{Label: frameLabel(idx), Image: invert(pos, value)})
		idx++
	}

	// Column planes, most significant bit first.
	for b := nColBits - 1; b >= 0; b-- {
		pos := image.NewGray(image.Rect(0, 0, width, height))
		for c := 0; c < width; c++ {
			if colCodes[c]&(1<<uint(b)) == 0 {
				continue
			}
			for r := 0; r < height; r++ {
				pos.Pix[r*pos.Stride+c] = value
			}
		}
		appendPair(pos)
	}

	// Row planes, most significant bit first.
	for b := nRowBits - 1; b >= 0; b-- {
		pos := image.NewGray(image.Rect(0, 0, width, height))
		for r := 0; r < height; r++ {
			if rowCodes[r]&(1<<uint(b)) == 0 {
				continue
			}
			row := pos.Pix[r*pos.Stride : r*pos.Stride+width]
			for c := range row {
				row[c] = value
			}
		}
		appendPair(pos)
	}

	return frames
}

func frameLabel(idx int) string {
	return fmt.Sprintf("%02d.png", idx)
}

func uniform(width, height int, value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	if value != 0 {
		for i := range img.Pix {
			img.Pix[i] = value
		}
	}
	return img
}

func invert(src *image.Gray, value uint8) *image.Gray {
	dst := image.NewGray(src.Bounds())
	for i, p := range src.Pix {
		if p == 0 {
			dst.Pix[i] = value
		}
	}
	return dst
}
