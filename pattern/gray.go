// Package pattern generates binary-reflected Gray-code light patterns and
// decodes captured images of them back into per-pixel projector coordinates.
package pattern

// GraySequence returns the binary-reflected Gray sequence for n bits as a
// table of codes, built bottom-up so that each adjacent pair differs by
// exactly one bit. Index i holds the code projected for stripe i.
func GraySequence(n int) []uint32 {
	seq := []uint32{0, 1}
	for b := 1; b < n; b++ {
		next := make([]uint32, 0, len(seq)*2)
		for _, c := range seq {
			next = append(next, c)
		}
		for i := len(seq) - 1; i >= 0; i-- {
			next = append(next, 1<<uint(b)|seq[i])
		}
		seq = next
	}
	return seq
}

// EncodeGray converts a plain binary value to its Gray code.
func EncodeGray(v uint32) uint32 {
	return v ^ (v >> 1)
}

// DecodeGray converts a Gray code back to plain binary by iterative
// XOR-downshift.
func DecodeGray(g uint32) uint32 {
	for mask := g >> 1; mask > 0; mask >>= 1 {
		g ^= mask
	}
	return g
}

// BitsFor returns the number of bit planes needed to cover size stripes,
// i.e. ceil(log2(size)), never less than one: even a single-stripe axis
// projects one plane so decoding always has a pos/inv pair to threshold.
func BitsFor(size int) int {
	n := 1
	for (1 << uint(n)) < size {
		n++
	}
	return n
}
