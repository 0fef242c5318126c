package wire

// BitReader reads bits MSB-first from a byte slice. Reads past the end
// return zero bits and set Overflow.
type BitReader struct {
	data     []byte
	bitPos   int
	overflow bool
}

// NewBitReader returns a reader positioned at the first bit of data.
func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

// BitsLeft reports how many unread bits remain.
func (r *BitReader) BitsLeft() int {
	total := len(r.data) * 8
	if r.bitPos > total {
		return 0
	}
	return total - r.bitPos
}

// Overflow reports whether any read went past the end of the data.
func (r *BitReader) Overflow() bool {
	return r.overflow
}

func (r *BitReader) ReadBit() bool {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return false
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return (r.data[byteIdx]>>uint(bitIdx))&1 == 1
}

// ReadUint32 reads n (<= 32) bits as an unsigned integer.
func (r *BitReader) ReadUint32(n int) uint32 {
	var val uint32
	for i := 0; i < n; i++ {
		val <<= 1
		if r.ReadBit() {
			val |= 1
		}
	}
	return val
}

func (r *BitReader) Skip(n int) {
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}
