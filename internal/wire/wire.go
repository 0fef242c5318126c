// Package wire holds the fixed-width big-endian decoders, Latin-1 byte
// strings, packed BCD and NTP timestamp helpers shared by the RTP/RTCP
// listeners and the PSI/SI table parsers.
package wire

import (
	"encoding/binary"
	"strings"
	"time"
)

// NTP eras. Timestamps with the most significant bit of the seconds field
// set are counted from 1900; the rest wrapped in 2036 and count from there.
var (
	Epoch1900 = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	Epoch2036 = time.Date(2036, 2, 7, 6, 28, 16, 0, time.UTC)
)

func Uint16(buf []byte, off int) uint16 {
	return binary.BigEndian.Uint16(buf[off:])
}

// Uint24 decodes three big-endian bytes.
func Uint24(buf []byte, off int) uint32 {
	return uint32(buf[off])<<16 | uint32(buf[off+1])<<8 | uint32(buf[off+2])
}

func Uint32(buf []byte, off int) uint32 {
	return binary.BigEndian.Uint32(buf[off:])
}

func Uint64(buf []byte, off int) uint64 {
	return binary.BigEndian.Uint64(buf[off:])
}

// String maps each byte at buf[off:off+n] to the rune of the same value
// (Latin-1).
func String(buf []byte, off, n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for _, b := range buf[off : off+n] {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}

// NTPToTime converts a 64-bit NTP timestamp (32.32 fixed point) to UTC time.
func NTPToTime(ntp uint64) time.Time {
	seconds := uint32(ntp >> 32)
	fraction := uint32(ntp)
	nanos := (uint64(fraction) * uint64(time.Second)) >> 32
	d := time.Duration(seconds)*time.Second + time.Duration(nanos)
	if seconds&0x80000000 == 0 {
		return Epoch2036.Add(d)
	}
	return Epoch1900.Add(d)
}

// BCD decodes the low `digits` nibbles of v as a packed binary-coded decimal.
func BCD(v uint32, digits int) uint32 {
	var out uint32
	for i := digits - 1; i >= 0; i-- {
		out = out*10 + (v>>(uint(i)*4))&0x0F
	}
	return out
}
