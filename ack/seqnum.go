package ack

import "errors"

// ErrSeqTruncated is returned when decoding a sequence number from a
// buffer shorter than the width its first byte declares.
var ErrSeqTruncated = errors.New("ack: truncated sequence number")

// ErrSeqWidth is returned by EncodeSeqNum when width is not in [1, 4].
var ErrSeqWidth = errors.New("ack: sequence number width must be 1..4")

// widthBits returns the number of low bits of a sequence number that a
// wire width of 1..4 bytes carries: 6, 14, 22, or 30.
func widthBits(width int) uint {
	return uint(6 + 8*(width-1))
}

// MinSeqWidth returns the smallest wire width (1..4 bytes) whose window
// size (2^widthBits) comfortably covers windowSize distinct sequence
// numbers, so a receiver basing reconstruction on a value within one
// window's length of the sender's range can recover it unambiguously.
// Window sizes above what 4 bytes can address saturate at width 4.
func MinSeqWidth(windowSize uint64) int {
	for w := 1; w < 4; w++ {
		if windowSize <= uint64(1)<<(widthBits(w)-1) {
			return w
		}
	}
	return 4
}

// EncodeSeqNum appends the width-prefixed wire encoding of the low bits of
// seq to dst. The top two bits of the first byte carry width-1; the
// remaining 6+8*(width-1) bits carry seq's low bits, least-significant
// byte first after the initial 6-bit group.
func EncodeSeqNum(dst []byte, seq uint64, width int) ([]byte, error) {
	if width < 1 || width > 4 {
		return nil, ErrSeqWidth
	}
	mask := uint64(1)<<widthBits(width) - 1
	low := seq & mask
	b0 := byte(width-1)<<6 | byte(low&0x3f)
	dst = append(dst, b0)
	rem := low >> 6
	for i := 1; i < width; i++ {
		dst = append(dst, byte(rem))
		rem >>= 8
	}
	return dst, nil
}

// DecodeSeqNum reads a width-prefixed sequence number from the front of b,
// returning its wire width, its raw low-bit value, and the number of
// bytes consumed.
func DecodeSeqNum(b []byte) (width int, low uint64, n int, err error) {
	if len(b) == 0 {
		return 0, 0, 0, ErrSeqTruncated
	}
	width = int(b[0]>>6) + 1
	if len(b) < width {
		return 0, 0, 0, ErrSeqTruncated
	}
	low = uint64(b[0] & 0x3f)
	for i := 1; i < width; i++ {
		low |= uint64(b[i]) << (6 + 8*(i-1))
	}
	return width, low, width, nil
}

// SeqNum is a wire-decoded sequence number awaiting reconstruction
// against a receiver's window base. It is the unit passed across the
// packet-protocol boundary: whatever strips the outer sequence-number
// header off a received datagram decodes it into a SeqNum before handing
// the remaining bytes onward.
type SeqNum struct {
	Width int
	Low   uint64
}

// ParseSeqNum reads a SeqNum from the front of b, returning the number of
// bytes consumed.
func ParseSeqNum(b []byte) (SeqNum, int, error) {
	width, low, n, err := DecodeSeqNum(b)
	if err != nil {
		return SeqNum{}, 0, err
	}
	return SeqNum{Width: width, Low: low}, n, nil
}

// Reconstruct recovers the full logical sequence number relative to base.
func (s SeqNum) Reconstruct(base uint64) uint64 {
	return ReconstructSeq(base, s.Width, s.Low)
}

// ReconstructSeq recovers the unique logical sequence number whose low
// widthBits(width) bits equal low and which lies within the window
// [base-2^(n-1)+1, base+2^(n-1)] centered on base, where n = widthBits(width).
func ReconstructSeq(base uint64, width int, low uint64) uint64 {
	n := widthBits(width)
	span := int64(1) << n
	mask := uint64(span - 1)
	baseLow := int64(base & mask)
	d := int64(low) - baseLow
	half := span / 2
	if d > half {
		d -= span
	} else if d <= -half {
		d += span
	}
	return uint64(int64(base) + d)
}
