package ack

import (
	"errors"
	"math"
	"time"
)

// InfiniteDelay is the sentinel a caller-supplied delay-recomputation
// function may return from AdjustForMSS to mean "the receive time of the
// promoted ack horizon is not yet known" (see AdjustForMSS). It is mapped
// to zero for wire purposes, per the open question recorded in DESIGN.md.
const InfiniteDelay = time.Duration(math.MaxInt64)

// ErrInvalidFrame is returned by Decode when the ack frame is structurally
// invalid: a zero ack_to_seq, a nack that is not strictly less than the
// running horizon, or a truncated trailing varint.
var ErrInvalidFrame = errors.New("ack: invalid frame")

// Frame is a parsed Overnet ack frame. Nacks is
// stored in ascending order (oldest/lowest sequence first) for convenience
// of callers that must deliver nacks to the application oldest-first;
// Encode reverses it to the wire's descending-delta order.
type Frame struct {
	AckToSeq uint64
	AckDelay time.Duration
	Partial  bool
	// Nacks holds sequence numbers at or below AckToSeq, ascending, each
	// distinct. Encode requires each entry strictly less than AckToSeq (a
	// wire frame never needs to nack its own horizon); a locally
	// synthesized frame that was never encoded may nack AckToSeq itself.
	Nacks []uint64
}

// Encode appends the wire encoding of f to dst.
//
//	ack := varint(delay_and_flags) || varint(ack_to_seq) || nacks*
//	delay_and_flags := (ack_delay_us << 1) | partial_flag
//	nacks[0] := varint(ack_to_seq - first_nack_seq)
//	nacks[i] := varint(prev_nack_seq - curr_nack_seq)
//
// The frame is not length-prefixed by its own nack count: the caller
// (the packet-level codec, which wraps the frame in a varint(ack_length)
// envelope) delimits where the frame ends, so Decode reads
// nacks until its input slice is exhausted.
func Encode(dst []byte, f Frame) ([]byte, error) {
	if f.AckToSeq == 0 {
		return nil, errors.New("ack: ack_to_seq must be >= 1")
	}
	delayUs := uint64(f.AckDelay / time.Microsecond)
	flags := delayUs << 1
	if f.Partial {
		flags |= 1
	}
	dst = AppendVarint(dst, flags)
	dst = AppendVarint(dst, f.AckToSeq)
	prev := f.AckToSeq
	for i := len(f.Nacks) - 1; i >= 0; i-- {
		nack := f.Nacks[i]
		if nack >= prev {
			return nil, errors.New("ack: nacks must be strictly ascending and below ack_to_seq")
		}
		dst = AppendVarint(dst, prev-nack)
		prev = nack
	}
	return dst, nil
}

// EncodedLen returns len(Encode(nil, f)) without allocating the encoding.
func EncodedLen(f Frame) int {
	n := VarintLen(uint64(f.AckDelay/time.Microsecond)<<1 | 1)
	n += VarintLen(f.AckToSeq)
	prev := f.AckToSeq
	for i := len(f.Nacks) - 1; i >= 0; i-- {
		n += VarintLen(prev - f.Nacks[i])
		prev = f.Nacks[i]
	}
	return n
}

// Decode parses an ack frame occupying the entirety of b.
func Decode(b []byte) (Frame, error) {
	flags, n, err := ReadVarint(b)
	if err != nil {
		return Frame{}, err
	}
	b = b[n:]
	ackToSeq, n, err := ReadVarint(b)
	if err != nil {
		return Frame{}, err
	}
	b = b[n:]
	if ackToSeq == 0 {
		return Frame{}, ErrInvalidFrame
	}
	f := Frame{
		AckToSeq: ackToSeq,
		AckDelay: time.Duration(flags>>1) * time.Microsecond,
		Partial:  flags&1 != 0,
	}
	prev := ackToSeq
	var nacks []uint64
	for len(b) > 0 {
		delta, n, err := ReadVarint(b)
		if err != nil {
			return Frame{}, ErrInvalidFrame
		}
		b = b[n:]
		if delta == 0 || delta >= prev {
			return Frame{}, ErrInvalidFrame
		}
		nack := prev - delta
		nacks = append(nacks, nack)
		prev = nack
	}
	for i, j := 0, len(nacks)-1; i < j; i, j = i+1, j-1 {
		nacks[i], nacks[j] = nacks[j], nacks[i]
	}
	f.Nacks = nacks
	return f, nil
}

// AdjustForMSS shrinks f so that Encode(nil, f) is at most maxLen bytes,
// by dropping the lowest-sequence ("trailing") nacks first
// and keeping the newest (highest-sequence) ones, which are the survivors
// closest to the original ack horizon. If dropping down to a single nack
// still does not fit, that nack is promoted to become the new AckToSeq
// (and removed from Nacks, since a nack must be strictly less than
// AckToSeq) and lateDelay is called to recompute AckDelay for the new
// horizon; if lateDelay returns InfiniteDelay (the receive time of that
// sequence is not resolved yet, e.g. still racing a concurrent Process
// call) AckDelay is set to zero for wire purposes.
//
// It reports whether the frame was trimmed at all; a trimmed frame always
// carries Partial=true, and the caller should schedule a follow-up ack
// so the dropped nacks eventually get reported.
func AdjustForMSS(f Frame, maxLen int, lateDelay func(seq uint64) time.Duration) (Frame, bool) {
	out := f
	trimmed := false
	for EncodedLen(out) > maxLen {
		trimmed = true
		switch len(out.Nacks) {
		case 0:
			// Nothing left to drop; the bare header itself exceeds maxLen.
			out.Partial = true
			return out, trimmed
		case 1:
			newAck := out.Nacks[0]
			delay := lateDelay(newAck)
			if delay == InfiniteDelay || delay < 0 {
				delay = 0
			}
			out.AckToSeq = newAck
			out.AckDelay = delay
			out.Nacks = nil
		default:
			out.Nacks = out.Nacks[1:]
		}
	}
	if trimmed {
		out.Partial = true
	}
	return out, trimmed
}
