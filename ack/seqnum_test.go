package ack

import "testing"

func TestSeqNumRoundTrip(t *testing.T) {
	for width := 1; width <= 4; width++ {
		bits := widthBits(width)
		max := uint64(1)<<bits - 1
		for _, seq := range []uint64{0, 1, max / 2, max} {
			enc, err := EncodeSeqNum(nil, seq, width)
			if err != nil {
				t.Fatalf("width=%d seq=%d: %v", width, seq, err)
			}
			if len(enc) != width {
				t.Fatalf("width=%d produced %d bytes", width, len(enc))
			}
			gotWidth, low, n, err := DecodeSeqNum(enc)
			if err != nil {
				t.Fatalf("DecodeSeqNum: %v", err)
			}
			if gotWidth != width || n != width {
				t.Fatalf("decoded width=%d n=%d, want %d", gotWidth, n, width)
			}
			if low != seq&max {
				t.Fatalf("decoded low=%d, want %d", low, seq&max)
			}
		}
	}
}

func TestReconstructSeqWithinWindow(t *testing.T) {
	const width = 2 // 14 bits, window size 16384
	bits := widthBits(width)
	span := uint64(1) << bits
	base := uint64(1_000_000)
	for _, trueSeq := range []uint64{base, base + 1, base + span/2, base - span/2 + 1, base + 5, base - 5} {
		low := trueSeq & (span - 1)
		got := ReconstructSeq(base, width, low)
		if got != trueSeq {
			t.Errorf("ReconstructSeq(base=%d, width=%d, low=%d) = %d, want %d", base, width, low, got, trueSeq)
		}
	}
}

func TestMinSeqWidthGrows(t *testing.T) {
	cases := []struct {
		window uint64
		want   int
	}{
		{1, 1},
		{32, 1},
		{100, 2},
		{1 << 13, 2},
		{1 << 14, 3},
		{1 << 30, 4},
	}
	for _, c := range cases {
		got := MinSeqWidth(c.window)
		if got != c.want {
			t.Errorf("MinSeqWidth(%d) = %d, want %d", c.window, got, c.want)
		}
	}
}
