package ack

import (
	"reflect"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		{AckToSeq: 1},
		{AckToSeq: 100, AckDelay: 250 * time.Microsecond},
		{AckToSeq: 100, AckDelay: 250 * time.Microsecond, Nacks: []uint64{98, 99}},
		{AckToSeq: 1000, Partial: true, Nacks: []uint64{1, 500, 999}},
	}
	for _, f := range cases {
		enc, err := Encode(nil, f)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", f, err)
		}
		if len(enc) != EncodedLen(f) {
			t.Errorf("EncodedLen(%+v)=%d, encoded %d bytes", f, EncodedLen(f), len(enc))
		}
		got, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Nacks == nil {
			got.Nacks = []uint64{}
		}
		want := f
		if want.Nacks == nil {
			want.Nacks = []uint64{}
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip: got %+v, want %+v", got, want)
		}
	}
}

func TestFrameDecodeRejectsNonDescendingNacks(t *testing.T) {
	// Manually build a frame where the second nack delta is 0 (equal seqs),
	// which is invalid: nacks must be strictly descending on the wire.
	var b []byte
	b = AppendVarint(b, 0) // delay_and_flags = 0
	b = AppendVarint(b, 100)
	b = AppendVarint(b, 1) // first nack = 99
	b = AppendVarint(b, 0) // delta 0 -> same seq again, invalid
	_, err := Decode(b)
	if err != ErrInvalidFrame {
		t.Fatalf("got err=%v, want ErrInvalidFrame", err)
	}
}

func TestFrameDecodeRejectsZeroAckToSeq(t *testing.T) {
	var b []byte
	b = AppendVarint(b, 0)
	b = AppendVarint(b, 0)
	_, err := Decode(b)
	if err != ErrInvalidFrame {
		t.Fatalf("got err=%v, want ErrInvalidFrame", err)
	}
}

func TestAdjustForMSSPromotesSurvivingNack(t *testing.T) {
	nacks := make([]uint64, 0, 100)
	for s := uint64(999); s >= 900; s-- {
		nacks = append(nacks, s)
	}
	// Frame.Nacks is stored ascending.
	for i, j := 0, len(nacks)-1; i < j; i, j = i+1, j-1 {
		nacks[i], nacks[j] = nacks[j], nacks[i]
	}
	f := Frame{AckToSeq: 1000, Nacks: nacks}

	lateDelay := func(seq uint64) time.Duration { return 0 }
	got, trimmed := AdjustForMSS(f, 16, lateDelay)
	if !trimmed {
		t.Fatal("expected frame to be trimmed")
	}
	if !got.Partial {
		t.Error("expected Partial=true after trimming")
	}
	if got.AckToSeq != 999 {
		t.Errorf("AckToSeq = %d, want 999 (the newest/highest surviving nack)", got.AckToSeq)
	}
	if len(got.Nacks) != 0 {
		t.Errorf("Nacks = %v, want empty after promotion", got.Nacks)
	}
	enc, err := Encode(nil, got)
	if err != nil {
		t.Fatalf("Encode(trimmed): %v", err)
	}
	if len(enc) > 3 {
		t.Errorf("trimmed frame still %d bytes, want <= 3", len(enc))
	}
}

func TestAdjustForMSSUnderBudgetIsNoop(t *testing.T) {
	f := Frame{AckToSeq: 10, Nacks: []uint64{5}}
	got, trimmed := AdjustForMSS(f, 256, func(uint64) time.Duration { return 0 })
	if trimmed {
		t.Fatal("expected no trimming when frame already fits")
	}
	if !reflect.DeepEqual(got, f) {
		t.Errorf("got %+v, want unchanged %+v", got, f)
	}
}

func TestAdjustForMSSInfiniteDelayTreatedAsZero(t *testing.T) {
	f := Frame{AckToSeq: 1000, Nacks: []uint64{999}}
	got, trimmed := AdjustForMSS(f, 1, func(uint64) time.Duration { return InfiniteDelay })
	if !trimmed {
		t.Fatal("expected trimming")
	}
	if got.AckDelay != 0 {
		t.Errorf("AckDelay = %v, want 0 when lateDelay returns InfiniteDelay", got.AckDelay)
	}
}
