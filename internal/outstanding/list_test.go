package outstanding

import "testing"

func TestPushAndAt(t *testing.T) {
	var l List[int]
	for seq := uint64(10); seq < 15; seq++ {
		l.Push(seq, int(seq)*2)
	}
	if l.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", l.Len())
	}
	if l.Base() != 10 {
		t.Fatalf("Base() = %d, want 10", l.Base())
	}
	e := l.At(12)
	if e == nil || e.Req != 24 {
		t.Fatalf("At(12) = %+v, want Req=24", e)
	}
	if l.At(9) != nil || l.At(15) != nil {
		t.Fatal("At() returned non-nil for out-of-window sequence")
	}
}

func TestPushNonContiguousPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-contiguous push")
		}
	}()
	var l List[struct{}]
	l.Push(1, struct{}{})
	l.Push(3, struct{}{})
}

func TestCompactDropsOnlyLeadingTerminal(t *testing.T) {
	var l List[int]
	for seq := uint64(0); seq < 5; seq++ {
		l.Push(seq, 0)
	}
	l.At(0).State = Acked
	l.At(1).State = Nacked
	l.At(2).State = Sent // not terminal: compaction must stop here
	l.At(3).State = Acked

	dropped := l.Compact()
	if dropped != 2 {
		t.Fatalf("Compact() dropped %d, want 2", dropped)
	}
	if l.Base() != 2 {
		t.Fatalf("Base() = %d, want 2", l.Base())
	}
	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	if l.At(2).State != Sent {
		t.Fatalf("entry at seq 2 state = %v, want Sent", l.At(2).State)
	}
}

func TestDrainThroughForcesAck(t *testing.T) {
	var l List[int]
	for seq := uint64(0); seq < 4; seq++ {
		l.Push(seq, 0)
	}
	l.At(1).State = Nacked // already terminal, must not flip to Acked
	l.DrainThrough(2)
	if l.At(0).State != Acked {
		t.Errorf("seq 0 state = %v, want Acked", l.At(0).State)
	}
	if l.At(1).State != Nacked {
		t.Errorf("seq 1 state = %v, want unchanged Nacked", l.At(1).State)
	}
	if l.At(2).State != Acked {
		t.Errorf("seq 2 state = %v, want Acked", l.At(2).State)
	}
	if l.At(3).State != Pending {
		t.Errorf("seq 3 state = %v, want untouched Pending", l.At(3).State)
	}
}

func TestPendingAndInFlightCounts(t *testing.T) {
	var l List[int]
	for seq := uint64(0); seq < 4; seq++ {
		l.Push(seq, 0)
	}
	l.At(1).State = Sent
	l.At(2).State = Sent
	l.At(3).State = Acked
	if got := l.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	if got := l.InFlight(); got != 2 {
		t.Errorf("InFlight() = %d, want 2", got)
	}
}

func TestOldestNewestEmpty(t *testing.T) {
	var l List[int]
	if l.Oldest() != nil || l.Newest() != nil {
		t.Fatal("expected nil Oldest/Newest on empty list")
	}
}
