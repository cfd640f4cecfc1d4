package overnet_test

import (
	"time"

	"github.com/soypat/overnet"
	"github.com/soypat/overnet/ack"
)

// fakeTimerEntry is one pending callback registered through ScheduleAt.
type fakeTimerEntry struct {
	at        time.Time
	fn        func()
	cancelled bool
	fired     bool
}

type fakeHandle struct{ e *fakeTimerEntry }

func (h *fakeHandle) Cancel() { h.e.cancelled = true }

// fakeTimer is a manually-advanced clock and scheduler: ScheduleAt never
// fires synchronously, and due callbacks only run on Advance, mirroring the
// single-threaded cooperative scheduling Protocol assumes of its Timer.
type fakeTimer struct {
	now     time.Time
	entries []*fakeTimerEntry
}

func newFakeTimer(start time.Time) *fakeTimer {
	return &fakeTimer{now: start}
}

func (t *fakeTimer) Now() time.Time { return t.now }

func (t *fakeTimer) ScheduleAt(at time.Time, fn func()) overnet.TimerHandle {
	e := &fakeTimerEntry{at: at, fn: fn}
	t.entries = append(t.entries, e)
	return &fakeHandle{e: e}
}

// Advance moves the clock forward by d and fires every due, uncancelled
// callback in the order they become due. A callback that itself schedules
// a new due callback (RTO rearm, ack-timer rearm) is also fired within the
// same Advance call, matching how a real timer's goroutine would drain a
// backlog of expired deadlines.
func (t *fakeTimer) Advance(d time.Duration) {
	t.now = t.now.Add(d)
	for {
		progressed := false
		for _, e := range t.entries {
			if !e.cancelled && !e.fired && !e.at.After(t.now) {
				e.fired = true
				progressed = true
				e.fn()
			}
		}
		if !progressed {
			return
		}
	}
}

// sentPacket records one PacketSender.Send invocation.
type sentPacket struct {
	seq   uint64
	bytes []byte
	done  func(error)
}

// fakeSender captures every packet handed to it. When autoComplete is set,
// done is invoked with a nil error synchronously, as a transport with an
// always-ready outgoing queue would.
type fakeSender struct {
	sent         []*sentPacket
	autoComplete bool
}

func (s *fakeSender) Send(seq uint64, gen func(overnet.LazySliceArgs) []byte, done func(error)) {
	b := gen(overnet.LazySliceArgs{MaxLength: 1500})
	sp := &sentPacket{seq: seq, bytes: b, done: done}
	s.sent = append(s.sent, sp)
	if s.autoComplete {
		done(nil)
	}
}

// fakeRequest is a SendRequest test double recording its resolution.
type fakeRequest struct {
	payload  []byte
	resolved bool
	ackErr   error
}

func (r *fakeRequest) GenerateBytes(args overnet.LazySliceArgs) []byte {
	n := len(r.payload)
	if args.MaxLength < n {
		n = args.MaxLength
	}
	return r.payload[:n]
}

func (r *fakeRequest) Ack(err error) {
	r.resolved = true
	r.ackErr = err
}

// buildPacket assembles a raw received-packet body matching the wire layout
// Protocol.composeOutgoing produces for the null codec: a width-prefixed
// sequence number header, a varint-length-prefixed ack frame (or a bare
// zero length when frame is nil), then payload.
func buildPacket(seq uint64, width int, frame *ack.Frame, payload []byte) []byte {
	b, err := ack.EncodeSeqNum(nil, seq, width)
	if err != nil {
		panic(err)
	}
	if frame != nil {
		enc, err := ack.Encode(nil, *frame)
		if err != nil {
			panic(err)
		}
		b = ack.AppendVarint(b, uint64(len(enc)))
		b = append(b, enc...)
	} else {
		b = ack.AppendVarint(b, 0)
	}
	return append(b, payload...)
}
