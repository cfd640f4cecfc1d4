// Package overnet implements the Overnet packet protocol: a reliable,
// ordered, stream-oriented datagram transport layered over an unreliable
// packet sender. It provides per-packet sequencing with selective
// acknowledgement, BBR-style congestion control, retransmission-timeout
// detection, ack pacing/suppression, a pluggable payload codec, and
// graceful close with outstanding-operation draining.
//
// Protocol is the single-threaded, callback-driven core: every public
// method and every callback delivered by the Timer, PacketSender, and
// congestion controller must run on the same logical task. Protocol
// itself holds no lock, exactly as tcp.ControlBlock's doc comment
// instructs of its own callers; a caller that drives Protocol from
// multiple goroutines must serialize access itself, the way tcp.Conn
// wraps ControlBlock in a mutex at its own outer layer.
package overnet

import (
	"log/slog"
	"time"

	"github.com/soypat/overnet/bbr"
	"github.com/soypat/overnet/codec"
	"github.com/soypat/overnet/internal/outstanding"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// TimerHandle cancels a scheduled callback. Cancel is safe to call more
// than once and after the callback has already fired.
type TimerHandle interface {
	Cancel()
}

// Timer is the collaborator providing current time and deadline-based
// callback scheduling.
type Timer interface {
	Clock
	// ScheduleAt arranges for fn to be invoked on the protocol's task at
	// or after at. ScheduleAt itself must not invoke fn synchronously.
	ScheduleAt(at time.Time, fn func()) TimerHandle
}

// PacketSender is the collaborator capable of enqueueing one outgoing
// packet at a time. Send must invoke gen at most once to
// obtain the packet payload, then invoke done exactly once: nil on
// successful handoff to the wire, non-nil (conventionally ErrCancelled)
// if the sender can no longer deliver the packet.
type PacketSender interface {
	Send(seq uint64, gen func(LazySliceArgs) []byte, done func(error))
}

// lifecycleState is the protocol's coarse lifecycle.
type lifecycleState uint8

const (
	stateReady lifecycleState = iota
	stateClosing
	stateClosed
)

func (s lifecycleState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

const (
	kMaxUnackedReceives = 3
	minClampedRTT       = time.Millisecond
	maxClampedRTT       = 250 * time.Millisecond
	defaultRTOBaseRTT   = 100 * time.Millisecond
)

// Protocol is the Overnet packet protocol core. It is not safe for
// concurrent use.
type Protocol struct {
	logger

	timer  Timer
	sender PacketSender
	codec  codec.Codec
	cc     *bbr.Controller
	mssCfg int

	state         lifecycleState
	outstandingOp int
	quiescedFn    func()
	closeErr      error

	// send side
	sendTip            uint64
	outstanding        outstanding.List[sendEntry]
	queued             []SendRequest
	sending            bool
	transmitting       bool
	lastSentAck        uint64 // seq of most recent outstanding entry carrying an ack, 0 if none
	seqWidth           int
	maxOutstandingSize uint64 // running max of (seq - sendTip) ever outstanding; never decreases

	// receive side
	recvTip      uint64
	maxSeen      uint64
	maxAcked     uint64
	ledger       map[uint64]ledgerEntry
	nacksBuf     []uint64 // reused scratch space for tryGenerateAck's nack scan
	firstAckSent bool
	lastAckSend  time.Time
	ackTimer     TimerHandle

	// rto / keepalive
	rtoTimer         TimerHandle
	lastKeepalive    time.Time

	// stats
	statSent   uint64
	statAcked  uint64
	statNacked uint64
}

// New constructs a ready-to-use Protocol. seed drives BBR's pacing gain
// jitter. mss is the configured
// maximum segment size including codec expansion; Mss() exposes the
// user-payload budget.
func New(timer Timer, seed uint32, sender PacketSender, c codec.Codec, mss int) *Protocol {
	if c == nil {
		c = codec.Null{}
	}
	p := &Protocol{
		timer:     timer,
		sender:    sender,
		codec:     c,
		cc:        bbr.New(timer, seed),
		mssCfg:    mss,
		sendTip:   1,
		recvTip:   0,
		seqWidth:  1,
		ledger:    make(map[uint64]ledgerEntry),
		lastKeepalive: timer.Now(),
	}
	return p
}

// SetLogger attaches a structured logger. A nil logger (the zero value)
// silently discards all log output.
func (p *Protocol) SetLogger(l *slog.Logger) {
	p.log = l
	p.cc.SetLogger(l)
}

// Mss returns the user-payload budget for one outgoing packet: the
// configured MSS minus the codec's fixed expansion.
func (p *Protocol) Mss() int {
	prefix, suffix := p.codec.Expansion()
	m := p.mssCfg - prefix - suffix
	if m < 0 {
		return 0
	}
	return m
}

// BottleneckBandwidth returns BBR's current bandwidth estimate in bytes
// per second.
func (p *Protocol) BottleneckBandwidth() bbr.Bandwidth { return p.cc.BottleneckBandwidth() }

// RoundTripTime returns BBR's current RTT estimate, or bbr.InfiniteRTT if
// no sample has been taken.
func (p *Protocol) RoundTripTime() time.Duration { return p.cc.RTT() }

// Stats returns a snapshot of protocol counters.
func (p *Protocol) Stats() Stats {
	return Stats{
		Sent:                           p.statSent,
		Acked:                          p.statAcked,
		Nacked:                         p.statNacked,
		Outstanding:                    p.outstanding.Len(),
		QueuedSends:                    len(p.queued),
		BottleneckBandwidthBytesPerSec: float64(p.cc.BottleneckBandwidth()),
		RoundTripTime:                  p.cc.RTT(),
	}
}

// clampedRTT returns the current RTT estimate clamped to
// [minClampedRTT, maxClampedRTT], defaulting to defaultRTOBaseRTT when
// no sample exists yet.
func (p *Protocol) clampedRTT() time.Duration {
	rtt := p.cc.RTT()
	if rtt == bbr.InfiniteRTT {
		return defaultRTOBaseRTT
	}
	if rtt < minClampedRTT {
		return minClampedRTT
	}
	if rtt > maxClampedRTT {
		return maxClampedRTT
	}
	return rtt
}

// quarterRTT computes the ack-pacing interval.
func (p *Protocol) quarterRTT() time.Duration {
	rtt := p.cc.RTT()
	if rtt == bbr.InfiniteRTT {
		return 100 * time.Millisecond / 4
	}
	if rtt < time.Millisecond {
		rtt = time.Millisecond
	} else if rtt > 250*time.Millisecond {
		rtt = 250 * time.Millisecond
	}
	return rtt / 4
}

// enterOp increments the outstanding-operation token count, preventing
// Close from quiescing mid-callback.
func (p *Protocol) enterOp() {
	p.outstandingOp++
}

// leaveOp decrements the token count and, if the protocol is draining and
// the count has reached zero, transitions to CLOSED and fires the stored
// quiesced continuation exactly once.
func (p *Protocol) leaveOp() {
	p.outstandingOp--
	if p.outstandingOp < 0 {
		panic("overnet: outstanding-op count went negative")
	}
	p.maybeQuiesce()
}
