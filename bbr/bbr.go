// Package bbr implements the BBR-style congestion controller collaborator
// used by the overnet packet protocol to pace transmission and estimate
// bottleneck bandwidth and round-trip time.
//
// BBR's gain cycle and min-RTT window are a collaborator concern rather
// than a fixed protocol detail (see DESIGN.md open question #3). This
// implementation carries the two filters real BBR is named for —
// a windowed max-bandwidth filter and a windowed min-RTT filter — and a
// simplified PROBE_BW-style pacing gain cycle; it does not model BBR's
// STARTUP/DRAIN/PROBE_RTT phase machine.
package bbr

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/soypat/overnet/internal"
)

// InfiniteRTT is returned by Controller.RTT before any round-trip sample
// has been observed.
const InfiniteRTT = time.Duration(math.MaxInt64)

// SentPacket is the bookkeeping record a Controller hands back for a
// scheduled transmission, to be stashed by the caller and later fed back
// in an AckedNacked report.
type SentPacket struct {
	Seq      uint64
	Size     int
	SendTime time.Time
}

// TransmitRequest describes the packet about to be scheduled.
type TransmitRequest struct {
	Seq  uint64
	Size int
}

// AckedNacked reports the disposition of a batch of previously scheduled
// packets. SendTime on every entry must already be offset
// by the peer-reported ack delay before it reaches OnAck.
type AckedNacked struct {
	Acked  []SentPacket
	Nacked []SentPacket
}

// Bandwidth is expressed in bytes per second.
type Bandwidth float64

// pacingGainCycle is BBR's classic 8-phase PROBE_BW gain cycle, scaled by
// 256 to stay in fixed point (1x = 256).
var pacingGainCycle = [8]int{320, 192, 256, 256, 256, 256, 256, 256}

const (
	minCwndBytes  = 4 * 1024
	cwndGainNum   = 2
	cwndGainDen   = 1
	bwWindowRTTs  = 10
	rttWindowSpan = 10 * time.Second
)

type bwSample struct {
	bw    Bandwidth
	round uint64
}

// Controller is the congestion controller collaborator. It is not safe
// for concurrent use; like the protocol it serves, it is driven from a
// single cooperative task.
type Controller struct {
	clock Clock
	seed  uint32

	round        uint64
	inFlight     int
	cwnd         int
	pendingGrant func(error)

	bwSamples  []bwSample
	minRTT     time.Duration
	minRTTSeen time.Time

	gainPhase int
	closed    bool

	log *slog.Logger
}

// Clock is the minimal time source the controller needs; overnet.Timer
// satisfies it.
type Clock interface {
	Now() time.Time
}

// New returns a ready-to-use Controller. seed drives the pacing-gain
// cycle's phase jitter (reusing a small xorshift PRNG rather than
// pulling in math/rand for a single cheap integer).
func New(clock Clock, seed uint32) *Controller {
	if seed == 0 {
		seed = 0x9e3779b9
	}
	c := &Controller{
		clock:  clock,
		seed:   seed,
		cwnd:   minCwndBytes,
		minRTT: InfiniteRTT,
	}
	c.gainPhase = int(internal.Prand32(seed) % uint32(len(pacingGainCycle)))
	return c
}

// SetLogger attaches a logger for trace-level congestion events.
func (c *Controller) SetLogger(log *slog.Logger) { c.log = log }

// RequestTransmit invokes cb(nil) as soon as a congestion-window slot is
// available. If one is available now, cb runs synchronously before
// RequestTransmit returns. Only one callback may be pending at a time.
func (c *Controller) RequestTransmit(cb func(error)) {
	if c.closed {
		cb(context.Canceled)
		return
	}
	if c.inFlight < c.cwnd {
		cb(nil)
		return
	}
	c.pendingGrant = cb
}

// CancelRequestTransmit releases a pending RequestTransmit callback
// without invoking it.
func (c *Controller) CancelRequestTransmit() {
	c.pendingGrant = nil
}

// ScheduleTransmit records size bytes as in flight for req.Seq and returns
// the bookkeeping record to stash alongside the outstanding packet entry.
func (c *Controller) ScheduleTransmit(req TransmitRequest) SentPacket {
	c.inFlight += req.Size
	return SentPacket{Seq: req.Seq, Size: req.Size, SendTime: c.clock.Now()}
}

// OnAck folds a batch of newly-acked and newly-nacked packets into the
// bandwidth and RTT estimators and releases capacity for any pending
// RequestTransmit grant.
func (c *Controller) OnAck(info AckedNacked) {
	now := c.clock.Now()
	c.round++
	for _, p := range info.Acked {
		c.onDelivered(p, now)
	}
	for _, p := range info.Nacked {
		c.inFlight -= p.Size
		if c.inFlight < 0 {
			c.inFlight = 0
		}
	}
	c.pruneBandwidthSamples()
	c.updateCwnd()
	if c.pendingGrant != nil && c.inFlight < c.cwnd {
		grant := c.pendingGrant
		c.pendingGrant = nil
		grant(nil)
	}
}

func (c *Controller) onDelivered(p SentPacket, now time.Time) {
	c.inFlight -= p.Size
	if c.inFlight < 0 {
		c.inFlight = 0
	}
	elapsed := now.Sub(p.SendTime)
	if elapsed <= 0 {
		return // clock skew from ack-delay offsetting; skip this sample.
	}
	if elapsed < c.minRTT {
		c.minRTT = elapsed
		c.minRTTSeen = now
	} else if now.Sub(c.minRTTSeen) > rttWindowSpan {
		// The min-RTT filter has gone stale; accept a fresh, possibly
		// larger, sample so a permanently reduced RTT is eventually
		// forgotten (mirrors BBR's PROBE_RTT rationale without the
		// dedicated phase).
		c.minRTT = elapsed
		c.minRTTSeen = now
	}
	bw := Bandwidth(float64(p.Size) / elapsed.Seconds())
	c.bwSamples = append(c.bwSamples, bwSample{bw: bw, round: c.round})
}

func (c *Controller) pruneBandwidthSamples() {
	cutoff := uint64(0)
	if c.round > bwWindowRTTs {
		cutoff = c.round - bwWindowRTTs
	}
	kept := c.bwSamples[:0]
	for _, s := range c.bwSamples {
		if s.round >= cutoff {
			kept = append(kept, s)
		}
	}
	c.bwSamples = kept
}

func (c *Controller) maxBandwidth() Bandwidth {
	var max Bandwidth
	for _, s := range c.bwSamples {
		if s.bw > max {
			max = s.bw
		}
	}
	return max
}

func (c *Controller) updateCwnd() {
	bw := c.maxBandwidth()
	if bw == 0 || c.minRTT == InfiniteRTT {
		return
	}
	gain := pacingGainCycle[c.gainPhase%len(pacingGainCycle)]
	c.gainPhase++
	bdp := float64(bw) * c.minRTT.Seconds() * float64(gain) / 256
	bdp = bdp * cwndGainNum / cwndGainDen
	cwnd := int(bdp)
	if cwnd < minCwndBytes {
		cwnd = minCwndBytes
	}
	c.cwnd = cwnd
	if internal.LogEnabled(c.log, internal.LevelTrace) {
		internal.LogAttrs(c.log, internal.LevelTrace, "bbr:cwnd-update",
			slog.Float64("bw_bytes_s", float64(bw)),
			slog.Duration("min_rtt", c.minRTT),
			slog.Int("cwnd", c.cwnd),
		)
	}
}

// BottleneckBandwidth returns the current windowed-max bandwidth estimate.
func (c *Controller) BottleneckBandwidth() Bandwidth { return c.maxBandwidth() }

// RTT returns the current windowed-min round trip time estimate, or
// InfiniteRTT if no sample has been taken yet.
func (c *Controller) RTT() time.Duration { return c.minRTT }

// Close marks the controller closed: any future RequestTransmit call is
// answered with context.Canceled, and a currently pending grant is
// released the same way.
func (c *Controller) Close() {
	c.closed = true
	if c.pendingGrant != nil {
		grant := c.pendingGrant
		c.pendingGrant = nil
		grant(context.Canceled)
	}
}
