package overnet

import (
	"log/slog"
	"time"

	"github.com/soypat/overnet/ack"
	"github.com/soypat/overnet/internal/outstanding"
)

// armRTO (re)arms the retransmission-timeout timer if at least one
// outstanding, non-pure-ack packet exists and no timer is already pending.
func (p *Protocol) armRTO() {
	if p.rtoTimer != nil || p.state != stateReady {
		return
	}
	if !p.hasRTOCandidate() {
		return
	}
	deadline := p.lastKeepalive.Add(4 * p.clampedRTT())
	p.enterOp()
	p.rtoTimer = p.timer.ScheduleAt(deadline, func() {
		defer p.leaveOp()
		p.rtoTimer = nil
		p.onRTOFire(deadline)
	})
}

// cancelRTO releases a pending RTO timer, if any.
func (p *Protocol) cancelRTO() {
	if p.rtoTimer != nil {
		p.rtoTimer.Cancel()
		p.rtoTimer = nil
		p.leaveOp()
	}
}

// hasRTOCandidate reports whether any outstanding entry still warrants an
// RTO deadline: not yet resolved, and not a pure-ack packet (losing a bare
// ack costs nothing the next ack won't also cover).
func (p *Protocol) hasRTOCandidate() bool {
	found := false
	p.outstanding.Each(func(e *outstanding.Entry[sendEntry]) {
		if !found && !e.State.Terminal() && !e.Req.isPureAck {
			found = true
		}
	})
	return found
}

// onRTOFire is the RTO timer callback.
func (p *Protocol) onRTOFire(deadline time.Time) {
	now := p.timer.Now()
	if now.Before(deadline) {
		p.armRTO() // clock skew or timer coalescing; rearm against fresh state
		return
	}

	var lastSeq uint64
	found := false
	p.outstanding.Each(func(e *outstanding.Entry[sendEntry]) {
		if !e.State.Terminal() {
			lastSeq = e.Seq
			found = true
		}
	})
	if !found {
		return
	}

	floor := p.sendTip
	var nacks []uint64
	for s := floor; s <= lastSeq; s++ {
		if e := p.outstanding.At(s); e != nil && !e.State.Terminal() {
			nacks = append(nacks, s)
		}
	}
	// AckToSeq is set to lastSeq itself, with lastSeq also present in Nacks:
	// a synthesized nack frame uses its own horizon as the newest nacked
	// entry rather than reaching one past the outstanding window.
	frame := ack.Frame{AckToSeq: lastSeq, Nacks: nacks}
	p.debug("rto: firing, synthesizing nacks", slog.Uint64("through", lastSeq), slog.Int("count", len(frame.Nacks)))
	p.HandleAck(frame, true)

	if p.hasRTOCandidate() {
		p.armRTO()
	}
}

// closeRTO nacks every unresolved outstanding request during Close,
// through the same synthetic-frame pathway as an RTO fire; HandleAck then
// delivers p.closeErr (ErrUnavailable for a nil Close) to each of them.
func (p *Protocol) closeRTO() {
	var lastSeq uint64
	found := false
	p.outstanding.Each(func(e *outstanding.Entry[sendEntry]) {
		if !e.State.Terminal() {
			lastSeq = e.Seq
			found = true
		}
	})
	if !found {
		return
	}
	var nacks []uint64
	for s := p.sendTip; s <= lastSeq; s++ {
		if e := p.outstanding.At(s); e != nil && !e.State.Terminal() {
			nacks = append(nacks, s)
		}
	}
	p.HandleAck(ack.Frame{AckToSeq: lastSeq, Nacks: nacks}, true)
}
