package overnet

import (
	"log/slog"
	"time"

	"github.com/soypat/overnet/ack"
	"github.com/soypat/overnet/internal"
)

// ackOnlyRequest is the internal SendRequest injected when a forced or
// scheduled ack has nothing else to ride on: continueSending must still
// be able to push a pure-ack packet out on an otherwise idle connection.
type ackOnlyRequest struct{}

func (ackOnlyRequest) GenerateBytes(LazySliceArgs) []byte { return nil }
func (ackOnlyRequest) Ack(error)                          {}

// Process decodes a received packet. seqNum is the
// wire-decoded, not-yet-reconstructed sequence number read from the
// packet's own header; payload is everything after that header. The
// returned ProcessedPacket must be closed exactly once by the caller,
// which may first call Nack to reject the payload.
func (p *Protocol) Process(receivedAt time.Time, seqNum ack.SeqNum, payload []byte) ProcessedPacket {
	if p.state == stateClosed {
		return ProcessedPacket{}
	}
	seqIdx := seqNum.Reconstruct(p.recvTip)
	if p.logenabled(internal.LevelTrace) {
		p.trace("recv: packet", slog.Uint64("seq", seqIdx), slog.Int("len", len(payload)))
	}
	if seqIdx < p.recvTip {
		return ProcessedPacket{}
	}
	if seqIdx > p.maxSeen {
		p.maxSeen = seqIdx
	}
	p.lastKeepalive = receivedAt
	p.armRTO()

	decoded, err := p.codec.Decode(seqIdx, payload)
	if err != nil {
		return ProcessedPacket{Err: err}
	}
	ackLen, n, err := ack.ReadVarint(decoded)
	if err != nil {
		return ProcessedPacket{Err: err}
	}
	rest := decoded[n:]
	if uint64(len(rest)) < ackLen {
		return ProcessedPacket{Err: newProtocolError("ack length exceeds packet")}
	}
	ackBytes := rest[:ackLen]
	userPayload := rest[ackLen:]

	if _, exists := p.ledger[seqIdx]; exists {
		return ProcessedPacket{} // duplicate, dropped silently
	}

	var actions *ackActions
	if ackLen > 0 {
		frame, ferr := ack.Decode(ackBytes)
		if ferr != nil {
			return ProcessedPacket{Err: newProtocolError("malformed ack frame: " + ferr.Error())}
		}
		actions = &ackActions{frame: frame}
	}

	p.ledger[seqIdx] = ledgerEntry{state: recvUnknown, receivedAt: receivedAt}

	isPureAck := len(userPayload) == 0
	decision, suppressed := p.ackDecisionFor(seqIdx, isPureAck)
	p.firstAckSent = true
	tentative := recvReceived
	if suppressed {
		tentative = recvSuppressed
	}

	return ProcessedPacket{
		Payload:   userPayload,
		p:         p,
		valid:     true,
		seqIdx:    seqIdx,
		tentative: tentative,
		decision:  decision,
		actions:   actions,
	}
}

// ackDecisionFor decides whether, and how urgently, an ack is owed.
func (p *Protocol) ackDecisionFor(seqIdx uint64, isPureAck bool) (decision ackDecision, suppressed bool) {
	if isPureAck {
		if prev, ok := p.ledger[seqIdx-1]; ok && prev.state == recvReceived && seqIdx == p.maxSeen {
			return ackNone, true
		}
	}
	if !p.firstAckSent {
		return ackForce, false
	}
	if seqIdx >= kMaxUnackedReceives && p.maxAcked <= seqIdx-kMaxUnackedReceives {
		return ackForce, false
	}
	return ackSchedule, false
}

// finalizeProcessed commits a ProcessedPacket's effects on Close.
func (p *Protocol) finalizeProcessed(pp *ProcessedPacket) {
	final := pp.tentative
	decision := pp.decision
	if pp.nacked {
		final = recvNotReceived
		p.lastAckSend = time.Time{}
		decision = ackForce
	}
	entry := p.ledger[pp.seqIdx]
	entry.state = final
	p.ledger[pp.seqIdx] = entry

	if pp.actions != nil {
		if err := p.HandleAck(pp.actions.frame, pp.actions.isSynthetic); err != nil {
			pp.Err = err
		}
	} else {
		p.continueSending()
	}
	if decision != ackNone {
		p.maybeSendAck(decision)
	}
}

// tryGenerateAck builds an ack frame from the receive ledger, returning
// false when no ack is currently warranted (nothing new to
// report, or the ¼-RTT pacing window has not elapsed).
func (p *Protocol) tryGenerateAck(maxLen int) (ack.Frame, bool) {
	if maxLen <= 0 || p.maxSeen <= p.recvTip {
		return ack.Frame{}, false
	}
	qrtt := p.quarterRTT()
	if !p.lastAckSend.IsZero() && p.timer.Now().Sub(p.lastAckSend) < qrtt {
		p.scheduleAck()
		return ack.Frame{}, false
	}

	top := p.maxSeen
	for top > p.recvTip {
		if e, ok := p.ledger[top]; !ok || e.state != recvUnknown {
			break
		}
		top-- // a ProcessedPacket for top is still open; report a shorter horizon
	}
	if top <= p.recvTip {
		p.scheduleAck()
		return ack.Frame{}, false
	}
	truncated := top != p.maxSeen

	var delay time.Duration
	if e, ok := p.ledger[top]; ok && !e.receivedAt.IsZero() {
		delay = p.timer.Now().Sub(e.receivedAt)
	}

	// Frame.Nacks must be ascending (lowest sequence first); build it in that
	// order directly rather than appending descending and reversing.
	internal.SliceReuse(&p.nacksBuf, int(top-p.recvTip))
	nacks := p.nacksBuf
	for s := p.recvTip + 1; s < top; s++ {
		e, ok := p.ledger[s]
		switch {
		case !ok:
			p.ledger[s] = ledgerEntry{state: recvNotReceived}
			nacks = append(nacks, s)
		case e.state == recvNotReceived:
			nacks = append(nacks, s)
		case e.state == recvUnknown:
			truncated = true
		}
	}
	p.nacksBuf = nacks

	frame := ack.Frame{AckToSeq: top, AckDelay: delay, Nacks: nacks}
	trimmed, wasTrimmed := ack.AdjustForMSS(frame, maxLen, func(seq uint64) time.Duration {
		e, ok := p.ledger[seq]
		if !ok || e.receivedAt.IsZero() {
			return ack.InfiniteDelay
		}
		return p.timer.Now().Sub(e.receivedAt)
	})
	if truncated || wasTrimmed {
		p.scheduleAck()
	}
	if trimmed.AckToSeq > p.maxAcked {
		p.maxAcked = trimmed.AckToSeq
	}
	p.lastAckSend = p.timer.Now()
	return trimmed, true
}

// pruneLedger drops receive-ledger entries below recvTip.
func (p *Protocol) pruneLedger() {
	for seq := range p.ledger {
		if seq < p.recvTip {
			delete(p.ledger, seq)
		}
	}
}

// maybeSendAck issues the ack decided by the receive or ack-classification
// path.
func (p *Protocol) maybeSendAck(decision ackDecision) {
	switch decision {
	case ackForce:
		p.sendAckNow()
	case ackSchedule:
		p.scheduleAck()
	}
}

// sendAckNow ensures an ack rides the next outgoing packet immediately.
// If a send is already queued or in flight, the ack will be picked up
// naturally when that packet is composed; otherwise a pure-ack request is
// injected.
func (p *Protocol) sendAckNow() {
	p.cancelAckTimer()
	if p.state != stateReady {
		return
	}
	if p.sending || p.transmitting || len(p.queued) > 0 {
		return
	}
	p.queued = append(p.queued, ackOnlyRequest{})
	p.continueSending()
}

// scheduleAck arms the ¼-RTT ack timer if one is not already pending.
func (p *Protocol) scheduleAck() {
	if p.ackTimer != nil || p.state != stateReady {
		return
	}
	d := p.quarterRTT()
	p.enterOp()
	p.ackTimer = p.timer.ScheduleAt(p.timer.Now().Add(d), func() {
		defer p.leaveOp()
		p.ackTimer = nil
		if p.state != stateReady {
			return
		}
		p.sendAckNow()
	})
}

// cancelAckTimer releases a pending scheduled ack, if any. Since the
// timer's own callback (which would otherwise release the op token) will
// now never fire, the token is released here instead.
func (p *Protocol) cancelAckTimer() {
	if p.ackTimer != nil {
		p.ackTimer.Cancel()
		p.ackTimer = nil
		p.leaveOp()
	}
}
