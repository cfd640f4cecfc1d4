package overnet

import (
	"log/slog"
	"time"

	"github.com/soypat/overnet/ack"
	"github.com/soypat/overnet/bbr"
	"github.com/soypat/overnet/internal"
	"github.com/soypat/overnet/internal/outstanding"
)

// Send enqueues req. req.GenerateBytes is invoked at most
// once; req.Ack is invoked exactly once with nil, ErrUnavailable, or
// ErrCancelled. Send never blocks.
func (p *Protocol) Send(req SendRequest) {
	if p.state != stateReady {
		p.enterOp()
		req.Ack(ErrCancelled)
		p.leaveOp()
		return
	}
	p.queued = append(p.queued, req)
	p.continueSending()
}

// RequestSendAck hints that a standalone ack should be produced as soon
// as possible, forcing the ack pacer to emit.
func (p *Protocol) RequestSendAck() {
	if p.state != stateReady {
		return
	}
	p.cancelAckTimer()
	p.maybeSendAck(ackForce)
}

// continueSending implements the outgoing pipeline's idle-to-sending
// transition: it pops the head of queued into
// a BBR transmit request whenever nothing else is in flight.
func (p *Protocol) continueSending() {
	if p.state != stateReady || p.sending || p.transmitting || len(p.queued) == 0 {
		return
	}
	req := p.queued[0]
	p.queued[0] = nil
	p.queued = p.queued[1:]
	p.sending = true
	p.enterOp()
	p.cc.RequestTransmit(func(err error) {
		defer p.leaveOp()
		p.onTransmitGranted(req, err)
	})
}

// onTransmitGranted is the BBR transmit-grant callback.
func (p *Protocol) onTransmitGranted(req SendRequest, err error) {
	p.sending = false
	if err != nil || p.state != stateReady {
		req.Ack(ErrCancelled)
		p.continueSending()
		return
	}
	seq := p.sendTip + uint64(p.outstanding.Len())
	if diff := seq - p.sendTip; diff > p.maxOutstandingSize {
		p.maxOutstandingSize = diff
	}
	p.outstanding.Push(seq, sendEntry{
		scheduledAt: p.timer.Now(),
		req:         req,
	})
	// The wire width covers the running maximum outstanding size, not the
	// current one: once chosen wider it must never narrow back down, or a
	// peer reconstructing against an older, wider window could misread a
	// later, narrower-width sequence number.
	p.seqWidth = ack.MinSeqWidth(p.maxOutstandingSize)

	p.transmitting = true
	p.enterOp()
	p.sender.Send(seq, func(args LazySliceArgs) []byte {
		return p.composeOutgoing(seq, req, args)
	}, func(sendErr error) {
		defer p.leaveOp()
		p.onSendComplete(seq, sendErr)
	})
}

// composeOutgoing assembles the bytes for seq: a width-prefixed
// sequence-number header, then codec-encoded
// ack-length-prefixed ack bytes (if any fit) followed by the request's
// payload.
func (p *Protocol) composeOutgoing(seq uint64, req SendRequest, _ LazySliceArgs) []byte {
	if p.state == stateClosed {
		return nil
	}
	entry := p.outstanding.At(seq)
	if entry == nil {
		return nil
	}

	maxLen := p.mssCfg
	seqHeader, err := ack.EncodeSeqNum(nil, seq, p.seqWidth)
	if err != nil {
		p.logerr("compose: bad seq width", slog.Int("width", p.seqWidth))
		return nil
	}
	budget := maxLen - len(seqHeader)
	if budget < 0 {
		budget = 0
	}

	var inner []byte
	hasAck := false
	var ackToSeq uint64
	if frame, ok := p.tryGenerateAck(budget - 1); ok {
		encoded, encErr := ack.Encode(nil, frame)
		if encErr == nil {
			inner = ack.AppendVarint(inner, uint64(len(encoded)))
			inner = append(inner, encoded...)
			hasAck = true
			ackToSeq = frame.AckToSeq
		}
	}
	if !hasAck {
		inner = ack.AppendVarint(inner, 0)
	}

	prefix, suffix := p.codec.Expansion()
	payloadBudget := budget - len(inner) - prefix - suffix
	if payloadBudget < 0 {
		payloadBudget = 0
	}
	payload := req.GenerateBytes(LazySliceArgs{
		DesiredBorder:   len(inner),
		MaxLength:       payloadBudget,
		HasOtherContent: hasAck,
	})
	inner = append(inner, payload...)

	e := &entry.Req
	e.hasAck = hasAck
	e.isPureAck = hasAck && len(payload) == 0
	if hasAck {
		e.ackToSeqAtSend = ackToSeq
		p.lastSentAck = seq
	}
	e.bbrSize = len(seqHeader) + len(inner) + prefix + suffix

	encoded, err := p.codec.Encode(seq, inner)
	if err != nil {
		p.logerr("compose: codec encode failed", slog.Uint64("seq", seq))
		return nil
	}
	return append(seqHeader, encoded...)
}

// onSendComplete is the PacketSender completion callback.
func (p *Protocol) onSendComplete(seq uint64, sendErr error) {
	p.transmitting = false
	entry := p.outstanding.At(seq)
	if entry == nil {
		p.continueSending()
		return
	}
	if sendErr != nil {
		req := entry.Req.req
		entry.Req.req = nil
		entry.State = outstanding.Nacked
		if req != nil {
			req.Ack(ErrCancelled)
		}
		p.continueSending()
		return
	}
	sent := p.cc.ScheduleTransmit(bbr.TransmitRequest{Seq: seq, Size: entry.Req.bbrSize})
	entry.Req.bbrSendTime = sent.SendTime
	entry.Req.bbrSet = true
	entry.State = outstanding.Sent
	p.statSent++
	p.lastKeepalive = p.timer.Now()
	if p.logenabled(internal.LevelTrace) {
		p.trace("send: packet on wire", slog.Uint64("seq", seq), slog.Int("size", entry.Req.bbrSize))
	}
	p.armRTO()
	p.continueSending()
}

// offsetByAckDelay compensates a local send timestamp for the peer's
// reported queuing delay before it reaches BBR: shifting the send time
// forward by the peer's reported delay removes
// that queuing time from the RTT sample BBR derives from it.
func offsetByAckDelay(sendTime time.Time, ackDelay time.Duration, isSynthetic bool) time.Time {
	if isSynthetic {
		return sendTime
	}
	return sendTime.Add(ackDelay)
}

// HandleAck classifies an incoming ack frame against the outstanding list
// isSynthetic is true for RTO-driven local nacks.
func (p *Protocol) HandleAck(frame ack.Frame, isSynthetic bool) error {
	if frame.AckToSeq < p.sendTip {
		return nil // stale
	}
	// ack_to_seq is inclusive ("up through which acknowledgement
	// applies"), so the valid range is [1, sendTip+|outstanding|-1].
	if frame.AckToSeq >= p.sendTip+uint64(p.outstanding.Len()) {
		return newProtocolError("ack_to_seq beyond outstanding window")
	}

	forceAck := false
	// frame.Nacks is stored ascending (oldest first); nacks are delivered
	// to the application in that order. A nack may equal AckToSeq itself:
	// the horizon entry is still nacked explicitly rather than implied
	// acked by being at or below the horizon.
	var bbrNacked []bbr.SentPacket
	var appNacks []SendRequest
	for _, nseq := range frame.Nacks {
		if nseq > frame.AckToSeq {
			return newProtocolError("nack beyond ack_to_seq")
		}
		if nseq < p.sendTip {
			continue // already compacted away; stale nack of a resolved packet
		}
		entry := p.outstanding.At(nseq)
		if entry == nil {
			if !isSynthetic {
				return newProtocolError("nack of unsent sequence")
			}
			continue
		}
		if entry.State == outstanding.Acked {
			return newProtocolError("nack of previously acked sequence")
		}
		if entry.State == outstanding.Nacked {
			continue // already resolved, idempotent
		}
		if entry.Req.bbrSet {
			bbrNacked = append(bbrNacked, bbr.SentPacket{
				Seq:      nseq,
				Size:     entry.Req.bbrSize,
				SendTime: offsetByAckDelay(entry.Req.bbrSendTime, frame.AckDelay, isSynthetic),
			})
		} else if isSynthetic {
			bbrNacked = append(bbrNacked, bbr.SentPacket{Seq: nseq})
		}
		entry.State = outstanding.Nacked
		p.statNacked++
		if entry.Req.req != nil {
			appNacks = append(appNacks, entry.Req.req)
			entry.Req.req = nil
		}
		if nseq == p.lastSentAck {
			forceAck = true
		}
	}

	var bbrAcked []bbr.SentPacket
	var appAcks []SendRequest
	newRecvTip := p.recvTip
	p.outstanding.Each(func(e *outstanding.Entry[sendEntry]) {
		if e.Seq > frame.AckToSeq {
			return
		}
		switch e.State {
		case outstanding.Acked, outstanding.Nacked:
			return
		}
		if e.Req.hasAck && e.Req.ackToSeqAtSend > newRecvTip {
			newRecvTip = e.Req.ackToSeqAtSend
		}
		if e.Req.bbrSet {
			bbrAcked = append(bbrAcked, bbr.SentPacket{
				Seq:      e.Seq,
				Size:     e.Req.bbrSize,
				SendTime: offsetByAckDelay(e.Req.bbrSendTime, frame.AckDelay, isSynthetic),
			})
		}
		e.State = outstanding.Acked
		p.statAcked++
		if e.Req.req != nil {
			appAcks = append(appAcks, e.Req.req)
			e.Req.req = nil
		}
	})
	if newRecvTip > p.recvTip {
		p.recvTip = newRecvTip
		p.pruneLedger()
	}

	if dropped := p.outstanding.Compact(); dropped > 0 {
		if p.outstanding.Len() > 0 {
			p.sendTip = p.outstanding.Base()
		} else {
			p.sendTip += uint64(dropped)
		}
	}

	if len(bbrNacked) > 0 || len(bbrAcked) > 0 {
		p.cc.OnAck(bbr.AckedNacked{Acked: bbrAcked, Nacked: bbrNacked})
	}
	nackErr := error(ErrUnavailable)
	if p.state == stateClosing {
		// Close drives this same path with a positive-infinity RTO epoch
		// the delivered status follows the error passed to
		// Close rather than the ordinary retry hint.
		nackErr = p.closeErr
	}
	for _, req := range appNacks {
		req.Ack(nackErr)
	}
	for _, req := range appAcks {
		req.Ack(nil)
	}
	if forceAck {
		p.maybeSendAck(ackForce)
	}
	p.continueSending()
	return nil
}
