package overnet

// Close transitions the protocol to CLOSING, cancels scheduled timers and
// BBR's pending transmit grant, synthesizes a terminal Ack for every
// queued and outstanding send request, and invokes quiesced exactly once
// after every outstanding-op token has been released.
//
// err is delivered to outstanding requests' Ack; nil defaults to
// ErrUnavailable (a "clean" close), any other value (typically
// ErrCancelled) is delivered as-is. Queued requests that never reached
// the wire always receive ErrCancelled.
func (p *Protocol) Close(err error, quiesced func()) {
	if p.state == stateClosed {
		if quiesced != nil {
			quiesced()
		}
		return
	}
	if p.state == stateClosing {
		return // already closing; a single quiesced continuation was already captured
	}
	if err == nil {
		err = ErrUnavailable
	}
	p.state = stateClosing
	p.closeErr = err
	p.quiescedFn = quiesced

	p.cancelAckTimer()
	p.cancelRTO()
	p.cc.Close()

	queued := p.queued
	p.queued = nil
	for _, req := range queued {
		p.enterOp()
		req.Ack(ErrCancelled)
		p.leaveOp()
	}

	p.enterOp()
	p.closeRTO()
	p.leaveOp()

	p.maybeQuiesce()
}

// maybeQuiesce transitions CLOSING to CLOSED and fires the stored
// quiesced continuation once the outstanding-op token count has reached
// zero. It is the entry point leaveOp defers to, and is also called
// directly from Close to cover the case where no callback was in flight
// when Close ran.
func (p *Protocol) maybeQuiesce() {
	if p.state == stateClosing && p.outstandingOp == 0 {
		p.state = stateClosed
		fn := p.quiescedFn
		p.quiescedFn = nil
		if fn != nil {
			fn()
		}
	}
}
