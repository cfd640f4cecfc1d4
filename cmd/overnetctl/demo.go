package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soypat/overnet"
	"github.com/soypat/overnet/ack"
	"github.com/soypat/overnet/codec"
	ometrics "github.com/soypat/overnet/metrics"
)

// wallTimerHandle cancels a pending time.AfterFunc.
type wallTimerHandle struct{ t *time.Timer }

func (h wallTimerHandle) Cancel() { h.t.Stop() }

// wallTimer implements overnet.Timer over the real clock. Every fired
// callback is funneled through mu before touching the owning endpoint's
// Protocol: Protocol assumes single-threaded access and leaves
// serialization to its caller, the same split a lock-free TCP control
// block draws against the mutex-guarded connection object above it.
type wallTimer struct {
	mu *sync.Mutex
}

func (t *wallTimer) Now() time.Time { return time.Now() }

func (t *wallTimer) ScheduleAt(at time.Time, fn func()) overnet.TimerHandle {
	timer := time.AfterFunc(time.Until(at), func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		fn()
	})
	return wallTimerHandle{timer}
}

// endpoint is one side of the loopback demo: a Protocol plus the simulated
// lossy link connecting it to its peer. It implements overnet.PacketSender
// directly.
type endpoint struct {
	id    string
	mu    sync.Mutex
	proto *overnet.Protocol
	peer  *endpoint

	lossPercent int
	reorder     bool
	linkDelay   time.Duration

	log *slog.Logger
}

// Send implements overnet.PacketSender: it hands the generated packet to
// the simulated link, which may drop it (the RTO pathway is what recovers
// from that) or delay and reorder its delivery to the peer.
func (e *endpoint) Send(seq uint64, gen func(overnet.LazySliceArgs) []byte, done func(error)) {
	b := gen(overnet.LazySliceArgs{MaxLength: 1500})
	if e.lossPercent > 0 && rand.Intn(100) < e.lossPercent {
		e.log.Debug("link dropped packet", slog.Uint64("seq", seq))
		done(nil) // handed off to the (lossy) wire successfully; loss is the wire's business
		return
	}
	payload := append([]byte(nil), b...)
	delay := e.linkDelay
	if e.reorder && rand.Intn(2) == 0 {
		delay += e.linkDelay
	}
	peer := e.peer
	time.AfterFunc(delay, func() {
		peer.mu.Lock()
		defer peer.mu.Unlock()
		sn, n, err := ack.ParseSeqNum(payload)
		if err != nil {
			peer.log.Debug("dropping packet with unparseable sequence header", slog.String("err", err.Error()))
			return
		}
		pp := peer.proto.Process(time.Now(), sn, payload[n:])
		if pp.Err != nil {
			peer.log.Debug("dropping packet that failed to process", slog.String("err", pp.Err.Error()))
		}
		pp.Close()
	})
	done(nil)
}

// demoRequest is a SendRequest carrying one demo message; resultCh
// receives its terminal Ack status.
type demoRequest struct {
	payload  []byte
	resultCh chan error
}

func (r *demoRequest) GenerateBytes(args overnet.LazySliceArgs) []byte {
	n := len(r.payload)
	if args.MaxLength < n {
		n = args.MaxLength
	}
	return r.payload[:n]
}

func (r *demoRequest) Ack(err error) { r.resultCh <- err }

func newEndpoint(id string, cfg demoConfig, log *slog.Logger) *endpoint {
	e := &endpoint{
		id:          id,
		lossPercent: cfg.LossPercent,
		reorder:     cfg.Reorder,
		linkDelay:   cfg.LinkDelay,
		log:         log.With(slog.String("endpoint", id)),
	}
	timer := &wallTimer{mu: &e.mu}
	e.proto = overnet.New(timer, rand.Uint32(), e, codec.Null{}, cfg.MSS)
	e.proto.SetLogger(e.log)
	return e
}

// runDemo wires two endpoints back to back over a simulated lossy link,
// sends cfg.Messages requests from the initiator to the responder, waits
// for every one to resolve, and reports the outcome.
func runDemo(cfg demoConfig, log *slog.Logger, collector *ometrics.Collector) error {
	initiatorID := uuid.NewString()
	responderID := uuid.NewString()

	initiator := newEndpoint(initiatorID, cfg, log)
	responder := newEndpoint(responderID, cfg, log)
	initiator.peer = responder
	responder.peer = initiator

	if collector != nil {
		collector.Add(initiatorID, initiatorID, func() overnet.Stats {
			initiator.mu.Lock()
			defer initiator.mu.Unlock()
			return initiator.proto.Stats()
		})
		collector.Add(responderID, responderID, func() overnet.Stats {
			responder.mu.Lock()
			defer responder.mu.Unlock()
			return responder.proto.Stats()
		})
		defer collector.Remove(initiatorID)
		defer collector.Remove(responderID)
	}

	var acked, nacked, cancelled int
	for i := 0; i < cfg.Messages; i++ {
		req := &demoRequest{
			payload:  []byte(fmt.Sprintf("message-%d", i)),
			resultCh: make(chan error, 1),
		}
		initiator.mu.Lock()
		initiator.proto.Send(req)
		initiator.mu.Unlock()

		switch err := <-req.resultCh; err {
		case nil:
			acked++
		case overnet.ErrUnavailable:
			nacked++
		default:
			cancelled++
		}
	}

	log.Info("demo finished",
		slog.Int("acked", acked),
		slog.Int("nacked", nacked),
		slog.Int("cancelled", cancelled),
		slog.Float64("bottleneck_bandwidth_bytes_s", float64(initiator.proto.BottleneckBandwidth())),
		slog.Duration("rtt", initiator.proto.RoundTripTime()),
	)

	done := make(chan struct{})
	initiator.mu.Lock()
	initiator.proto.Close(nil, func() { close(done) })
	initiator.mu.Unlock()
	<-done

	done = make(chan struct{})
	responder.mu.Lock()
	responder.proto.Close(nil, func() { close(done) })
	responder.mu.Unlock()
	<-done

	return nil
}
