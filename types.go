package overnet

import (
	"time"

	"github.com/soypat/overnet/ack"
)

// LazySliceArgs is the budget handed to a SendRequest's GenerateBytes when
// the PacketSender is ready to materialize the payload of an outgoing
// packet. The generator is
// invoked at most once per request.
type LazySliceArgs struct {
	// DesiredBorder is the number of bytes already consumed by the
	// ack-length varint and ack frame preceding this request's payload
	// within the packet being assembled. Codec expansion is not included;
	// it is already subtracted from MaxLength.
	DesiredBorder int
	// MaxLength is the maximum number of bytes GenerateBytes may return.
	MaxLength int
	// HasOtherContent is true when the packet is not exclusively this
	// request's payload, i.e. an ack frame precedes it.
	HasOtherContent bool
}

// SendRequest is submitted to Protocol.Send. GenerateBytes is invoked at
// most once to lazily produce the request's payload; Ack is invoked
// exactly once with nil (peer acknowledged), ErrUnavailable (nacked,
// retryable), or ErrCancelled (protocol closed).
type SendRequest interface {
	GenerateBytes(args LazySliceArgs) []byte
	Ack(err error)
}

// sendEntry is the per-outstanding-packet bookkeeping record,
// stashed as the request payload of outstanding.List.
type sendEntry struct {
	scheduledAt    time.Time
	hasAck         bool
	isPureAck      bool
	ackToSeqAtSend uint64
	bbrSet         bool
	bbrSize        int
	bbrSendTime    time.Time
	req            SendRequest // nil once Ack has been delivered
}

// ackDecision mirrors the receiver's SendAck decision.
type ackDecision uint8

const (
	ackNone ackDecision = iota
	ackForce
	ackSchedule
)

// recvState is the per-sequence state kept in the receive ledger
// §3.3).
type recvState uint8

const (
	recvUnknown recvState = iota
	recvNotReceived
	recvReceived
	recvSuppressed
)

type ledgerEntry struct {
	state      recvState
	receivedAt time.Time
}

// ackActions bundles the effects of an incoming ack frame found while
// decoding a received packet. Parsing happens synchronously inside
// Process; applying the effects is deferred until the returned
// ProcessedPacket is closed.
type ackActions struct {
	frame       ack.Frame
	isSynthetic bool
}

// ProcessedPacket is returned by Protocol.Process. It must be closed
// exactly once by the caller, which commits its effects: ledger
// finalization, any bundled ack-frame processing, and the outgoing ack
// decision. This replaces the destructor-driven commit semantics of the
// source design; Go has no implicit destructors, so the caller must call
// Close explicitly.
type ProcessedPacket struct {
	// Payload is the decoded user payload, if any. Empty for pure-ack
	// packets, duplicates, and out-of-window packets.
	Payload []byte
	// Err is set when the codec failed to decode the packet, or when the
	// embedded ack frame violated the protocol (ErrInvalidArgument /
	// *ProtocolError). A non-nil Err returned by Process means no ledger
	// state changed. Close also sets Err when applying the embedded ack
	// frame fails (for example an ack beyond the outstanding window); the
	// ledger entry is committed in that case.
	Err error

	p        *Protocol
	valid    bool // false for no-op results (duplicate, out-of-window, decode error)
	seqIdx   uint64
	nacked   bool
	closed   bool
	tentative recvState
	decision  ackDecision
	actions   *ackActions
}

// Nack marks the packet as rejected by the upper layer (e.g. a reassembly
// buffer was full), forcing the ledger entry to NOT_RECEIVED and the
// outgoing ack decision to FORCE. It must be called before Close, if at
// all.
func (pp *ProcessedPacket) Nack() {
	if pp.closed {
		panic("overnet: Nack called after Close")
	}
	pp.nacked = true
}

// Close commits the packet's effects. It is a no-op when the packet
// carried no ledger-visible effect (duplicate, out-of-window, or a decode
// error).
func (pp *ProcessedPacket) Close() {
	if pp.closed {
		return
	}
	pp.closed = true
	if !pp.valid || pp.p == nil {
		return
	}
	pp.p.finalizeProcessed(pp)
}

// Stats is a read-only snapshot of protocol counters, used by the
// metrics exporter.
type Stats struct {
	Sent              uint64
	Acked             uint64
	Nacked            uint64
	Outstanding       int
	QueuedSends       int
	BottleneckBandwidthBytesPerSec float64
	RoundTripTime     time.Duration
}
