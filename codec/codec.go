// Package codec defines the pluggable payload transform used by the
// overnet packet protocol to encode and decode one wire packet at a time.
package codec

// Codec encodes and decodes a single packet's bytes given the logical
// sequence number it is carried on. Implementations must be deterministic
// and must not retain p beyond the call.
type Codec interface {
	// Encode transforms p (an assembled ack+payload packet body) into the
	// bytes handed to the PacketSender for sequence seq.
	Encode(seq uint64, p []byte) ([]byte, error)
	// Decode reverses Encode. p is exactly what a peer's Encode produced.
	Decode(seq uint64, p []byte) ([]byte, error)
	// Expansion reports the maximum number of bytes Encode adds before
	// (prefix) and after (suffix) the plaintext body, so callers can
	// budget an MSS-bound payload ahead of encoding it.
	Expansion() (prefix, suffix int)
}

// Null is the identity codec: Encode and Decode are no-ops and Expansion
// is always (0, 0). It is the default for transports that delegate framing
// integrity and confidentiality to a layer above or below the protocol.
type Null struct{}

// Encode returns p unmodified.
func (Null) Encode(seq uint64, p []byte) ([]byte, error) { return p, nil }

// Decode returns p unmodified.
func (Null) Decode(seq uint64, p []byte) ([]byte, error) { return p, nil }

// Expansion always returns (0, 0) for the null codec.
func (Null) Expansion() (prefix, suffix int) { return 0, 0 }
