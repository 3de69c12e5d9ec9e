package session

// Codec translates the three game-specific types to and from wire bytes.
// The transport is payload-agnostic; only the embedding game knows the
// encodings. Both ends of a session must use the same codec.
//
// Delta encodings must be self-delimiting: the relay concatenates several
// deltas into one DELTA_UPDATE frame, and DecodeDelta is called repeatedly
// until the frame is consumed.
type Codec[R, D, V any] interface {
	EncodeRPC(rpc R) ([]byte, error)
	DecodeRPC(data []byte) (R, error)

	EncodeDelta(delta D) ([]byte, error)
	// DecodeDelta consumes one delta from the front of data and returns
	// the unread remainder.
	DecodeDelta(data []byte) (D, []byte, error)

	EncodeView(view V) ([]byte, error)
	DecodeView(data []byte) (V, error)
}
