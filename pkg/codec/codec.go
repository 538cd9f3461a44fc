// Package codec encodes envelopes into frame payloads.  The text codec produces JSON for text
// frames, the binary codec produces a protobuf encoded google.protobuf.Value for binary frames.
// Both accept anything JSON can represent.
package codec

// Codec marshals values into frame payloads and back.
type Codec interface {
	// Binary reports if payloads must travel in binary frames.
	Binary() bool
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

var (
	// Text is the JSON codec used for text frames.
	Text Codec = textCodec{}
	// Binary is the protobuf codec used for binary frames.
	Binary Codec = binaryCodec{}
)

// New returns the codec for binary or text frames.
func New(binary bool) Codec {
	if binary {
		return Binary
	}
	return Text
}
