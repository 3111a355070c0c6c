package transport

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc/encoding and selected by the client
// via grpc.CallContentSubtype so every RPC on this service uses our
// field-tagged wire format instead of protoc-generated proto.Marshal.
const codecName = "contenttracker"

// Codec adapts the wireMessage Marshal/Unmarshal methods to the
// grpc/encoding.Codec interface, mirroring how the teacher registers its
// own proxy codec with grpc.ForceServerCodecV2 — except this one actually
// (de)serializes messages rather than passing raw bytes through.
type Codec struct{}

func (Codec) Name() string { return codecName }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("transport: %T does not implement wireMessage", v)
	}
	return m.MarshalBinary()
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("transport: %T does not implement wireMessage", v)
	}
	return m.UnmarshalBinary(data)
}

func init() {
	encoding.RegisterCodec(Codec{})
}
