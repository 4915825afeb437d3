package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated as the gRPC content-subtype ("application/grpc+json"),
// letting client and server agree on jsonCodec without a shared .proto file.
const codecName = "json"

// jsonCodec implements encoding.Codec, replacing the proto-generated
// marshaller with plain encoding/json over the Go structs in messages.go.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
