package transport

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype of the loader services
const codecName = "json"

// jsonCodec encodes the loader messages as JSON. Health checks keep using protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func callOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}
