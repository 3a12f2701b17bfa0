package grpc

import (
    "encoding/json"

    "google.golang.org/grpc/encoding"
)

// jsonCodec carries the management request/response types as plain JSON so
// the reliability surface needs no protobuf definitions or codegen step.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
    return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
    return json.Unmarshal(data, v)
}

func init() {
    encoding.RegisterCodec(jsonCodec{})
}
