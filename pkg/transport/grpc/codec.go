package grpc

import (
    "github.com/vmihailenco/msgpack/v5"
    "google.golang.org/grpc/encoding"
)

// msgpackCodec carries peer requests as MessagePack so retained payloads
// travel as raw bytes without protobuf codegen.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error)   { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(b []byte, v interface{}) error { return msgpack.Unmarshal(b, v) }
func (msgpackCodec) Name() string                            { return "msgpack" }

func init() {
    encoding.RegisterCodec(msgpackCodec{})
}
