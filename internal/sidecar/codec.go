// Package sidecar implements the gRPC wire contract against the sidecar's
// shell-execution and file-loader services described in spec §6. No .proto
// compiler is run anywhere in this repository, so the wire messages below
// stand in for generated protobuf stubs: they travel over a pluggable JSON
// codec registered with google.golang.org/grpc/encoding rather than binary
// protobuf framing. See DESIGN.md's "RPC Codec" entry.
package sidecar

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype this package's codec registers
// under; clients select it via grpc.CallContentSubtype(CodecName).
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec by marshaling messages as JSON. It
// satisfies the same contract a generated protobuf codec would, so the rest
// of this package is agnostic to the substitution.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }
