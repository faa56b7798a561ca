// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package orchestrator

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the gRPC call content-subtype selecting jsonCodec,
// passed via grpc.CallContentSubtype on every Invoke in this package.
const jsonCodecName = "json"

// jsonCodec lets the orchestrator client ride real gRPC/HTTP2 framing,
// dial options and deadlines without depending on a protoc-generated
// service stub. The orchestrator speaks a framed, length-prefixed
// structured message format rather than protobuf specifically, so a small
// JSON encoding.Codec satisfies the contract while keeping the
// request/response shapes as plain Go structs (wire.go).
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
