// Package media talks to media workers: a gRPC client and server for the worker
// RPC surface, an in-memory worker and the roster of live workers.
package media

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype the worker service is spoken in.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
