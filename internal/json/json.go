// Package json wraps the sonic JSON implementation behind the familiar
// encoding/json surface so callers never import sonic directly.
package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

// RawMessage keeps struct tags interoperable with encoding/json callers.
type RawMessage = stdjson.RawMessage

// Number mirrors encoding/json's numeric literal type.
type Number = stdjson.Number

var api = sonic.ConfigDefault

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return api.Valid(data)
}

type Decoder = sonic.Decoder

type Encoder = sonic.Encoder

func NewDecoder(r io.Reader) Decoder {
	return api.NewDecoder(r)
}

func NewEncoder(w io.Writer) Encoder {
	return api.NewEncoder(w)
}
