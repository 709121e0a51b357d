// Package serde renders records and events as JSON for bus replies and the
// event monitor.
package serde

import (
	"sync"

	"github.com/ugorji/go/codec"
)

// resolver holds an encoder and decoder sharing one JSON handle.
type resolver struct {
	jsonEncoder *codec.Encoder
	jsonDecoder *codec.Decoder
	jsonHandle  codec.JsonHandle

	jsonData []byte

	jsonMu sync.Mutex
}

var gendecoder = newResolver()

func newResolver() *resolver {
	r := &resolver{}

	r.jsonHandle.Canonical = true
	r.jsonHandle.HTMLCharsAsIs = true
	r.jsonHandle.TypeInfos = codec.NewTypeInfos([]string{"json"})

	r.jsonData = make([]byte, 0, 4096)
	r.jsonEncoder = codec.NewEncoderBytes(&r.jsonData, &r.jsonHandle)
	r.jsonDecoder = codec.NewDecoderBytes(nil, &r.jsonHandle)

	return r
}

// MarshalJson encodes v as JSON. The returned slice is owned by the caller.
func MarshalJson[T any](v T) ([]byte, error) {
	gendecoder.jsonMu.Lock()
	defer gendecoder.jsonMu.Unlock()

	gendecoder.jsonData = gendecoder.jsonData[:0]
	gendecoder.jsonEncoder.ResetBytes(&gendecoder.jsonData)

	if err := gendecoder.jsonEncoder.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, len(gendecoder.jsonData))
	copy(out, gendecoder.jsonData)

	return out, nil
}

// UnmarshalJson decodes JSON data into marshalTo, which must be a pointer.
func UnmarshalJson[T any](data []byte, marshalTo T) error {
	gendecoder.jsonMu.Lock()
	defer gendecoder.jsonMu.Unlock()

	gendecoder.jsonDecoder.ResetBytes(data)

	return gendecoder.jsonDecoder.Decode(marshalTo)
}
