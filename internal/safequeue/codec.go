package safequeue

import (
	"bytes"
	"encoding/gob"
	"time"
)

// Codec serializes queue payloads for the pipe transport.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// payload wraps the value so gob can carry interface-typed data.
type payload struct {
	V any
}

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

// GobCodec encodes arbitrary Go values with encoding/gob. Concrete types
// placed on the queue beyond the defaults must be registered first.
type GobCodec struct{}

// Register exposes gob type registration to queue users.
func Register(v any) {
	gob.Register(v)
}

// Encode serializes v.
func (GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload{V: v}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes a frame produced by Encode.
func (GobCodec) Decode(data []byte) (any, error) {
	var p payload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, err
	}
	return p.V, nil
}
