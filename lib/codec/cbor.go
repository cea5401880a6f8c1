// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Same logical data always
// produces identical bytes. The engine depends on this: operation
// identities are digests over encoded argument lists, and cached
// values are compared by their encoded bytes.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Build functions exchange plain data: when the decoder's
		// target is any, it must pick a concrete Go map type. The
		// CBOR default is map[interface{}]interface{} (CBOR allows
		// non-string keys), but engine values only ever use string
		// keys and most Go code expects map[string]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Roundtrip encodes v deterministically and decodes it back into a
// generic value (maps, slices, strings, integers, floats, booleans,
// byte strings, nil). The engine round-trips every cached return
// value so that a fresh execution and a cache hit hand the caller
// identical shapes.
func Roundtrip(v any) (any, error) {
	encoded, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// RawMessage is a raw encoded CBOR value. Deterministic encoding
// makes byte equality of two RawMessages equivalent to logical
// equality of the values they encode.
type RawMessage = cbor.RawMessage

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewEncoder returns a CBOR encoder that writes to w using the
// deterministic encoding configuration.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
