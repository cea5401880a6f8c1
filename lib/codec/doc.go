// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the engine's standard CBOR encoding
// configuration.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes. This is
// load-bearing for the cache: an operation's identity is a digest
// over its deterministically encoded argument list, and the validator
// compares cached return values by their encoded bytes.
//
// [Roundtrip] re-decodes an encoded value into generic Go shapes
// (map[string]any, []any, string, integers, ...). The engine applies
// the same encode-then-decode round trip to every cacheable return
// value so callers observe the same shape whether a value was just
// computed or loaded from a previous build's cache.
package codec
