// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Sum is a 32-byte BLAKE3 digest. All fingerprints in the engine
// (file contents, operation arguments) are this size. Equality is the
// only meaningful operation on a Sum.
type Sum [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// digests in different contexts, so a file whose contents happen to
// equal an encoded argument list can never collide with it in the
// cache.
type domainKey [32]byte

// Domain separation keys. These are fixed constants — changing them
// invalidates every fingerprint in that domain. The byte values are
// the ASCII encoding of the domain name, zero-padded to 32 bytes, so
// the keys are inspectable in hex dumps without sacrificing any
// cryptographic property.
var (
	contentDomainKey = domainKey{
		'f', 'i', 'l', 'e', 'b', 'u', 'i', 'l', 'd', '.',
		'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	argsDomainKey = domainKey{
		'f', 'i', 'l', 'e', 'b', 'u', 'i', 'l', 'd', '.',
		'a', 'r', 'g', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Content computes the content-domain digest of the given bytes. This
// is the digest recorded for file reads and build-file outputs.
func Content(data []byte) Sum {
	return keyedSum(contentDomainKey, data)
}

// Args computes the argument-domain digest of a canonical argument
// encoding. Used to derive operation identities.
func Args(encoded []byte) Sum {
	return keyedSum(argsDomainKey, encoded)
}

// Reader computes the content-domain digest of everything readable
// from r.
func Reader(r io.Reader) (Sum, error) {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	if _, err := io.Copy(hasher, r); err != nil {
		return Sum{}, err
	}
	var sum Sum
	copy(sum[:], hasher.Sum(nil))
	return sum, nil
}

// File computes the content-domain digest of the file at path.
func File(path string) (Sum, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sum{}, err
	}
	defer f.Close()
	sum, err := Reader(f)
	if err != nil {
		return Sum{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// IsZero reports whether s is the zero digest. The zero value is used
// as "no fingerprint recorded"; BLAKE3 output is never all zero bytes
// in practice.
func (s Sum) IsZero() bool {
	return s == Sum{}
}

// String returns the hex encoding of s. This is the canonical format
// used in logs and error messages.
func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}

// Parse parses a 64-character hex string into a Sum.
func Parse(hexString string) (Sum, error) {
	var sum Sum
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return sum, fmt.Errorf("parsing fingerprint: %w", err)
	}
	if len(decoded) != 32 {
		return sum, fmt.Errorf("fingerprint is %d bytes, want 32", len(decoded))
	}
	copy(sum[:], decoded)
	return sum, nil
}

// keyedSum computes a BLAKE3 keyed hash with the given domain key.
func keyedSum(key domainKey, data []byte) Sum {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var sum Sum
	copy(sum[:], hasher.Sum(nil))
	return sum
}
