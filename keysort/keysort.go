// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keysort implements BIP-67 deterministic ordering of public keys.
//
// Multisig scripts are only interoperable if every participant assembles the
// same keys in the same order. BIP-67 fixes that order to the ascending
// byte-lexicographic order of the serialized public keys, so that any two
// parties given the same key set, regardless of how it arrived, construct an
// identical script and therefore an identical address.
package keysort

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// MinKeys is the smallest multisig key-set size this wallet supports.
	MinKeys = 2

	// MaxKeys is the largest multisig key-set size this wallet supports.
	// Standard OP_CHECKMULTISIG scripts allow at most 15 keys.
	MaxKeys = 15

	// compressedKeyLen is the length of a compressed public key.
	compressedKeyLen = 33

	// uncompressedKeyLen is the length of an uncompressed public key.
	uncompressedKeyLen = 65
)

var (
	// ErrInvalidKeyFormat is returned when a public key has an unexpected
	// length or prefix byte.
	ErrInvalidKeyFormat = errors.New("invalid public key format")

	// ErrTooFewKeys is returned when a multisig key set has fewer than
	// MinKeys keys.
	ErrTooFewKeys = errors.New("too few public keys for multisig")

	// ErrTooManyKeys is returned when a multisig key set has more than
	// MaxKeys keys.
	ErrTooManyKeys = errors.New("too many public keys for multisig")

	// ErrDuplicateKey is returned when the same public key appears more
	// than once in a multisig key set.
	ErrDuplicateKey = errors.New("duplicate public key")
)

// Sort returns a new slice containing the given serialized public keys in
// BIP-67 order. The input slice is not mutated.
func Sort(keys [][]byte) [][]byte {
	sorted := make([][]byte, len(keys))
	copy(sorted, keys)

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	return sorted
}

// Compare compares two serialized public keys, returning -1, 0 or 1 per the
// BIP-67 byte-lexicographic ordering.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// IsSorted reports whether the given keys are already in BIP-67 order.
func IsSorted(keys [][]byte) bool {
	return sort.SliceIsSorted(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
}

// Match reports whether two key sets contain exactly the same keys, ignoring
// order.
func Match(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}

	sortedA := Sort(a)
	sortedB := Sort(b)
	for i := range sortedA {
		if !bytes.Equal(sortedA[i], sortedB[i]) {
			return false
		}
	}

	return true
}

// Position returns the index of the given key within a sorted key set, or -1
// if the key is not present. The position determines where a cosigner's
// signature belongs in the final witness stack.
func Position(key []byte, sortedKeys [][]byte) int {
	for i, k := range sortedKeys {
		if bytes.Equal(k, key) {
			return i
		}
	}

	return -1
}

// ValidateKeyFormat checks that a serialized public key is either a 33-byte
// compressed key (prefix 0x02/0x03) or a 65-byte uncompressed key (prefix
// 0x04), and that it parses as a valid secp256k1 point.
func ValidateKeyFormat(key []byte) error {
	switch len(key) {
	case compressedKeyLen:
		if key[0] != 0x02 && key[0] != 0x03 {
			return fmt.Errorf("%w: compressed key has prefix "+
				"0x%02x", ErrInvalidKeyFormat, key[0])
		}

	case uncompressedKeyLen:
		if key[0] != 0x04 {
			return fmt.Errorf("%w: uncompressed key has prefix "+
				"0x%02x", ErrInvalidKeyFormat, key[0])
		}

	default:
		return fmt.Errorf("%w: key is %d bytes", ErrInvalidKeyFormat,
			len(key))
	}

	// The length and prefix checks above catch malformed encodings; this
	// rejects encodings that are well-formed but not on the curve.
	if _, err := btcec.ParsePubKey(key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}

	return nil
}

// ValidateMultisigKeys checks that a key set is usable for multisig script
// construction: the count must be within [MinKeys, MaxKeys], every key must
// be well-formed, and no key may appear twice.
func ValidateMultisigKeys(keys [][]byte) error {
	if len(keys) < MinKeys {
		return fmt.Errorf("%w: have %d, need at least %d",
			ErrTooFewKeys, len(keys), MinKeys)
	}
	if len(keys) > MaxKeys {
		return fmt.Errorf("%w: have %d, max is %d",
			ErrTooManyKeys, len(keys), MaxKeys)
	}

	for _, key := range keys {
		if err := ValidateKeyFormat(key); err != nil {
			return err
		}
	}

	// Duplicates are adjacent after sorting, which keeps the check linear
	// over the sorted set.
	sorted := Sort(keys)
	for i := 1; i < len(sorted); i++ {
		if bytes.Equal(sorted[i-1], sorted[i]) {
			return fmt.Errorf("%w: %x", ErrDuplicateKey, sorted[i])
		}
	}

	return nil
}
