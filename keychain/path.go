// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

var (
	// ErrMalformedPath is returned when a derivation path string cannot be
	// parsed.
	ErrMalformedPath = errors.New("malformed derivation path")

	// ErrIndexOutOfRange is returned when a path segment's index is not
	// below 2^31. Hardening is expressed with a trailing apostrophe, not
	// by writing the raw hardened index.
	ErrIndexOutOfRange = errors.New("derivation index out of range")

	// ErrDerivation is returned when child key derivation fails, for
	// example when a hardened segment is derived from a public-only key.
	ErrDerivation = errors.New("key derivation failed")
)

// ParsePath parses a BIP-32 derivation path of the form "m/44'/0'/0'/0/5"
// into child indices, with the hardened bit applied to segments suffixed by
// ', h, or H. The leading "m" (or "M") element is optional; "m" alone is the
// empty path.
func ParsePath(path string) ([]uint32, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty path", ErrMalformedPath)
	}

	segments := strings.Split(trimmed, "/")
	if segments[0] == "m" || segments[0] == "M" {
		segments = segments[1:]
	}

	indices := make([]uint32, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("%w: empty segment in %q",
				ErrMalformedPath, path)
		}

		hardened := false
		switch segment[len(segment)-1] {
		case '\'', 'h', 'H':
			hardened = true
			segment = segment[:len(segment)-1]
		}

		index, err := strconv.ParseUint(segment, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q",
				ErrMalformedPath, segment)
		}

		if index >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange,
				index)
		}

		childIndex := uint32(index)
		if hardened {
			childIndex += hdkeychain.HardenedKeyStart
		}

		indices = append(indices, childIndex)
	}

	return indices, nil
}

// DerivePath applies BIP-32 child key derivation for every segment of the
// given path, starting from the provided node. Hardened segments require a
// private node; deriving them from a neutered key fails with ErrDerivation.
// The input node is never mutated.
func DerivePath(node *hdkeychain.ExtendedKey,
	path string) (*hdkeychain.ExtendedKey, error) {

	indices, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	return deriveIndices(node, indices)
}

// deriveIndices walks a list of already-parsed child indices.
func deriveIndices(node *hdkeychain.ExtendedKey,
	indices []uint32) (*hdkeychain.ExtendedKey, error) {

	current := node
	for depth, index := range indices {
		child, err := current.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("%w: depth %d: %v",
				ErrDerivation, depth, err)
		}

		current = child
	}

	return current, nil
}
