// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
)

// VByte expresses a transaction size in virtual bytes. One virtual byte is a
// quarter of a weight unit, rounded up.
type VByte int64

// String returns the string representation of the virtual byte count.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", int64(v))
}

// SizeEstimate describes the estimated serialized sizes of a transaction. The
// base size excludes all witness data, while the total size is the full
// BIP-144 serialization. The weight and virtual size follow BIP-141 weight
// accounting:
//
//	weight = base*3 + total
//	vsize  = ceil(weight / 4)
type SizeEstimate struct {
	// BaseSize is the serialized size without witness data, in bytes.
	BaseSize int64

	// TotalSize is the full serialized size including the segwit
	// marker/flag and witness data, in bytes. For transactions without any
	// witness inputs this equals BaseSize.
	TotalSize int64
}

// Weight returns the BIP-141 transaction weight.
func (s SizeEstimate) Weight() int64 {
	return s.BaseSize*(blockchain.WitnessScaleFactor-1) + s.TotalSize
}

// VSize returns the virtual size, rounding the weight up to the next full
// vbyte.
func (s SizeEstimate) VSize() VByte {
	weight := s.Weight()
	vsize := (weight + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor

	return VByte(vsize)
}
