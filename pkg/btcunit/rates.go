// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin fee rates
// and transaction sizes. All arithmetic is performed on integer satoshis;
// floating point is never used for monetary values.
package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000
)

// SatPerVByte expresses a fee rate in whole satoshis per virtual byte. This is
// the unit fee estimators and user-facing APIs in this module operate on.
type SatPerVByte btcutil.Amount

var (
	// ZeroSatPerVByte is a fee rate of 0 sat/vb.
	ZeroSatPerVByte = SatPerVByte(0)
)

// NewSatPerVByte creates a new fee rate from a whole number of satoshis per
// vbyte.
func NewSatPerVByte(rate int64) SatPerVByte {
	return SatPerVByte(rate)
}

// FeeForVSize calculates the fee for a transaction of the given virtual size,
// rounding up to the nearest satoshi so that the resulting fee never falls
// below the requested rate.
func (s SatPerVByte) FeeForVSize(vsize VByte) btcutil.Amount {
	return btcutil.Amount(int64(s) * int64(vsize))
}

// ToSatPerKVByte converts the fee rate to satoshis per kilo-virtual-byte,
// which is the unit the txauthor and txrules packages expect.
func (s SatPerVByte) ToSatPerKVByte() btcutil.Amount {
	return btcutil.Amount(int64(s) * kilo)
}

// String returns a human-readable form of the fee rate.
func (s SatPerVByte) String() string {
	return fmt.Sprintf("%d sat/vb", int64(s))
}
