// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/oakwallet/walletcore/keysort"
)

var (
	// ErrInvalidThreshold is returned when the required signature count is
	// not within [1, len(keys)].
	ErrInvalidThreshold = errors.New("invalid multisig threshold")

	// ErrUnknownScriptType is returned when a multisig script type is not
	// one of the supported wrappings.
	ErrUnknownScriptType = errors.New("unknown multisig script type")
)

// ScriptType enumerates the supported wrappings of an m-of-n multisig script.
// The values match the BIP-48 script_type' derivation index.
type ScriptType uint8

const (
	// ScriptP2SH wraps the multisig script directly in pay-to-script-hash.
	ScriptP2SH ScriptType = 0

	// ScriptNestedP2WSH places the multisig script in a segwit witness
	// program which is itself wrapped in P2SH.
	ScriptNestedP2WSH ScriptType = 1

	// ScriptP2WSH places the multisig script in a native segwit v0
	// witness program.
	ScriptP2WSH ScriptType = 2
)

// String returns a human-readable name for the script type.
func (t ScriptType) String() string {
	switch t {
	case ScriptP2SH:
		return "p2sh"
	case ScriptNestedP2WSH:
		return "p2sh-p2wsh"
	case ScriptP2WSH:
		return "p2wsh"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(t))
	}
}

// MultisigAddress bundles a multisig address with the script material needed
// to later satisfy it. RedeemScript is what a spender places in the scriptSig
// (nil for native P2WSH); WitnessScript is the multisig script revealed in
// the witness (nil for plain P2SH).
type MultisigAddress struct {
	// Address is the encoded address for the wrapped script.
	Address btcutil.Address

	// RedeemScript is the P2SH redeem script, if any.
	RedeemScript []byte

	// WitnessScript is the witness script, if any.
	WitnessScript []byte
}

// MultisigScript builds the canonical m-of-n OP_CHECKMULTISIG script for the
// given public keys. The keys are BIP-67 sorted internally, so callers get
// the same script for any input order. The key set is validated (count,
// format, duplicates) before use.
func MultisigScript(m int, pubKeys [][]byte,
	params *chaincfg.Params) ([]byte, error) {

	if err := keysort.ValidateMultisigKeys(pubKeys); err != nil {
		return nil, err
	}

	if m < 1 || m > len(pubKeys) {
		return nil, fmt.Errorf("%w: %d-of-%d", ErrInvalidThreshold,
			m, len(pubKeys))
	}

	sorted := keysort.Sort(pubKeys)

	addrPubKeys := make([]*btcutil.AddressPubKey, 0, len(sorted))
	for _, key := range sorted {
		addrPubKey, err := btcutil.NewAddressPubKey(key, params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v",
				keysort.ErrInvalidKeyFormat, err)
		}

		addrPubKeys = append(addrPubKeys, addrPubKey)
	}

	return txscript.MultiSigScript(addrPubKeys, m)
}

// NewMultisigAddress wraps an m-of-n multisig script in the requested script
// type and returns the address together with its redeem/witness scripts.
func NewMultisigAddress(msScript []byte, scriptType ScriptType,
	params *chaincfg.Params) (*MultisigAddress, error) {

	switch scriptType {
	case ScriptP2SH:
		addr, err := btcutil.NewAddressScriptHash(msScript, params)
		if err != nil {
			return nil, err
		}

		return &MultisigAddress{
			Address:      addr,
			RedeemScript: msScript,
		}, nil

	case ScriptP2WSH:
		witnessProgram := sha256.Sum256(msScript)
		addr, err := btcutil.NewAddressWitnessScriptHash(
			witnessProgram[:], params,
		)
		if err != nil {
			return nil, err
		}

		return &MultisigAddress{
			Address:       addr,
			WitnessScript: msScript,
		}, nil

	case ScriptNestedP2WSH:
		// The P2WSH witness program becomes the P2SH redeem script.
		witnessProgram := sha256.Sum256(msScript)
		witnessAddr, err := btcutil.NewAddressWitnessScriptHash(
			witnessProgram[:], params,
		)
		if err != nil {
			return nil, err
		}

		redeemScript, err := txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return nil, err
		}

		addr, err := btcutil.NewAddressScriptHash(redeemScript, params)
		if err != nil {
			return nil, err
		}

		return &MultisigAddress{
			Address:       addr,
			RedeemScript:  redeemScript,
			WitnessScript: msScript,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownScriptType,
			scriptType)
	}
}
