// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package address turns public keys and multisig scripts into bitcoin
// addresses and validates addresses supplied by the user. It is strictly
// one-way: nothing in this package handles private key material.
package address

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrUnknownAddressType is returned when an address type is not one of
	// the supported single-sig families.
	ErrUnknownAddressType = errors.New("unknown address type")

	// ErrUnsupportedAddress is returned when an address decodes to a
	// script family this wallet does not handle.
	ErrUnsupportedAddress = errors.New("unsupported address")

	// ErrInvalidPublicKey is returned when key bytes are not a compressed
	// secp256k1 public key.
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// Type enumerates the single-sig address families the wallet derives. Each
// family corresponds to a BIP-44 style derivation purpose.
type Type uint8

const (
	// Legacy is a P2PKH address derived under BIP-44.
	Legacy Type = iota

	// NestedSegWit is a P2WPKH output nested in P2SH, derived under
	// BIP-49.
	NestedSegWit

	// NativeSegWit is a native P2WPKH output, derived under BIP-84.
	NativeSegWit
)

// String returns a human-readable name for the address type.
func (t Type) String() string {
	switch t {
	case Legacy:
		return "legacy"
	case NestedSegWit:
		return "segwit"
	case NativeSegWit:
		return "native-segwit"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(t))
	}
}

// DetectedType describes the script family of a decoded address string.
type DetectedType uint8

const (
	// P2PKH is a legacy pay-to-pubkey-hash address.
	P2PKH DetectedType = iota

	// P2SH is a pay-to-script-hash address. Whether it wraps a witness
	// program or a plain script cannot be told from the address alone.
	P2SH

	// P2WPKH is a native segwit v0 pay-to-witness-pubkey-hash address.
	P2WPKH

	// P2WSH is a native segwit v0 pay-to-witness-script-hash address.
	P2WSH
)

// String returns a human-readable name for the detected script family.
func (t DetectedType) String() string {
	switch t {
	case P2PKH:
		return "p2pkh"
	case P2SH:
		return "p2sh"
	case P2WPKH:
		return "p2wpkh"
	case P2WSH:
		return "p2wsh"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(t))
	}
}

// Generate derives the address of the given type for a compressed public key.
// The same key, type and network always produce the same address string.
func Generate(pubKey []byte, addrType Type,
	params *chaincfg.Params) (btcutil.Address, error) {

	// Only compressed keys are accepted: hashing an uncompressed encoding
	// of the same key would silently derive a different address.
	if len(pubKey) != 33 || (pubKey[0] != 0x02 && pubKey[0] != 0x03) {
		return nil, fmt.Errorf("%w: expected 33-byte compressed key, "+
			"got %d bytes", ErrInvalidPublicKey, len(pubKey))
	}

	pubKeyHash := btcutil.Hash160(pubKey)

	switch addrType {
	case Legacy:
		return btcutil.NewAddressPubKeyHash(pubKeyHash, params)

	case NativeSegWit:
		return btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)

	case NestedSegWit:
		// The redeem script of a nested segwit address is the P2WPKH
		// witness program, which is then wrapped in ordinary P2SH.
		witnessAddr, err := btcutil.NewAddressWitnessPubKeyHash(
			pubKeyHash, params,
		)
		if err != nil {
			return nil, err
		}

		witnessProgram, err := txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressScriptHash(witnessProgram, params)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownAddressType,
			addrType)
	}
}

// Validate reports whether the given string is a well-formed address for the
// given network. Malformed input never panics or errors; it simply reports
// false.
func Validate(addr string, params *chaincfg.Params) bool {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return false
	}

	return decoded.IsForNet(params)
}

// DetectType classifies an address string into its script family. The address
// may belong to either mainnet or testnet.
func DetectType(addr string) (DetectedType, error) {
	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams)
	if err != nil {
		decoded, err = btcutil.DecodeAddress(
			addr, &chaincfg.TestNet3Params,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrUnsupportedAddress,
				addr)
		}
	}

	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		return P2PKH, nil
	case *btcutil.AddressScriptHash:
		return P2SH, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return P2WPKH, nil
	case *btcutil.AddressWitnessScriptHash:
		return P2WSH, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedAddress, decoded)
	}
}
