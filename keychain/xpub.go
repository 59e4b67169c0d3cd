// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/oakwallet/walletcore/address"
)

var (
	// ErrXpubParse is returned when an extended-key string cannot be
	// decoded, or carries version bytes this wallet does not recognize.
	ErrXpubParse = errors.New("unable to parse extended public key")

	// ErrXpubIsPrivateKey is returned when an extended key that was
	// expected to be public turns out to encode private key material.
	// Such keys are always rejected outright.
	ErrXpubIsPrivateKey = errors.New("extended key encodes a private key")

	// ErrXpubNetworkMismatch is returned when an extended public key's
	// version prefix belongs to a different network than expected.
	ErrXpubNetworkMismatch = errors.New("extended key network mismatch")
)

// serializedXpubLen is the length of a base58-decoded extended key: 78
// payload bytes plus a 4-byte checksum.
const serializedXpubLen = 82

// hdVersion is one SLIP-132 version-byte assignment.
type hdVersion struct {
	version [4]byte
	mainnet bool
	private bool
}

// slip132Versions lists every extended-key version prefix this wallet
// recognizes: the BIP-32 originals plus the SLIP-132 single-sig (ypub/zpub)
// and multisig (Ypub/Zpub) families for both networks.
var slip132Versions = map[string]hdVersion{
	// Mainnet public.
	"xpub": {version: [4]byte{0x04, 0x88, 0xb2, 0x1e}, mainnet: true},
	"ypub": {version: [4]byte{0x04, 0x9d, 0x7c, 0xb2}, mainnet: true},
	"Ypub": {version: [4]byte{0x02, 0x95, 0xb4, 0x3f}, mainnet: true},
	"zpub": {version: [4]byte{0x04, 0xb2, 0x47, 0x46}, mainnet: true},
	"Zpub": {version: [4]byte{0x02, 0xaa, 0x7e, 0xd3}, mainnet: true},

	// Mainnet private.
	"xprv": {
		version: [4]byte{0x04, 0x88, 0xad, 0xe4},
		mainnet: true, private: true,
	},
	"yprv": {
		version: [4]byte{0x04, 0x9d, 0x78, 0x78},
		mainnet: true, private: true,
	},
	"Yprv": {
		version: [4]byte{0x02, 0x95, 0xb0, 0x05},
		mainnet: true, private: true,
	},
	"zprv": {
		version: [4]byte{0x04, 0xb2, 0x43, 0x0c},
		mainnet: true, private: true,
	},
	"Zprv": {
		version: [4]byte{0x02, 0xaa, 0x7a, 0x99},
		mainnet: true, private: true,
	},

	// Testnet public.
	"tpub": {version: [4]byte{0x04, 0x35, 0x87, 0xcf}},
	"upub": {version: [4]byte{0x04, 0x4a, 0x52, 0x62}},
	"Upub": {version: [4]byte{0x02, 0x42, 0x89, 0xef}},
	"vpub": {version: [4]byte{0x04, 0x5f, 0x1c, 0xf6}},
	"Vpub": {version: [4]byte{0x02, 0x57, 0x54, 0x83}},

	// Testnet private.
	"tprv": {version: [4]byte{0x04, 0x35, 0x83, 0x94}, private: true},
	"uprv": {version: [4]byte{0x04, 0x4a, 0x4e, 0x28}, private: true},
	"Uprv": {version: [4]byte{0x02, 0x42, 0x85, 0xb5}, private: true},
	"vprv": {version: [4]byte{0x04, 0x5f, 0x18, 0xbc}, private: true},
	"Vprv": {version: [4]byte{0x02, 0x57, 0x50, 0x48}, private: true},
}

// exportVersion returns the SLIP-132 public version prefix used when
// exporting an account xpub of the given address type.
func exportVersion(addrType address.Type,
	params *chaincfg.Params) ([4]byte, error) {

	var prefix string
	switch addrType {
	case address.Legacy:
		prefix = "xpub"
	case address.NestedSegWit:
		prefix = "ypub"
	case address.NativeSegWit:
		prefix = "zpub"
	default:
		return [4]byte{}, fmt.Errorf("%w: %v", ErrUnknownAddressType,
			addrType)
	}

	if !isMainNet(params) {
		prefix = map[string]string{
			"xpub": "tpub", "ypub": "upub", "zpub": "vpub",
		}[prefix]
	}

	return slip132Versions[prefix].version, nil
}

// isMainNet reports whether the given chain parameters describe mainnet.
func isMainNet(params *chaincfg.Params) bool {
	return params.Net == wire.MainNet
}

// ExportXpub encodes the public portion of a node as a base58check extended
// public key using the SLIP-132 version prefix for the node's address type
// and network: xpub/ypub/zpub on mainnet, tpub/upub/vpub on testnet. The
// node is neutered first, so private material never leaves this function.
func ExportXpub(node *hdkeychain.ExtendedKey, addrType address.Type,
	params *chaincfg.Params) (string, error) {

	version, err := exportVersion(addrType, params)
	if err != nil {
		return "", err
	}

	neutered, err := node.Neuter()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrXpubParse, err)
	}

	versioned, err := neutered.CloneWithVersion(version[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrXpubParse, err)
	}

	return versioned.String(), nil
}

// ExportAccountXpub encodes a public account key with the plain BIP-32
// version bytes of the given network (xpub or tpub). This is the neutral
// encoding used when exchanging multisig cosigner keys, which every
// coordinator understands.
func ExportAccountXpub(node *hdkeychain.ExtendedKey,
	params *chaincfg.Params) (string, error) {

	neutered, err := node.Neuter()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrXpubParse, err)
	}

	versioned, err := neutered.CloneWithVersion(params.HDPublicKeyID[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrXpubParse, err)
	}

	return versioned.String(), nil
}

// ParseXpub decodes and validates an extended public key string against the
// expected network. Keys with private version prefixes (or public prefixes
// hiding private key data) are rejected, as are prefixes of the wrong
// network and unknown prefixes. The returned node is normalized to the
// network's standard public version bytes so that all downstream derivation
// is prefix-agnostic.
func ParseXpub(xpub string,
	params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {

	decoded := base58.Decode(xpub)
	if len(decoded) != serializedXpubLen {
		return nil, fmt.Errorf("%w: wrong length", ErrXpubParse)
	}

	var found *hdVersion
	for prefix := range slip132Versions {
		v := slip132Versions[prefix]
		if bytes.Equal(decoded[:4], v.version[:]) {
			found = &v
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: unknown version prefix",
			ErrXpubParse)
	}

	if found.private {
		return nil, ErrXpubIsPrivateKey
	}

	if found.mainnet != isMainNet(params) {
		return nil, fmt.Errorf("%w: key is for the wrong network",
			ErrXpubNetworkMismatch)
	}

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrXpubParse, err)
	}

	// A public version prefix wrapped around private key data is still a
	// private key, and still rejected.
	if key.IsPrivate() {
		return nil, ErrXpubIsPrivateKey
	}

	normalized, err := key.CloneWithVersion(params.HDPublicKeyID[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrXpubParse, err)
	}

	return normalized, nil
}
