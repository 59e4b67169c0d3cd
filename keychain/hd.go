// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/oakwallet/walletcore/address"
)

const (
	// ExternalChain is the BIP-44 chain index for receiving addresses.
	ExternalChain uint32 = 0

	// InternalChain is the BIP-44 chain index for change addresses.
	InternalChain uint32 = 1
)

var (
	// ErrUnknownAddressType is returned when an address type has no
	// derivation purpose assigned.
	ErrUnknownAddressType = errors.New("no derivation purpose for " +
		"address type")
)

// NewMaster creates the BIP-32 master node from a seed via
// HMAC-SHA512("Bitcoin seed", seed). The network parameters determine the
// extended-key version bytes and, downstream, the coin type of every derived
// path.
func NewMaster(seed []byte,
	params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {

	return hdkeychain.NewMaster(seed, params)
}

// PurposeFor maps a single-sig address type to its BIP-43 derivation purpose:
// 44' for legacy, 49' for nested segwit, and 84' for native segwit.
func PurposeFor(addrType address.Type) (uint32, error) {
	switch addrType {
	case address.Legacy:
		return 44, nil
	case address.NestedSegWit:
		return 49, nil
	case address.NativeSegWit:
		return 84, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownAddressType, addrType)
	}
}

// AccountPath returns the canonical account-level derivation path
// m/purpose'/coin_type'/account' for the given address type. The coin type
// comes from the network parameters (0 for mainnet, 1 for testnet); a caller
// that wants a testnet wallet must pass testnet parameters, the path is never
// silently corrected.
func AccountPath(addrType address.Type, accountIndex uint32,
	params *chaincfg.Params) (string, error) {

	purpose, err := PurposeFor(addrType)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("m/%d'/%d'/%d'", purpose, params.HDCoinType,
		accountIndex), nil
}

// AddressPath returns the full derivation path for one address:
// m/purpose'/coin_type'/account'/change/index. The chain and index segments
// are non-hardened, so the same addresses are derivable from the exported
// account xpub.
func AddressPath(addrType address.Type, accountIndex uint32, change bool,
	addressIndex uint32, params *chaincfg.Params) (string, error) {

	accountPath, err := AccountPath(addrType, accountIndex, params)
	if err != nil {
		return "", err
	}

	chain := ExternalChain
	if change {
		chain = InternalChain
	}

	return fmt.Sprintf("%s/%d/%d", accountPath, chain, addressIndex), nil
}

// Fingerprint computes the BIP-32 key fingerprint: the first four bytes of
// HASH160 of the node's compressed public key.
func Fingerprint(node *hdkeychain.ExtendedKey) ([4]byte, error) {
	var fp [4]byte

	pubKey, err := node.ECPubKey()
	if err != nil {
		return fp, fmt.Errorf("%w: %v", ErrDerivation, err)
	}

	copy(fp[:], btcutil.Hash160(pubKey.SerializeCompressed())[:4])

	return fp, nil
}
