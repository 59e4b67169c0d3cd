// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package multisig implements m-of-n wallet coordination: the BIP-48
// derivation layout, cosigner key exchange via account xpubs, and
// deterministic BIP-67 address derivation that every participating wallet
// arrives at independently.
package multisig

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/oakwallet/walletcore/address"
	"github.com/oakwallet/walletcore/keychain"
)

var (
	// ErrUnsupportedConfig is returned when an m-of-n combination is not
	// one of the supported quorums.
	ErrUnsupportedConfig = errors.New("unsupported multisig configuration")
)

// bip48Purpose is the hardened purpose index of the multisig derivation
// layout.
const bip48Purpose = 48

// Config is the quorum of a multisig wallet: M required signatures out of N
// cosigners.
type Config struct {
	// M is the number of signatures required to spend.
	M int

	// N is the total number of cosigners.
	N int
}

// supportedConfigs is the fixed set of quorums the wallet exposes. Arbitrary
// m-of-n would multiply the coordination test surface without a user asking
// for it, so the set is an explicit allow-list.
var supportedConfigs = map[Config]struct{}{
	{M: 2, N: 2}: {},
	{M: 2, N: 3}: {},
	{M: 3, N: 5}: {},
}

// Validate rejects any quorum outside the supported set.
func (c Config) Validate() error {
	if _, ok := supportedConfigs[c]; !ok {
		return fmt.Errorf("%w: %d-of-%d", ErrUnsupportedConfig,
			c.M, c.N)
	}

	return nil
}

// String returns the quorum in m-of-n notation.
func (c Config) String() string {
	return fmt.Sprintf("%d-of-%d", c.M, c.N)
}

// DerivationPath returns the BIP-48 account path
// m/48'/coin_type'/account'/script_type' for the given script wrapping. The
// script-type index is part of the path, so P2SH and P2WSH accounts over the
// same seed never share keys.
func DerivationPath(scriptType address.ScriptType, accountIndex uint32,
	params *chaincfg.Params) (string, error) {

	switch scriptType {
	case address.ScriptP2SH, address.ScriptNestedP2WSH, address.ScriptP2WSH:
	default:
		return "", fmt.Errorf("%w: %v", address.ErrUnknownScriptType,
			scriptType)
	}

	return fmt.Sprintf("m/%d'/%d'/%d'/%d'", bip48Purpose,
		params.HDCoinType, accountIndex, scriptType), nil
}

// ExportAccountXpub derives the BIP-48 account node for a session and encodes
// its public portion with the network's standard version bytes, along with
// the wallet's master fingerprint. The pair is what a cosigner hands to the
// other participants during wallet setup.
func ExportAccountXpub(session *keychain.Session,
	scriptType address.ScriptType, accountIndex uint32) (string, [4]byte,
	error) {

	var fp [4]byte

	path, err := DerivationPath(scriptType, accountIndex,
		session.ChainParams())
	if err != nil {
		return "", fp, err
	}

	node, err := session.DerivePath(path)
	if err != nil {
		return "", fp, err
	}

	xpub, err := keychain.ExportAccountXpub(node, session.ChainParams())
	if err != nil {
		return "", fp, err
	}

	fp, err = session.MasterFingerprint()
	if err != nil {
		return "", fp, err
	}

	return xpub, fp, nil
}

// ValidateXpub checks a cosigner-provided extended public key against the
// account's network and returns the parsed node. Private keys and
// wrong-network keys are rejected.
func ValidateXpub(xpub string,
	params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {

	return keychain.ParseXpub(xpub, params)
}

// ImportCosigner validates a received account xpub and builds a cosigner
// record for it. The fingerprint is computed from the account key itself
// when the sender did not transmit their master fingerprint alongside; the
// caller sets the self flag when assembling the account.
func ImportCosigner(name, xpub string,
	params *chaincfg.Params) (*Cosigner, error) {

	key, err := ValidateXpub(xpub, params)
	if err != nil {
		return nil, err
	}

	fp, err := keychain.Fingerprint(key)
	if err != nil {
		return nil, err
	}

	return &Cosigner{
		Name:        name,
		Xpub:        xpub,
		Fingerprint: fp,
	}, nil
}
