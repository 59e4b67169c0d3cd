// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package multisig

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/oakwallet/walletcore/address"
	"github.com/oakwallet/walletcore/keychain"
	"github.com/oakwallet/walletcore/keysort"
)

var (
	// ErrCosignerCount is returned when the number of cosigners does not
	// match the quorum's N.
	ErrCosignerCount = errors.New("cosigner count does not match quorum")

	// ErrNoSelfCosigner is returned when none of the cosigners, or more
	// than one of them, is marked as this wallet.
	ErrNoSelfCosigner = errors.New("exactly one cosigner must be local")

	// ErrDuplicateCosigner is returned when two cosigners share the same
	// account xpub.
	ErrDuplicateCosigner = errors.New("duplicate cosigner key")
)

// Cosigner is one participant of a multisig account, identified by its
// BIP-48 account xpub and master fingerprint. Exactly one cosigner per
// account is Self, the wallet holding the corresponding private keys.
type Cosigner struct {
	// Name is the participant's display label.
	Name string

	// Xpub is the participant's BIP-48 account extended public key.
	Xpub string

	// Fingerprint is the participant's BIP-32 master key fingerprint,
	// recorded in PSBT derivation entries.
	Fingerprint [4]byte

	// Self marks the participant whose keys live in this wallet.
	Self bool
}

// Account is a fully assembled multisig account: a quorum, a script
// wrapping, and N validated cosigners. Address derivation needs no private
// keys, so every cosigner independently derives the identical addresses.
type Account struct {
	// Name is the account's display label.
	Name string

	// Config is the account's m-of-n quorum.
	Config Config

	// ScriptType is the script wrapping used for every address.
	ScriptType address.ScriptType

	// Index is the BIP-48 account index.
	Index uint32

	// Cosigners are the account participants. Their order is fixed at
	// creation but carries no meaning: address keys are BIP-67 sorted.
	Cosigners []Cosigner

	params *chaincfg.Params
}

// NewAccount assembles a multisig account from its quorum and cosigner set.
// Every cosigner xpub is parsed and checked against the network, exactly one
// cosigner must be local, and no key may appear twice.
func NewAccount(name string, cfg Config, scriptType address.ScriptType,
	accountIndex uint32, cosigners []Cosigner,
	params *chaincfg.Params) (*Account, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(cosigners) != cfg.N {
		return nil, fmt.Errorf("%w: have %d, quorum is %v",
			ErrCosignerCount, len(cosigners), cfg)
	}

	// Reject an invalid script type before any derivation happens.
	if _, err := DerivationPath(scriptType, accountIndex,
		params); err != nil {

		return nil, err
	}

	seen := make(map[string]struct{}, len(cosigners))
	selfCount := 0
	for _, cosigner := range cosigners {
		if _, err := ValidateXpub(cosigner.Xpub, params); err != nil {
			return nil, err
		}

		if _, ok := seen[cosigner.Xpub]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCosigner,
				cosigner.Name)
		}
		seen[cosigner.Xpub] = struct{}{}

		if cosigner.Self {
			selfCount++
		}
	}

	if selfCount != 1 {
		return nil, fmt.Errorf("%w: have %d", ErrNoSelfCosigner,
			selfCount)
	}

	log.Infof("Assembled %v multisig account %q with %d cosigners",
		cfg, name, len(cosigners))

	return &Account{
		Name:       name,
		Config:     cfg,
		ScriptType: scriptType,
		Index:      accountIndex,
		Cosigners:  append([]Cosigner(nil), cosigners...),
		params:     params,
	}, nil
}

// ChainParams returns the network the account was assembled for.
func (a *Account) ChainParams() *chaincfg.Params {
	return a.params
}

// Self returns the local cosigner.
func (a *Account) Self() *Cosigner {
	for i := range a.Cosigners {
		if a.Cosigners[i].Self {
			return &a.Cosigners[i]
		}
	}

	// NewAccount guarantees exactly one.
	return nil
}

// leafKeys derives each cosigner's public key at change/index, in cosigner
// order.
func (a *Account) leafKeys(change bool, index uint32) ([][]byte, error) {
	chain := keychain.ExternalChain
	if change {
		chain = keychain.InternalChain
	}
	relPath := fmt.Sprintf("m/%d/%d", chain, index)

	pubKeys := make([][]byte, 0, len(a.Cosigners))
	for _, cosigner := range a.Cosigners {
		accountKey, err := ValidateXpub(cosigner.Xpub, a.params)
		if err != nil {
			return nil, err
		}

		leaf, err := keychain.DerivePath(accountKey, relPath)
		if err != nil {
			return nil, err
		}

		pubKey, err := leaf.ECPubKey()
		if err != nil {
			return nil, err
		}

		pubKeys = append(pubKeys, pubKey.SerializeCompressed())
	}

	return pubKeys, nil
}

// DeriveAddress derives the multisig address at change/index by deriving the
// same non-hardened child from every cosigner's account xpub, BIP-67 sorting
// the resulting keys and wrapping the m-of-n script per the account's script
// type. The result is a pure function of the account, so all N wallets
// compute the same address without communicating.
func (a *Account) DeriveAddress(change bool, index uint32) (
	*address.MultisigAddress, error) {

	pubKeys, err := a.leafKeys(change, index)
	if err != nil {
		return nil, err
	}

	msScript, err := address.MultisigScript(a.Config.M, pubKeys, a.params)
	if err != nil {
		return nil, err
	}

	return address.NewMultisigAddress(msScript, a.ScriptType, a.params)
}

// DerivePubKeys returns the BIP-67 sorted cosigner public keys at
// change/index. Signing and PSBT construction need the ordered key list to
// place signatures on the witness stack in script order.
func (a *Account) DerivePubKeys(change bool, index uint32) ([][]byte, error) {
	pubKeys, err := a.leafKeys(change, index)
	if err != nil {
		return nil, err
	}

	return keysort.Sort(pubKeys), nil
}

// Bip32Derivations returns one PSBT derivation record per cosigner for the
// address at change/index: the cosigner's leaf public key, its master
// fingerprint and the full derivation path. Packets carrying these records
// let any participant attribute partial signatures to cosigners.
func (a *Account) Bip32Derivations(change bool,
	index uint32) ([]*psbt.Bip32Derivation, error) {

	accountPath, err := DerivationPath(a.ScriptType, a.Index, a.params)
	if err != nil {
		return nil, err
	}

	chain := keychain.ExternalChain
	if change {
		chain = keychain.InternalChain
	}

	indices, err := keychain.ParsePath(fmt.Sprintf("%s/%d/%d",
		accountPath, chain, index))
	if err != nil {
		return nil, err
	}

	leaves, err := a.leafKeys(change, index)
	if err != nil {
		return nil, err
	}

	derivations := make([]*psbt.Bip32Derivation, len(a.Cosigners))
	for i, cosigner := range a.Cosigners {
		derivations[i] = &psbt.Bip32Derivation{
			PubKey: leaves[i],
			MasterKeyFingerprint: binary.LittleEndian.Uint32(
				cosigner.Fingerprint[:],
			),
			Bip32Path: indices,
		}
	}

	return derivations, nil
}
