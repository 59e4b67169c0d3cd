// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/oakwallet/walletcore/address"
)

var (
	// ErrSessionClosed is returned when a derivation is attempted on a
	// session whose key material has already been zeroed.
	ErrSessionClosed = errors.New("session is closed")

	// ErrInvalidSeed is returned when a seed cannot produce a usable
	// master key.
	ErrInvalidSeed = errors.New("invalid seed")
)

// Session owns the decrypted master key of an unlocked wallet. All private
// key derivation flows through it, so there is exactly one place holding hot
// key material and exactly one call, Close, that wipes it. A Session is not
// safe for concurrent use.
type Session struct {
	master *hdkeychain.ExtendedKey
	params *chaincfg.Params
	closed bool
}

// NewSession builds a session from a BIP-39 seed. The caller remains
// responsible for wiping its own copy of the seed; the session only retains
// the derived master key.
func NewSession(seed []byte, params *chaincfg.Params) (*Session, error) {
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	return &Session{
		master: master,
		params: params,
	}, nil
}

// NewSessionFromMnemonic validates the mnemonic, derives its seed and opens a
// session in one step.
func NewSessionFromMnemonic(mnemonic, passphrase string,
	params *chaincfg.Params) (*Session, error) {

	seed, err := MnemonicToSeed(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}

	session, err := NewSession(seed, params)

	// The seed is no longer needed once the master key exists.
	for i := range seed {
		seed[i] = 0
	}

	return session, err
}

// ChainParams returns the network parameters the session was opened with.
func (s *Session) ChainParams() *chaincfg.Params {
	return s.params
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed
}

// Close zeroes the master key material. Any derivation attempted afterwards
// fails with ErrSessionClosed. Close is idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}

	s.master.Zero()
	s.closed = true

	log.Debugf("Wallet session closed, key material zeroed")
}

// DerivePath derives the node at the given path string from the session's
// master key.
func (s *Session) DerivePath(path string) (*hdkeychain.ExtendedKey, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	return DerivePath(s.master, path)
}

// DeriveAccountNode derives the hardened BIP-44/49/84 account-level node
// m/purpose'/coin_type'/account' for the given address type.
func (s *Session) DeriveAccountNode(addrType address.Type,
	accountIndex uint32) (*hdkeychain.ExtendedKey, error) {

	path, err := AccountPath(addrType, accountIndex, s.params)
	if err != nil {
		return nil, err
	}

	return s.DerivePath(path)
}

// DeriveAddressNode derives the leaf node for one address of an account.
func (s *Session) DeriveAddressNode(addrType address.Type,
	accountIndex uint32, change bool,
	addressIndex uint32) (*hdkeychain.ExtendedKey, error) {

	path, err := AddressPath(addrType, accountIndex, change, addressIndex,
		s.params)
	if err != nil {
		return nil, err
	}

	return s.DerivePath(path)
}

// MasterFingerprint returns the BIP-32 fingerprint of the master key. It
// identifies this wallet in PSBT derivation records.
func (s *Session) MasterFingerprint() ([4]byte, error) {
	if s.closed {
		return [4]byte{}, ErrSessionClosed
	}

	return Fingerprint(s.master)
}
