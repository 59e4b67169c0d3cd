// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/oakwallet/walletcore/keychain"
)

var (
	// ErrUnknownSigningAddress is returned when the resolver is asked for
	// the secrets behind an address it has no record of.
	ErrUnknownSigningAddress = errors.New("no key material for address")
)

// SessionResolver resolves signing secrets by re-deriving them from an open
// wallet session. It holds no private keys itself, only derivation paths, so
// a resolver that leaks reveals nothing once the session is closed.
type SessionResolver struct {
	session *keychain.Session

	// paths maps encoded addresses to the derivation path of their key.
	paths map[string]string

	// scripts maps encoded script-hash addresses to their redeem or
	// witness script.
	scripts map[string][]byte
}

// A compile time check to ensure SessionResolver implements the KeyResolver
// interface.
var _ KeyResolver = (*SessionResolver)(nil)

// NewSessionResolver creates an empty resolver over an open session.
func NewSessionResolver(session *keychain.Session) *SessionResolver {
	return &SessionResolver{
		session: session,
		paths:   make(map[string]string),
		scripts: make(map[string][]byte),
	}
}

// AddKeyPath registers the derivation path behind an address.
func (r *SessionResolver) AddKeyPath(addr, path string) {
	r.paths[addr] = path
}

// AddScript registers the redeem or witness script behind a script-hash
// address.
func (r *SessionResolver) AddScript(addr string, script []byte) {
	r.scripts[addr] = script
}

// ResolveKey derives the private key for an address from the session. All
// wallet keys are compressed.
func (r *SessionResolver) ResolveKey(addr btcutil.Address) (*btcec.PrivateKey,
	bool, error) {

	path, ok := r.paths[addr.EncodeAddress()]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s",
			ErrUnknownSigningAddress, addr.EncodeAddress())
	}

	node, err := r.session.DerivePath(path)
	if err != nil {
		return nil, false, err
	}

	privKey, err := node.ECPrivKey()
	if err != nil {
		return nil, false, err
	}

	return privKey, true, nil
}

// ResolveScript returns the registered script behind a script-hash address.
func (r *SessionResolver) ResolveScript(addr btcutil.Address) ([]byte, error) {
	script, ok := r.scripts[addr.EncodeAddress()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigningAddress,
			addr.EncodeAddress())
	}

	return script, nil
}

// ChainParams returns the network of the underlying session.
func (r *SessionResolver) ChainParams() *chaincfg.Params {
	return r.session.ChainParams()
}
