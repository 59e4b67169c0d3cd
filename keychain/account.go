// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"

	"github.com/oakwallet/walletcore/address"
)

var (
	// ErrEmptyAccountName is returned when an account is created or
	// renamed with a blank name.
	ErrEmptyAccountName = errors.New("account name must not be empty")

	// ErrUnknownAddress is returned when an address operation references
	// an index the account has not derived yet.
	ErrUnknownAddress = errors.New("address not derived by this account")
)

// DerivedAddress is one address an account has handed out, together with the
// bookkeeping needed to find its key again later.
type DerivedAddress struct {
	// Address is the encoded address string.
	Address string

	// Path is the full derivation path of the address key.
	Path string

	// Index is the address index within its chain.
	Index uint32

	// Change is true for internal (change) chain addresses.
	Change bool

	// Used records whether the address has appeared in a transaction.
	Used bool
}

// Account tracks one BIP-44/49/84 account: its index, display name, address
// type and the addresses derived so far. Address lists are append-only;
// indices are never reused, so a restored wallet rediscovers the same
// addresses by scanning forward.
type Account struct {
	// Index is the hardened account index within the wallet.
	Index uint32

	// Name is the user-facing account label.
	Name string

	// AddrType fixes the script type of every address in the account.
	AddrType address.Type

	// ExternalIndex is the next unissued receiving address index.
	ExternalIndex uint32

	// InternalIndex is the next unissued change address index.
	InternalIndex uint32

	// Addresses holds every address derived so far, in issue order.
	Addresses []DerivedAddress
}

// CreateAccount derives the account node for the given index and address
// type and issues its first receiving address. The returned account is ready
// for use: a fresh wallet always has at least one address to show.
func (s *Session) CreateAccount(name string, accountIndex uint32,
	addrType address.Type) (*Account, error) {

	if name == "" {
		return nil, ErrEmptyAccountName
	}

	account := &Account{
		Index:    accountIndex,
		Name:     name,
		AddrType: addrType,
	}

	if _, err := s.NextAddress(account, false); err != nil {
		return nil, err
	}

	log.Infof("Created account %d (%v) with initial receiving address",
		accountIndex, addrType)

	return account, nil
}

// NextAddress derives the next unissued address on the external or internal
// chain of an account, appends it to the account's address list and bumps the
// chain counter.
func (s *Session) NextAddress(account *Account,
	change bool) (*DerivedAddress, error) {

	index := account.ExternalIndex
	if change {
		index = account.InternalIndex
	}

	node, err := s.DeriveAddressNode(account.AddrType, account.Index,
		change, index)
	if err != nil {
		return nil, err
	}

	pubKey, err := node.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}

	addr, err := address.Generate(pubKey.SerializeCompressed(),
		account.AddrType, s.params)
	if err != nil {
		return nil, err
	}
	encoded := addr.EncodeAddress()

	path, err := AddressPath(account.AddrType, account.Index, change,
		index, s.params)
	if err != nil {
		return nil, err
	}

	derived := DerivedAddress{
		Address: encoded,
		Path:    path,
		Index:   index,
		Change:  change,
	}
	account.Addresses = append(account.Addresses, derived)

	if change {
		account.InternalIndex++
	} else {
		account.ExternalIndex++
	}

	return &derived, nil
}

// Rename changes the account's display name. The name is cosmetic, it has no
// effect on derivation.
func (a *Account) Rename(name string) error {
	if name == "" {
		return ErrEmptyAccountName
	}

	a.Name = name

	return nil
}

// MarkUsed flags an already-derived address as having appeared on-chain.
func (a *Account) MarkUsed(addr string) error {
	for i := range a.Addresses {
		if a.Addresses[i].Address == addr {
			a.Addresses[i].Used = true
			return nil
		}
	}

	return ErrUnknownAddress
}

// ExternalAddresses returns the receiving addresses issued so far.
func (a *Account) ExternalAddresses() []DerivedAddress {
	return a.chainAddresses(false)
}

// InternalAddresses returns the change addresses issued so far.
func (a *Account) InternalAddresses() []DerivedAddress {
	return a.chainAddresses(true)
}

func (a *Account) chainAddresses(change bool) []DerivedAddress {
	var addrs []DerivedAddress
	for _, addr := range a.Addresses {
		if addr.Change == change {
			addrs = append(addrs, addr)
		}
	}

	return addrs
}
