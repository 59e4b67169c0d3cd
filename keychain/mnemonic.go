// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain implements the key-derivation core of the wallet: BIP-39
// mnemonic handling, BIP-32 hierarchical derivation with the BIP-44/49/84
// path layouts, SLIP-132 extended-public-key encoding, and the session
// context that owns decrypted key material for the lifetime of an unlocked
// wallet.
//
// Everything in this package is a pure function over immutable inputs, with
// the single exception of the append-only address counters on Account. No
// function here performs I/O, and no error or log message ever contains a
// mnemonic, seed, or private key.
package keychain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// EntropyBits is the entropy size used to generate a new mnemonic.
type EntropyBits int

const (
	// Entropy128 produces a 12-word mnemonic.
	Entropy128 EntropyBits = 128

	// Entropy256 produces a 24-word mnemonic.
	Entropy256 EntropyBits = 256

	// SeedLen is the length of a BIP-39 derived seed.
	SeedLen = 64
)

var (
	// ErrInvalidEntropyBits is returned when a mnemonic is requested with
	// an entropy size other than 128 or 256 bits.
	ErrInvalidEntropyBits = errors.New("entropy must be 128 or 256 bits")

	// ErrInvalidWordCount is returned when a mnemonic does not contain
	// 12, 15, 18, 21 or 24 words.
	ErrInvalidWordCount = errors.New("invalid mnemonic word count")

	// ErrInvalidMnemonic is returned when a mnemonic contains a word that
	// is not part of the BIP-39 word list.
	ErrInvalidMnemonic = errors.New("mnemonic contains an unknown word")

	// ErrInvalidChecksum is returned when the checksum bits embedded in a
	// mnemonic do not match its entropy portion.
	ErrInvalidChecksum = errors.New("mnemonic checksum mismatch")
)

// validWordCounts are the BIP-39 mnemonic lengths.
var validWordCounts = map[int]struct{}{
	12: {}, 15: {}, 18: {}, 21: {}, 24: {},
}

// NewMnemonic generates a fresh mnemonic from the requested amount of
// entropy, drawn from the operating system's CSPRNG. 128 bits yield 12 words,
// 256 bits yield 24.
func NewMnemonic(bits EntropyBits) (string, error) {
	switch bits {
	case Entropy128, Entropy256:
	default:
		return "", fmt.Errorf("%w: got %d", ErrInvalidEntropyBits, bits)
	}

	entropy, err := bip39.NewEntropy(int(bits))
	if err != nil {
		return "", fmt.Errorf("unable to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("unable to encode mnemonic: %w", err)
	}

	return mnemonic, nil
}

// ValidateMnemonic checks a mnemonic's word count, membership of every word
// in the BIP-39 word list, and the embedded checksum. The returned error
// never echoes any part of the mnemonic.
func ValidateMnemonic(mnemonic string) error {
	words := strings.Fields(mnemonic)
	if _, ok := validWordCounts[len(words)]; !ok {
		return fmt.Errorf("%w: got %d words", ErrInvalidWordCount,
			len(words))
	}

	_, err := bip39.EntropyFromMnemonic(mnemonic)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, bip39.ErrChecksumIncorrect):
		return ErrInvalidChecksum

	default:
		return ErrInvalidMnemonic
	}
}

// MnemonicToSeed derives the 64-byte wallet seed from a mnemonic and an
// optional passphrase using PBKDF2-HMAC-SHA512 with 2048 rounds and the salt
// "mnemonic"+passphrase, per BIP-39. The mnemonic is validated first; a
// mistyped word can therefore never silently derive a different wallet.
func MnemonicToSeed(mnemonic, passphrase string) ([]byte, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	return bip39.NewSeed(mnemonic, passphrase), nil
}

// EntropyToMnemonic maps raw entropy to its mnemonic encoding. It is the
// inverse of MnemonicToEntropy.
func EntropyToMnemonic(entropy []byte) (string, error) {
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEntropyBits, err)
	}

	return mnemonic, nil
}

// MnemonicToEntropy recovers the raw entropy a mnemonic encodes. It is the
// inverse of EntropyToMnemonic.
func MnemonicToEntropy(mnemonic string) ([]byte, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	return bip39.EntropyFromMnemonic(mnemonic)
}
