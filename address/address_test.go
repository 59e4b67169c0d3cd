// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package address

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// Compressed public keys from the BIP-67 test vectors.
var (
	testKeyA = mustHex("02ff12471208c14bd580709cb2358d98975247d8765f92bc2" +
		"5eab4b2763b6e6950")
	testKeyB = mustHex("02fe6f0a5a297eb38c391581c4413e084773ea23954d93f77" +
		"53db7dc0adc188b2f")
	testKeyC = mustHex("02632b12f4ac5b1d1b72b2a3b508c19172de44f6f46bcee50" +
		"ba33f3f9291e47ed0")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// TestGeneratePrefixInvariants tests that generated addresses carry the
// network- and type-specific prefixes.
func TestGeneratePrefixInvariants(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		addrType Type
		params   *chaincfg.Params
		prefixes []string
	}{
		{
			name:     "mainnet native segwit",
			addrType: NativeSegWit,
			params:   &chaincfg.MainNetParams,
			prefixes: []string{"bc1"},
		},
		{
			name:     "testnet native segwit",
			addrType: NativeSegWit,
			params:   &chaincfg.TestNet3Params,
			prefixes: []string{"tb1"},
		},
		{
			name:     "mainnet legacy",
			addrType: Legacy,
			params:   &chaincfg.MainNetParams,
			prefixes: []string{"1"},
		},
		{
			name:     "testnet legacy",
			addrType: Legacy,
			params:   &chaincfg.TestNet3Params,
			prefixes: []string{"m", "n"},
		},
		{
			name:     "mainnet nested segwit",
			addrType: NestedSegWit,
			params:   &chaincfg.MainNetParams,
			prefixes: []string{"3"},
		},
		{
			name:     "testnet nested segwit",
			addrType: NestedSegWit,
			params:   &chaincfg.TestNet3Params,
			prefixes: []string{"2"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			addr, err := Generate(testKeyA, tc.addrType, tc.params)
			require.NoError(t, err)

			encoded := addr.EncodeAddress()
			matched := false
			for _, prefix := range tc.prefixes {
				if strings.HasPrefix(encoded, prefix) {
					matched = true
				}
			}
			require.True(t, matched, "address %s has none of the "+
				"prefixes %v", encoded, tc.prefixes)

			// The address must round-trip through validation.
			require.True(t, Validate(encoded, tc.params))
		})
	}
}

// TestGenerateIsDeterministic tests that the same key, type and network
// always yield the same address string.
func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()

	for _, addrType := range []Type{Legacy, NestedSegWit, NativeSegWit} {
		first, err := Generate(
			testKeyA, addrType, &chaincfg.TestNet3Params,
		)
		require.NoError(t, err)

		second, err := Generate(
			testKeyA, addrType, &chaincfg.TestNet3Params,
		)
		require.NoError(t, err)

		require.Equal(
			t, first.EncodeAddress(), second.EncodeAddress(),
		)
	}
}

// TestValidateRejectsWrongNetwork tests that a testnet address is invalid on
// mainnet and vice versa, and that garbage never panics.
func TestValidateRejectsWrongNetwork(t *testing.T) {
	t.Parallel()

	testnetAddr, err := Generate(
		testKeyA, NativeSegWit, &chaincfg.TestNet3Params,
	)
	require.NoError(t, err)

	mainnetAddr, err := Generate(
		testKeyA, NativeSegWit, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	require.True(t, Validate(
		testnetAddr.EncodeAddress(), &chaincfg.TestNet3Params,
	))
	require.False(t, Validate(
		testnetAddr.EncodeAddress(), &chaincfg.MainNetParams,
	))
	require.False(t, Validate(
		mainnetAddr.EncodeAddress(), &chaincfg.TestNet3Params,
	))

	require.False(t, Validate("", &chaincfg.MainNetParams))
	require.False(t, Validate("not-an-address", &chaincfg.MainNetParams))

	// A bech32 string with a corrupted checksum must simply be invalid.
	corrupted := testnetAddr.EncodeAddress()
	corrupted = corrupted[:len(corrupted)-1] + "x"
	require.False(t, Validate(corrupted, &chaincfg.TestNet3Params))
}

// TestDetectType tests script-family classification of address strings.
func TestDetectType(t *testing.T) {
	t.Parallel()

	legacy, err := Generate(testKeyA, Legacy, &chaincfg.MainNetParams)
	require.NoError(t, err)

	nested, err := Generate(testKeyA, NestedSegWit, &chaincfg.MainNetParams)
	require.NoError(t, err)

	native, err := Generate(
		testKeyA, NativeSegWit, &chaincfg.TestNet3Params,
	)
	require.NoError(t, err)

	msScript, err := MultisigScript(
		2, [][]byte{testKeyA, testKeyB, testKeyC},
		&chaincfg.TestNet3Params,
	)
	require.NoError(t, err)

	p2wsh, err := NewMultisigAddress(
		msScript, ScriptP2WSH, &chaincfg.TestNet3Params,
	)
	require.NoError(t, err)

	testCases := []struct {
		addr string
		want DetectedType
	}{
		{legacy.EncodeAddress(), P2PKH},
		{nested.EncodeAddress(), P2SH},
		{native.EncodeAddress(), P2WPKH},
		{p2wsh.Address.EncodeAddress(), P2WSH},
	}

	for _, tc := range testCases {
		detected, err := DetectType(tc.addr)
		require.NoError(t, err)
		require.Equal(t, tc.want, detected)
	}

	_, err = DetectType("definitely-not-an-address")
	require.ErrorIs(t, err, ErrUnsupportedAddress)
}

// TestMultisigAddressOrderIndependence tests that every permutation of the
// cosigner key set produces the identical multisig address for each script
// wrapping.
func TestMultisigAddressOrderIndependence(t *testing.T) {
	t.Parallel()

	permutations := [][][]byte{
		{testKeyA, testKeyB, testKeyC},
		{testKeyC, testKeyA, testKeyB},
		{testKeyB, testKeyC, testKeyA},
	}

	for _, scriptType := range []ScriptType{
		ScriptP2SH, ScriptNestedP2WSH, ScriptP2WSH,
	} {
		var want string
		for _, perm := range permutations {
			msScript, err := MultisigScript(
				2, perm, &chaincfg.TestNet3Params,
			)
			require.NoError(t, err)

			msAddr, err := NewMultisigAddress(
				msScript, scriptType, &chaincfg.TestNet3Params,
			)
			require.NoError(t, err)

			encoded := msAddr.Address.EncodeAddress()
			if want == "" {
				want = encoded
				continue
			}
			require.Equal(t, want, encoded,
				"script type %v not order independent",
				scriptType)
		}
	}
}

// TestMultisigScriptValidation tests threshold and key-set validation.
func TestMultisigScriptValidation(t *testing.T) {
	t.Parallel()

	keys := [][]byte{testKeyA, testKeyB, testKeyC}

	// Threshold of zero and thresholds above n are invalid.
	_, err := MultisigScript(0, keys, &chaincfg.TestNet3Params)
	require.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = MultisigScript(4, keys, &chaincfg.TestNet3Params)
	require.ErrorIs(t, err, ErrInvalidThreshold)

	// A single key is not a multisig set.
	_, err = MultisigScript(
		1, [][]byte{testKeyA}, &chaincfg.TestNet3Params,
	)
	require.Error(t, err)
}

// TestNestedP2WSHScripts tests that the nested wrapping exposes both the
// redeem script (the witness program) and the witness script.
func TestNestedP2WSHScripts(t *testing.T) {
	t.Parallel()

	msScript, err := MultisigScript(
		2, [][]byte{testKeyA, testKeyB, testKeyC},
		&chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	nested, err := NewMultisigAddress(
		msScript, ScriptNestedP2WSH, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	require.Equal(t, msScript, nested.WitnessScript)
	require.NotEmpty(t, nested.RedeemScript)
	require.NotEqual(t, nested.RedeemScript, nested.WitnessScript)

	// The redeem script is a v0 witness program: OP_0 <32-byte hash>.
	require.Len(t, nested.RedeemScript, 34)
	require.Equal(t, byte(0x00), nested.RedeemScript[0])
}

// TestGenerateRejectsBadKey tests that malformed key bytes cannot produce an
// address.
func TestGenerateRejectsBadKey(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	// A valid fresh key works.
	_, err = Generate(
		priv.PubKey().SerializeCompressed(), NativeSegWit,
		&chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	// An unknown address type does not.
	_, err = Generate(
		priv.PubKey().SerializeCompressed(), Type(99),
		&chaincfg.MainNetParams,
	)
	require.ErrorIs(t, err, ErrUnknownAddressType)

	// Neither do truncated or uncompressed key bytes.
	_, err = Generate(testKeyA[:20], Legacy, &chaincfg.MainNetParams)
	require.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = Generate(
		priv.PubKey().SerializeUncompressed(), Legacy,
		&chaincfg.MainNetParams,
	)
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}
