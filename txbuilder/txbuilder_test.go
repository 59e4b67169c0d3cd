// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/oakwallet/walletcore/address"
	"github.com/oakwallet/walletcore/keychain"
	"github.com/oakwallet/walletcore/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

var testSeed = []byte{
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
}

// testUTXOSet builds n distinct fake outputs of the given values.
func testUTXOSet(values ...btcutil.Amount) []UTXO {
	utxos := make([]UTXO, len(values))
	for i, value := range values {
		var txid chainhash.Hash
		txid[0] = byte(i + 1)

		utxos[i] = UTXO{
			OutPoint: wire.OutPoint{Hash: txid, Index: 0},
			Value:    value,
			PkScript: []byte{txscript.OP_TRUE},
		}
	}

	return utxos
}

// TestShuffleUTXOsPreservesSet asserts shuffling permutes without adding,
// dropping or mutating entries.
func TestShuffleUTXOsPreservesSet(t *testing.T) {
	t.Parallel()

	utxos := testUTXOSet(1e4, 2e4, 3e4, 4e4, 5e4)
	original := append([]UTXO(nil), utxos...)

	shuffled, err := ShuffleUTXOs(utxos)
	require.NoError(t, err)
	require.Equal(t, original, utxos)
	require.ElementsMatch(t, original, shuffled)
}

// TestInputSourceAccumulates asserts the source reaches its target and
// reports a typed error when the pool cannot cover it.
func TestInputSourceAccumulates(t *testing.T) {
	t.Parallel()

	utxos := testUTXOSet(1e4, 2e4, 3e4)

	source, err := NewInputSource(utxos)
	require.NoError(t, err)

	total, inputs, values, scripts, err := source(4e4)
	require.NoError(t, err)
	require.GreaterOrEqual(t, int64(total), int64(4e4))
	require.Len(t, values, len(inputs))
	require.Len(t, scripts, len(inputs))

	_, _, _, _, err = source(7e4)
	var insufficientErr *InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
	require.EqualValues(t, 6e4, insufficientErr.Available)
	require.EqualValues(t, 7e4, insufficientErr.Required)
}

// TestMultisigScriptSize asserts the size formula matches real scripts.
func TestMultisigScriptSize(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams

	session, err := keychain.NewSession(testSeed, params)
	require.NoError(t, err)
	defer session.Close()

	configs := []struct{ m, n int }{{2, 2}, {2, 3}, {3, 5}}
	for _, cfg := range configs {
		pubKeys := make([][]byte, cfg.n)
		for i := range pubKeys {
			node, err := session.DerivePath(
				fmt.Sprintf("m/84'/0'/0'/0/%d", i),
			)
			require.NoError(t, err)

			pubKey, err := node.ECPubKey()
			require.NoError(t, err)
			pubKeys[i] = pubKey.SerializeCompressed()
		}

		script, err := address.MultisigScript(cfg.m, pubKeys, params)
		require.NoError(t, err)
		require.Equal(t, MultisigScriptSize(cfg.n), len(script))
	}
}

// TestEstimateMultisigFee asserts the estimate is monotonic in input count
// and fee rate, and that segwit wrappings are cheaper than plain P2SH.
func TestEstimateMultisigFee(t *testing.T) {
	t.Parallel()

	outputs := []*wire.TxOut{wire.NewTxOut(5e7, make([]byte, 22))}

	feeOne, err := EstimateMultisigFee(2, 3, address.ScriptP2WSH, 1,
		outputs, 0, btcunit.NewSatPerVByte(2))
	require.NoError(t, err)
	require.Positive(t, int64(feeOne))

	feeTwo, err := EstimateMultisigFee(2, 3, address.ScriptP2WSH, 2,
		outputs, 0, btcunit.NewSatPerVByte(2))
	require.NoError(t, err)
	require.Greater(t, int64(feeTwo), int64(feeOne))

	feeFast, err := EstimateMultisigFee(2, 3, address.ScriptP2WSH, 1,
		outputs, 0, btcunit.NewSatPerVByte(10))
	require.NoError(t, err)
	require.Greater(t, int64(feeFast), int64(feeOne))

	feeLegacy, err := EstimateMultisigFee(2, 3, address.ScriptP2SH, 1,
		outputs, 0, btcunit.NewSatPerVByte(2))
	require.NoError(t, err)
	require.Greater(t, int64(feeLegacy), int64(feeOne))

	feeNested, err := EstimateMultisigFee(2, 3, address.ScriptNestedP2WSH,
		1, outputs, 0, btcunit.NewSatPerVByte(2))
	require.NoError(t, err)
	require.Greater(t, int64(feeNested), int64(feeOne))
	require.Less(t, int64(feeNested), int64(feeLegacy))
}

// newP2WPKH derives a native segwit address and its pkScript at the given
// leaf of the default account.
func newP2WPKH(t *testing.T, session *keychain.Session, change bool,
	index uint32) (string, string, []byte) {

	t.Helper()

	params := session.ChainParams()

	node, err := session.DeriveAddressNode(address.NativeSegWit, 0,
		change, index)
	require.NoError(t, err)

	pubKey, err := node.ECPubKey()
	require.NoError(t, err)

	addr, err := address.Generate(pubKey.SerializeCompressed(),
		address.NativeSegWit, params)
	require.NoError(t, err)

	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	path, err := keychain.AddressPath(address.NativeSegWit, 0, change,
		index, params)
	require.NoError(t, err)

	return addr.EncodeAddress(), path, pkScript
}

// TestBuildAndSignSingleSig walks the whole single-sig path: coin selection,
// fee computation, change creation, signing and script verification.
func TestBuildAndSignSingleSig(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams

	session, err := keychain.NewSession(testSeed, params)
	require.NoError(t, err)
	defer session.Close()

	resolver := NewSessionResolver(session)

	fundAddr, fundPath, fundScript := newP2WPKH(t, session, false, 0)
	resolver.AddKeyPath(fundAddr, fundPath)

	changeAddr, changePath, changeScript := newP2WPKH(t, session, true, 0)
	resolver.AddKeyPath(changeAddr, changePath)

	_, _, destScript := newP2WPKH(t, session, false, 1)

	var fundTxid chainhash.Hash
	fundTxid[0] = 0xaa

	utxos := []UTXO{{
		OutPoint: wire.OutPoint{Hash: fundTxid, Index: 1},
		Value:    1e8,
		PkScript: fundScript,
		Path:     fundPath,
	}}

	req := &BuildRequest{
		Outputs: []*wire.TxOut{wire.NewTxOut(4e7, destScript)},
		UTXOs:   utxos,
		FeeRate: btcunit.NewSatPerVByte(2),
		NewChangeScript: func() ([]byte, error) {
			return changeScript, nil
		},
		ChangeScriptSize: len(changeScript),
	}

	tx, err := Build(req)
	require.NoError(t, err)
	require.Len(t, tx.Tx.TxIn, 1)
	require.Len(t, tx.Tx.TxOut, 2)
	require.GreaterOrEqual(t, tx.ChangeIndex, 0)

	// The fee is the input surplus, and must be positive.
	var outSum int64
	for _, txOut := range tx.Tx.TxOut {
		outSum += txOut.Value
	}
	require.Positive(t, int64(tx.TotalInput)-outSum)

	// Sign verifies every input script internally.
	require.NoError(t, Sign(tx, resolver))
	require.NotEmpty(t, tx.Tx.TxIn[0].Witness)
}

// TestBuildRejectsBadOutputs asserts empty, non-positive and dust outputs are
// rejected before selection.
func TestBuildRejectsBadOutputs(t *testing.T) {
	t.Parallel()

	destScript := make([]byte, 22)
	destScript[0] = txscript.OP_0
	destScript[1] = 20

	testCases := []struct {
		name    string
		outputs []*wire.TxOut
		wantErr error
	}{
		{
			name:    "no outputs",
			outputs: nil,
			wantErr: ErrNoOutputs,
		},
		{
			name: "zero value",
			outputs: []*wire.TxOut{
				wire.NewTxOut(0, destScript),
			},
			wantErr: ErrNonPositiveOutput,
		},
		{
			name: "dust value",
			outputs: []*wire.TxOut{
				wire.NewTxOut(100, destScript),
			},
			wantErr: ErrDustOutput,
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Build(&BuildRequest{
				Outputs: tc.outputs,
				UTXOs:   testUTXOSet(1e8),
				FeeRate: btcunit.NewSatPerVByte(2),
				NewChangeScript: func() ([]byte, error) {
					return destScript, nil
				},
				ChangeScriptSize: len(destScript),
			})
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

// TestBuildInsufficientFunds asserts the typed funding error surfaces from
// the authoring loop.
func TestBuildInsufficientFunds(t *testing.T) {
	t.Parallel()

	destScript := make([]byte, 22)
	destScript[0] = txscript.OP_0
	destScript[1] = 20

	_, err := Build(&BuildRequest{
		Outputs: []*wire.TxOut{wire.NewTxOut(1e8, destScript)},
		UTXOs:   testUTXOSet(1e4),
		FeeRate: btcunit.NewSatPerVByte(2),
		NewChangeScript: func() ([]byte, error) {
			return destScript, nil
		},
		ChangeScriptSize: len(destScript),
	})

	var insufficientErr *InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
}
