// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/oakwallet/walletcore/address"
	"github.com/oakwallet/walletcore/keychain"
	"github.com/oakwallet/walletcore/multisig"
	"github.com/oakwallet/walletcore/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// msTestSeeds are the wallets of a 2-of-3 quorum.
var msTestSeeds = [][]byte{
	{
		0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	},
	{
		0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
		0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f,
	},
	{
		0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27,
		0x28, 0x29, 0x2a, 0x2b, 0x2c, 0x2d, 0x2e, 0x2f,
	},
}

// msFixture is one assembled 2-of-3 account with the sessions behind every
// cosigner.
type msFixture struct {
	params   *chaincfg.Params
	account  *multisig.Account
	sessions []*keychain.Session
}

// newMsFixture assembles a 2-of-3 account of the given script type.
func newMsFixture(t *testing.T, scriptType address.ScriptType) *msFixture {
	t.Helper()

	params := &chaincfg.MainNetParams

	sessions := make([]*keychain.Session, len(msTestSeeds))
	cosigners := make([]multisig.Cosigner, len(msTestSeeds))
	for i, seed := range msTestSeeds {
		session, err := keychain.NewSession(seed, params)
		require.NoError(t, err)
		t.Cleanup(session.Close)

		xpub, fp, err := multisig.ExportAccountXpub(session,
			scriptType, 0)
		require.NoError(t, err)

		sessions[i] = session
		cosigners[i] = multisig.Cosigner{
			Name:        fmt.Sprintf("cosigner-%d", i),
			Xpub:        xpub,
			Fingerprint: fp,
		}
	}
	cosigners[0].Self = true

	account, err := multisig.NewAccount("quorum",
		multisig.Config{M: 2, N: 3}, scriptType, 0, cosigners, params)
	require.NoError(t, err)

	return &msFixture{
		params:   params,
		account:  account,
		sessions: sessions,
	}
}

// leafPrivKey derives the account leaf key of one cosigner.
func (f *msFixture) leafPrivKey(t *testing.T, cosigner int, change bool,
	index uint32) *btcec.PrivateKey {

	t.Helper()

	accountPath, err := multisig.DerivationPath(f.account.ScriptType, 0,
		f.params)
	require.NoError(t, err)

	chain := keychain.ExternalChain
	if change {
		chain = keychain.InternalChain
	}

	node, err := f.sessions[cosigner].DerivePath(fmt.Sprintf("%s/%d/%d",
		accountPath, chain, index))
	require.NoError(t, err)

	privKey, err := node.ECPrivKey()
	require.NoError(t, err)

	return privKey
}

// fundedInput derives multisig address 0 and fakes a funding output paying
// it.
func (f *msFixture) fundedInput(t *testing.T,
	value btcutil.Amount) MultisigInput {

	t.Helper()

	msAddr, err := f.account.DeriveAddress(false, 0)
	require.NoError(t, err)

	pkScript, err := txscript.PayToAddrScript(msAddr.Address)
	require.NoError(t, err)

	derivations, err := f.account.Bip32Derivations(false, 0)
	require.NoError(t, err)

	// A fake coinbase-like funding transaction, needed verbatim for
	// legacy P2SH signing.
	fundingTx := wire.NewMsgTx(2)
	var dummyTxid chainhash.Hash
	dummyTxid[0] = 0x01
	fundingTx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: dummyTxid}, nil, nil,
	))
	fundingTx.AddTxOut(wire.NewTxOut(int64(value), pkScript))

	return MultisigInput{
		UTXO: UTXO{
			OutPoint: wire.OutPoint{
				Hash:  fundingTx.TxHash(),
				Index: 0,
			},
			Value:    value,
			PkScript: pkScript,
		},
		RedeemScript:  msAddr.RedeemScript,
		WitnessScript: msAddr.WitnessScript,
		PrevTx:        fundingTx,
		Derivations:   derivations,
	}
}

// buildRequest wraps one funded input into a spend request.
func (f *msFixture) buildRequest(t *testing.T,
	input MultisigInput) *MultisigBuildRequest {

	t.Helper()

	// Change returns to multisig address 1.
	changeAddr, err := f.account.DeriveAddress(true, 0)
	require.NoError(t, err)
	changeScript, err := txscript.PayToAddrScript(changeAddr.Address)
	require.NoError(t, err)

	destScript := make([]byte, 22)
	destScript[0] = txscript.OP_0
	destScript[1] = 20

	return &MultisigBuildRequest{
		M:          f.account.Config.M,
		N:          f.account.Config.N,
		ScriptType: f.account.ScriptType,
		UTXOs:      []MultisigInput{input},
		Outputs: []*wire.TxOut{
			wire.NewTxOut(4e7, destScript),
		},
		FeeRate: btcunit.NewSatPerVByte(2),
		NewChangeScript: func() ([]byte, error) {
			return changeScript, nil
		},
		ChangeScriptSize: len(changeScript),
	}
}

// TestMultisigPacketLifecycle exercises build, distributed signing, merge and
// finalization for every script wrapping. Finalization executes the scripts,
// so a pass here means the produced transactions actually spend.
func TestMultisigPacketLifecycle(t *testing.T) {
	t.Parallel()

	scriptTypes := []address.ScriptType{
		address.ScriptP2SH,
		address.ScriptNestedP2WSH,
		address.ScriptP2WSH,
	}

	for _, scriptType := range scriptTypes {
		scriptType := scriptType

		t.Run(scriptType.String(), func(t *testing.T) {
			t.Parallel()

			fixture := newMsFixture(t, scriptType)
			input := fixture.fundedInput(t, 1e8)
			req := fixture.buildRequest(t, input)

			packet, err := BuildMultisigPacket(req)
			require.NoError(t, err)
			require.Len(t, packet.Inputs, 1)
			require.Len(t, packet.UnsignedTx.TxOut, 2)
			require.Len(t, packet.Inputs[0].Bip32Derivation, 3)

			// Finalizing without signatures reports the shortfall
			// on a clone, leaving the packet reusable.
			unsigned, err := clonePacket(packet)
			require.NoError(t, err)
			_, err = FinalizePacket(unsigned, 2, fixture.params)
			var missingErr *InsufficientSignaturesError
			require.ErrorAs(t, err, &missingErr)
			require.Equal(t, 0, missingErr.Have)
			require.Equal(t, 2, missingErr.Need)

			// Cosigners 0 and 1 sign independent copies, as they
			// would on separate machines.
			key0 := fixture.leafPrivKey(t, 0, false, 0)
			key1 := fixture.leafPrivKey(t, 1, false, 0)

			copy0, err := clonePacket(packet)
			require.NoError(t, err)
			copy1, err := clonePacket(packet)
			require.NoError(t, err)

			signed, err := SignPacket(copy0, key0, fixture.params)
			require.NoError(t, err)
			require.Equal(t, 1, signed)

			// Signing again with the same key is a no-op.
			signed, err = SignPacket(copy0, key0, fixture.params)
			require.NoError(t, err)
			require.Zero(t, signed)

			signed, err = SignPacket(copy1, key1, fixture.params)
			require.NoError(t, err)
			require.Equal(t, 1, signed)

			// One signature is not enough for the 2-of-3 quorum.
			oneSig, err := clonePacket(copy0)
			require.NoError(t, err)
			_, err = FinalizePacket(oneSig, 2, fixture.params)
			require.ErrorAs(t, err, &missingErr)
			require.Equal(t, 1, missingErr.Have)

			merged, err := MergePackets(copy0, copy1)
			require.NoError(t, err)
			require.Len(t, merged.Inputs[0].PartialSigs, 2)

			// Merging must not have touched the sources.
			require.Len(t, copy0.Inputs[0].PartialSigs, 1)
			require.Len(t, copy1.Inputs[0].PartialSigs, 1)

			finalTx, err := FinalizePacket(merged, 2,
				fixture.params)
			require.NoError(t, err)
			require.Len(t, finalTx.TxIn, 1)

			// A fully segwit spend keeps the unsigned txid, since
			// witnesses do not enter the txid.
			if scriptType == address.ScriptP2WSH {
				require.Equal(t,
					packet.UnsignedTx.TxHash(),
					finalTx.TxHash())
			}
		})
	}
}

// TestMergePacketsRejectsMismatch asserts packets for different transactions
// cannot be merged.
func TestMergePacketsRejectsMismatch(t *testing.T) {
	t.Parallel()

	fixture := newMsFixture(t, address.ScriptP2WSH)

	packetA, err := BuildMultisigPacket(
		fixture.buildRequest(t, fixture.fundedInput(t, 1e8)),
	)
	require.NoError(t, err)

	packetB, err := BuildMultisigPacket(
		fixture.buildRequest(t, fixture.fundedInput(t, 2e8)),
	)
	require.NoError(t, err)

	_, err = MergePackets(packetA, packetB)
	require.ErrorIs(t, err, ErrPacketMismatch)
}

// TestBuildMultisigPacketInsufficientFunds asserts the typed funding error.
func TestBuildMultisigPacketInsufficientFunds(t *testing.T) {
	t.Parallel()

	fixture := newMsFixture(t, address.ScriptP2WSH)
	req := fixture.buildRequest(t, fixture.fundedInput(t, 1e4))

	_, err := BuildMultisigPacket(req)
	var insufficientErr *InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
}

// TestSignPacketIgnoresForeignKey asserts a key outside the quorum signs
// nothing.
func TestSignPacketIgnoresForeignKey(t *testing.T) {
	t.Parallel()

	fixture := newMsFixture(t, address.ScriptP2WSH)
	packet, err := BuildMultisigPacket(
		fixture.buildRequest(t, fixture.fundedInput(t, 1e8)),
	)
	require.NoError(t, err)

	foreign, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	signed, err := SignPacket(packet, foreign, fixture.params)
	require.NoError(t, err)
	require.Zero(t, signed)
	require.Empty(t, packet.Inputs[0].PartialSigs)
}

// TestPacketBase64RoundTrip asserts a signed packet survives its text
// encoding, which is how cosigners actually exchange it.
func TestPacketBase64RoundTrip(t *testing.T) {
	t.Parallel()

	fixture := newMsFixture(t, address.ScriptP2WSH)
	packet, err := BuildMultisigPacket(
		fixture.buildRequest(t, fixture.fundedInput(t, 1e8)),
	)
	require.NoError(t, err)

	key0 := fixture.leafPrivKey(t, 0, false, 0)
	_, err = SignPacket(packet, key0, fixture.params)
	require.NoError(t, err)

	encoded, err := packet.B64Encode()
	require.NoError(t, err)

	decoded, err := psbt.NewFromRawBytes(
		strings.NewReader(encoded), true,
	)
	require.NoError(t, err)
	require.Equal(t, packet.UnsignedTx.TxHash(),
		decoded.UnsignedTx.TxHash())
	require.Len(t, decoded.Inputs[0].PartialSigs, 1)
}
