// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/oakwallet/walletcore/address"
	"github.com/oakwallet/walletcore/pkg/btcunit"
)

const (
	// sigSize is the worst-case size of a DER encoded ECDSA signature
	// including the trailing sighash flag.
	sigSize = 73

	// txOverheadSize is the base-size overhead of any transaction:
	// version and locktime.
	txOverheadSize = 4 + 4

	// segwitOverheadSize is the marker and flag bytes added to the total
	// size of a transaction with at least one witness input.
	segwitOverheadSize = 2

	// inputBaseSize is the witness-free size of an input with an empty
	// scriptSig: the 36-byte outpoint, a 1-byte script length and the
	// 4-byte sequence.
	inputBaseSize = 36 + 1 + 4

	// witnessProgramPushSize is the scriptSig of a nested P2WSH input: a
	// single push of the 34-byte version-0 witness program.
	witnessProgramPushSize = 1 + 34
)

// MultisigScriptSize returns the serialized size of an m-of-n
// OP_CHECKMULTISIG script over compressed keys: two small-int opcodes, the
// checkmultisig opcode, and a 34-byte push per key.
func MultisigScriptSize(n int) int {
	return 3 + 34*n
}

// multisigWitnessSize returns the serialized witness for one m-of-n P2WSH
// input: the item-count varint, the empty dummy element consumed by
// OP_CHECKMULTISIG, m worst-case signatures, and the witness script itself.
func multisigWitnessSize(m, n int) int {
	scriptLen := MultisigScriptSize(n)

	size := 1 // Item count varint.
	size += 1 // Empty dummy item.
	size += m * (1 + sigSize)
	size += wire.VarIntSerializeSize(uint64(scriptLen)) + scriptLen

	return size
}

// multisigSigScriptSize returns the scriptSig for one m-of-n plain P2SH
// input: OP_0, m worst-case signature pushes, and the pushdata-wrapped
// redeem script.
func multisigSigScriptSize(m, n int) int {
	scriptLen := MultisigScriptSize(n)

	size := 1 // OP_0 dummy.
	size += m * (1 + sigSize)
	size += 2 + scriptLen // OP_PUSHDATA1, length byte, script.

	return size
}

// EstimateMultisigSize estimates the worst-case serialized sizes of a
// transaction spending numInputs outputs of one m-of-n multisig account, with
// the given outputs plus optionally a change output of changeScriptSize
// bytes. The estimate is an upper bound: every signature is assumed to take
// its maximum DER length, so the fee derived from it never underpays.
func EstimateMultisigSize(m, n int, scriptType address.ScriptType,
	numInputs int, txOuts []*wire.TxOut,
	changeScriptSize int) (btcunit.SizeEstimate, error) {

	var inputBase, inputWitness int
	switch scriptType {
	case address.ScriptP2SH:
		sigScript := multisigSigScriptSize(m, n)
		inputBase = 36 + 4 +
			wire.VarIntSerializeSize(uint64(sigScript)) + sigScript

	case address.ScriptNestedP2WSH:
		inputBase = 36 + 4 + 1 + witnessProgramPushSize
		inputWitness = multisigWitnessSize(m, n)

	case address.ScriptP2WSH:
		inputBase = inputBaseSize
		inputWitness = multisigWitnessSize(m, n)

	default:
		return btcunit.SizeEstimate{}, fmt.Errorf("%w: %v",
			address.ErrUnknownScriptType, scriptType)
	}

	outputsSize := 0
	numOutputs := len(txOuts)
	for _, txOut := range txOuts {
		outputsSize += txOut.SerializeSize()
	}
	if changeScriptSize > 0 {
		numOutputs++
		outputsSize += 8 +
			wire.VarIntSerializeSize(uint64(changeScriptSize)) +
			changeScriptSize
	}

	baseSize := txOverheadSize +
		wire.VarIntSerializeSize(uint64(numInputs)) +
		numInputs*inputBase +
		wire.VarIntSerializeSize(uint64(numOutputs)) +
		outputsSize

	totalSize := baseSize
	if inputWitness > 0 {
		totalSize += segwitOverheadSize + numInputs*inputWitness
	}

	return btcunit.SizeEstimate{
		BaseSize:  int64(baseSize),
		TotalSize: int64(totalSize),
	}, nil
}

// EstimateMultisigFee estimates the worst-case fee for a multisig spend at
// the given rate.
func EstimateMultisigFee(m, n int, scriptType address.ScriptType,
	numInputs int, txOuts []*wire.TxOut, changeScriptSize int,
	feeRate btcunit.SatPerVByte) (btcutil.Amount, error) {

	estimate, err := EstimateMultisigSize(m, n, scriptType, numInputs,
		txOuts, changeScriptSize)
	if err != nil {
		return 0, err
	}

	return feeRate.FeeForVSize(estimate.VSize()), nil
}

// EstimateSingleSigVSize estimates the virtual size of a single-sig spend
// with the given input mix. The heavy lifting is delegated to the txsizes
// tables that production wallets use for fee estimation.
func EstimateSingleSigVSize(numP2PKHIns, numP2WPKHIns, numNestedIns int,
	txOuts []*wire.TxOut, changeScriptSize int) btcunit.VByte {

	return btcunit.VByte(txsizes.EstimateVirtualSize(
		numP2PKHIns, 0, numP2WPKHIns, numNestedIns, txOuts,
		changeScriptSize,
	))
}

// ChangeScriptSize returns the pkScript size of a change output of the given
// address type.
func ChangeScriptSize(addrType address.Type) (int, error) {
	switch addrType {
	case address.Legacy:
		return txsizes.P2PKHPkScriptSize, nil
	case address.NestedSegWit:
		return txsizes.NestedP2WPKHPkScriptSize, nil
	case address.NativeSegWit:
		return txsizes.P2WPKHPkScriptSize, nil
	default:
		return 0, fmt.Errorf("%w: %v", address.ErrUnknownAddressType,
			addrType)
	}
}
