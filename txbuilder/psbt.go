// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/oakwallet/walletcore/address"
	"github.com/oakwallet/walletcore/pkg/btcunit"
)

var (
	// ErrMissingUtxoInfo is returned when a packet input carries neither
	// a witness UTXO nor the full previous transaction, leaving nothing
	// to sign against.
	ErrMissingUtxoInfo = errors.New("packet input is missing UTXO data")

	// ErrMissingScript is returned when a multisig packet input carries
	// no redeem or witness script.
	ErrMissingScript = errors.New("packet input is missing its script")

	// ErrPacketMismatch is returned when two packets being merged do not
	// describe the same unsigned transaction.
	ErrPacketMismatch = errors.New("packets describe different " +
		"transactions")
)

// SignatureError reports a freshly created signature that failed immediate
// verification. It should never happen with a healthy signer; when it does,
// the whole signing pass is aborted rather than emitting a packet that will
// fail at finalization.
type SignatureError struct {
	// InputIndex is the input whose signature did not verify.
	InputIndex int
}

// Error returns a human readable description of the error.
func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature for input %d failed verification",
		e.InputIndex)
}

// InsufficientSignaturesError reports an input that cannot be finalized
// because too few valid signatures were collected.
type InsufficientSignaturesError struct {
	// InputIndex is the input missing signatures.
	InputIndex int

	// Have is the number of valid signatures present.
	Have int

	// Need is the quorum's required signature count.
	Need int
}

// Error returns a human readable description of the error.
func (e *InsufficientSignaturesError) Error() string {
	return fmt.Sprintf("input %d has %d of %d required signatures",
		e.InputIndex, e.Have, e.Need)
}

// MultisigInput is one spendable multisig output offered to coin selection,
// with the script material every cosigner needs to sign it.
type MultisigInput struct {
	UTXO

	// RedeemScript is the P2SH redeem script, nil for native P2WSH.
	RedeemScript []byte

	// WitnessScript is the m-of-n script revealed in the witness, nil
	// for plain P2SH.
	WitnessScript []byte

	// PrevTx is the full funding transaction. It is required for plain
	// P2SH inputs, whose sighash does not commit to the input amount.
	PrevTx *wire.MsgTx

	// Derivations are the per-cosigner BIP-32 derivation records for
	// this output's keys, copied into the packet so signatures can be
	// attributed to cosigners.
	Derivations []*psbt.Bip32Derivation
}

// MultisigBuildRequest describes one multisig spend to assemble into a
// packet.
type MultisigBuildRequest struct {
	// M and N are the account quorum.
	M, N int

	// ScriptType is the account's script wrapping.
	ScriptType address.ScriptType

	// UTXOs is the spendable multisig set.
	UTXOs []MultisigInput

	// Outputs are the recipient outputs.
	Outputs []*wire.TxOut

	// FeeRate is the target fee rate.
	FeeRate btcunit.SatPerVByte

	// NewChangeScript produces the change script when selection
	// overshoots by more than dust.
	NewChangeScript func() ([]byte, error)

	// ChangeScriptSize is the serialized size of the change script.
	ChangeScriptSize int
}

// BuildMultisigPacket selects multisig coins, assembles the unsigned
// transaction and wraps it in a PSBT packet carrying everything a cosigner
// needs to sign offline: the spent UTXOs, the redeem and witness scripts and
// the sighash type. Fees use worst-case size estimates, so the realized rate
// is never below the requested one.
func BuildMultisigPacket(req *MultisigBuildRequest) (*psbt.Packet, error) {
	relayFeePerKb := req.FeeRate.ToSatPerKVByte()
	if err := validateOutputs(req.Outputs, relayFeePerKb); err != nil {
		return nil, err
	}

	var outputsSum btcutil.Amount
	for _, output := range req.Outputs {
		outputsSum += btcutil.Amount(output.Value)
	}

	shuffled, err := shuffleSlice(req.UTXOs)
	if err != nil {
		return nil, err
	}

	var available btcutil.Amount
	for _, utxo := range shuffled {
		available += utxo.Value
	}

	// Accumulate shuffled coins until they cover the outputs plus the
	// worst-case fee of a transaction with that many inputs and a change
	// output.
	var (
		selected []MultisigInput
		total    btcutil.Amount
		fee      btcutil.Amount
	)
	funded := false
	for _, utxo := range shuffled {
		selected = append(selected, utxo)
		total += utxo.Value

		fee, err = EstimateMultisigFee(
			req.M, req.N, req.ScriptType, len(selected),
			req.Outputs, req.ChangeScriptSize, req.FeeRate,
		)
		if err != nil {
			return nil, err
		}

		if total >= outputsSum+fee {
			funded = true
			break
		}
	}
	if !funded {
		return nil, &InsufficientFundsError{
			Required:  outputsSum + fee,
			Available: available,
		}
	}

	// Overshoot below dust is surrendered to the fee instead of creating
	// an unspendable change output.
	change := total - outputsSum - fee
	changeScript := []byte(nil)
	if !txrules.IsDustAmount(change, req.ChangeScriptSize,
		relayFeePerKb) {

		changeScript, err = req.NewChangeScript()
		if err != nil {
			return nil, err
		}
	}

	unsignedTx := wire.NewMsgTx(2)
	for _, utxo := range selected {
		outPoint := utxo.OutPoint
		unsignedTx.AddTxIn(wire.NewTxIn(&outPoint, nil, nil))
	}
	for _, output := range req.Outputs {
		unsignedTx.AddTxOut(output)
	}

	if changeScript != nil {
		changeOut := wire.NewTxOut(int64(change), changeScript)

		// Insert the change output at a random position so its index
		// does not mark it.
		n, err := rand.Int(rand.Reader,
			big.NewInt(int64(len(unsignedTx.TxOut)+1)))
		if err != nil {
			return nil, err
		}
		pos := int(n.Int64())

		unsignedTx.TxOut = append(unsignedTx.TxOut, nil)
		copy(unsignedTx.TxOut[pos+1:], unsignedTx.TxOut[pos:])
		unsignedTx.TxOut[pos] = changeOut
	}

	packet, err := psbt.NewFromUnsignedTx(unsignedTx)
	if err != nil {
		return nil, err
	}

	for i, utxo := range selected {
		pIn := &packet.Inputs[i]
		pIn.SighashType = txscript.SigHashAll
		pIn.RedeemScript = utxo.RedeemScript
		pIn.WitnessScript = utxo.WitnessScript
		pIn.Bip32Derivation = utxo.Derivations

		if utxo.WitnessScript != nil {
			pIn.WitnessUtxo = wire.NewTxOut(
				int64(utxo.Value), utxo.PkScript,
			)
		} else {
			if utxo.PrevTx == nil {
				return nil, fmt.Errorf("%w: input %d",
					ErrMissingUtxoInfo, i)
			}
			pIn.NonWitnessUtxo = utxo.PrevTx
		}
	}

	log.Debugf("Built multisig packet: %d inputs, %d outputs, fee %v",
		len(unsignedTx.TxIn), len(unsignedTx.TxOut), fee)

	return packet, nil
}

// inputAmount returns the value of the output a packet input spends.
func inputAmount(packet *psbt.Packet, idx int) (btcutil.Amount, []byte,
	error) {

	pIn := &packet.Inputs[idx]
	switch {
	case pIn.WitnessUtxo != nil:
		return btcutil.Amount(pIn.WitnessUtxo.Value),
			pIn.WitnessUtxo.PkScript, nil

	case pIn.NonWitnessUtxo != nil:
		prevIndex := packet.UnsignedTx.TxIn[idx].
			PreviousOutPoint.Index
		if prevIndex >= uint32(len(pIn.NonWitnessUtxo.TxOut)) {
			return 0, nil, fmt.Errorf("%w: input %d references "+
				"output %d", ErrMissingUtxoInfo, idx, prevIndex)
		}

		prevOut := pIn.NonWitnessUtxo.TxOut[prevIndex]
		return btcutil.Amount(prevOut.Value), prevOut.PkScript, nil

	default:
		return 0, nil, fmt.Errorf("%w: input %d", ErrMissingUtxoInfo,
			idx)
	}
}

// signingScript returns the multisig script an input is signed against.
func signingScript(pIn *psbt.PInput) ([]byte, error) {
	if pIn.WitnessScript != nil {
		return pIn.WitnessScript, nil
	}
	if pIn.RedeemScript != nil {
		return pIn.RedeemScript, nil
	}

	return nil, ErrMissingScript
}

// scriptPubKeys extracts the public keys of an m-of-n script, in script
// order.
func scriptPubKeys(script []byte, params *chaincfg.Params) ([][]byte, error) {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err != nil {
		return nil, err
	}
	if class != txscript.MultiSigTy {
		return nil, fmt.Errorf("%w: script class %v", ErrMissingScript,
			class)
	}

	keys := make([][]byte, len(addrs))
	for i, addr := range addrs {
		keys[i] = addr.ScriptAddress()
	}

	return keys, nil
}

// prevOutFetcher builds a fetcher over every spent output in a packet, as
// needed for segwit sighash computation.
func prevOutFetcher(packet *psbt.Packet) (*txscript.MultiPrevOutFetcher,
	error) {

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range packet.UnsignedTx.TxIn {
		value, pkScript, err := inputAmount(packet, i)
		if err != nil {
			return nil, err
		}

		fetcher.AddPrevOut(txIn.PreviousOutPoint, wire.NewTxOut(
			int64(value), pkScript,
		))
	}

	return fetcher, nil
}

// inputSighash computes the digest one input is signed over.
func inputSighash(packet *psbt.Packet, idx int,
	sigHashes *txscript.TxSigHashes) ([]byte, error) {

	pIn := &packet.Inputs[idx]
	script, err := signingScript(pIn)
	if err != nil {
		return nil, fmt.Errorf("%w: input %d", err, idx)
	}

	hashType := pIn.SighashType
	if hashType == 0 {
		hashType = txscript.SigHashAll
	}

	// Witness inputs commit to the spent amount, legacy inputs do not.
	if pIn.WitnessScript != nil {
		value, _, err := inputAmount(packet, idx)
		if err != nil {
			return nil, err
		}

		return txscript.CalcWitnessSigHash(
			script, sigHashes, hashType, packet.UnsignedTx, idx,
			int64(value),
		)
	}

	return txscript.CalcSignatureHash(
		script, hashType, packet.UnsignedTx, idx,
	)
}

// SignPacket adds this wallet's partial signature to every packet input whose
// multisig script contains the given key. Signing is idempotent: inputs
// already carrying a signature for the key are skipped, so replaying a
// packet through the same signer never produces duplicates. Every created
// signature is verified against its digest before it is attached; a
// verification failure aborts the pass with the offending input's index.
func SignPacket(packet *psbt.Packet, privKey *btcec.PrivateKey,
	params *chaincfg.Params) (int, error) {

	pubKey := privKey.PubKey().SerializeCompressed()

	fetcher, err := prevOutFetcher(packet)
	if err != nil {
		return 0, err
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	signed := 0
	for i := range packet.Inputs {
		pIn := &packet.Inputs[i]

		script, err := signingScript(pIn)
		if err != nil {
			return signed, fmt.Errorf("%w: input %d", err, i)
		}

		scriptKeys, err := scriptPubKeys(script, params)
		if err != nil {
			return signed, err
		}

		if !containsKey(scriptKeys, pubKey) {
			continue
		}

		if hasPartialSig(pIn, pubKey) {
			continue
		}

		digest, err := inputSighash(packet, i, sigHashes)
		if err != nil {
			return signed, err
		}

		sig := ecdsa.Sign(privKey, digest)
		if !sig.Verify(digest, privKey.PubKey()) {
			return signed, &SignatureError{InputIndex: i}
		}

		hashType := pIn.SighashType
		if hashType == 0 {
			hashType = txscript.SigHashAll
		}

		pIn.PartialSigs = append(pIn.PartialSigs, &psbt.PartialSig{
			PubKey:    pubKey,
			Signature: append(sig.Serialize(), byte(hashType)),
		})
		signed++
	}

	log.Debugf("Signed %d packet inputs", signed)

	return signed, nil
}

// containsKey reports whether pubKey appears in the key list.
func containsKey(keys [][]byte, pubKey []byte) bool {
	for _, key := range keys {
		if bytes.Equal(key, pubKey) {
			return true
		}
	}

	return false
}

// hasPartialSig reports whether an input already carries a signature for
// pubKey.
func hasPartialSig(pIn *psbt.PInput, pubKey []byte) bool {
	for _, partialSig := range pIn.PartialSigs {
		if bytes.Equal(partialSig.PubKey, pubKey) {
			return true
		}
	}

	return false
}

// clonePacket deep-copies a packet through its serialization.
func clonePacket(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, err
	}

	return psbt.NewFromRawBytes(bytes.NewReader(buf.Bytes()), false)
}

// MergePackets combines the partial signatures and UTXO metadata of two
// packets describing the same unsigned transaction into a new packet.
// Neither input packet is modified. Signatures present in both are
// deduplicated by public key; packets for different transactions are
// rejected.
func MergePackets(base, other *psbt.Packet) (*psbt.Packet, error) {
	baseTxid := base.UnsignedTx.TxHash()
	otherTxid := other.UnsignedTx.TxHash()
	if baseTxid != otherTxid {
		return nil, fmt.Errorf("%w: %v vs %v", ErrPacketMismatch,
			baseTxid, otherTxid)
	}

	merged, err := clonePacket(base)
	if err != nil {
		return nil, err
	}

	for i := range merged.Inputs {
		dst := &merged.Inputs[i]
		src := &other.Inputs[i]

		for _, partialSig := range src.PartialSigs {
			if hasPartialSig(dst, partialSig.PubKey) {
				continue
			}

			dst.PartialSigs = append(dst.PartialSigs, partialSig)
		}

		if dst.WitnessUtxo == nil {
			dst.WitnessUtxo = src.WitnessUtxo
		}
		if dst.NonWitnessUtxo == nil {
			dst.NonWitnessUtxo = src.NonWitnessUtxo
		}
		if dst.RedeemScript == nil {
			dst.RedeemScript = src.RedeemScript
		}
		if dst.WitnessScript == nil {
			dst.WitnessScript = src.WitnessScript
		}
	}

	return merged, nil
}

// serializeWitness encodes a witness stack in the wire format used by
// PSBT final-witness fields.
func serializeWitness(items wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	err := wire.WriteVarInt(&buf, 0, uint64(len(items)))
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// FinalizePacket checks that every input carries at least m valid signatures,
// assembles the final scriptSigs and witnesses with the signatures in script
// key order, extracts the network-ready transaction and runs every input
// script as a last backstop. The packet is modified in place; the returned
// transaction is ready for broadcast.
func FinalizePacket(packet *psbt.Packet, m int,
	params *chaincfg.Params) (*wire.MsgTx, error) {

	fetcher, err := prevOutFetcher(packet)
	if err != nil {
		return nil, err
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	for i := range packet.Inputs {
		pIn := &packet.Inputs[i]

		script, err := signingScript(pIn)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d", err, i)
		}

		scriptKeys, err := scriptPubKeys(script, params)
		if err != nil {
			return nil, err
		}

		digest, err := inputSighash(packet, i, sigHashes)
		if err != nil {
			return nil, err
		}

		// Collect one verified signature per script key, walking the
		// keys in script order so the final stack satisfies
		// OP_CHECKMULTISIG's in-order matching.
		var orderedSigs [][]byte
		for _, key := range scriptKeys {
			if len(orderedSigs) == m {
				break
			}

			sigBytes := findPartialSig(pIn, key)
			if sigBytes == nil {
				continue
			}

			if !verifyRawSig(sigBytes, key, digest) {
				continue
			}

			orderedSigs = append(orderedSigs, sigBytes)
		}

		if len(orderedSigs) < m {
			return nil, &InsufficientSignaturesError{
				InputIndex: i,
				Have:       len(orderedSigs),
				Need:       m,
			}
		}

		if pIn.WitnessScript != nil {
			// The leading empty element feeds the extra item
			// OP_CHECKMULTISIG pops.
			witness := wire.TxWitness{[]byte{}}
			witness = append(witness, orderedSigs...)
			witness = append(witness, pIn.WitnessScript)

			pIn.FinalScriptWitness, err = serializeWitness(witness)
			if err != nil {
				return nil, err
			}

			// Nested P2WSH also pushes the witness program as
			// the sole scriptSig element.
			if pIn.RedeemScript != nil {
				pIn.FinalScriptSig, err = txscript.
					NewScriptBuilder().
					AddData(pIn.RedeemScript).
					Script()
				if err != nil {
					return nil, err
				}
			}
		} else {
			builder := txscript.NewScriptBuilder().
				AddOp(txscript.OP_FALSE)
			for _, sig := range orderedSigs {
				builder.AddData(sig)
			}
			builder.AddData(pIn.RedeemScript)

			pIn.FinalScriptSig, err = builder.Script()
			if err != nil {
				return nil, err
			}
		}
	}

	finalTx, err := psbt.Extract(packet)
	if err != nil {
		return nil, err
	}

	// Run every input script before handing the transaction out.
	prevScripts := make([][]byte, len(finalTx.TxIn))
	inputValues := make([]btcutil.Amount, len(finalTx.TxIn))
	for i := range finalTx.TxIn {
		value, pkScript, err := inputAmount(packet, i)
		if err != nil {
			return nil, err
		}

		prevScripts[i] = pkScript
		inputValues[i] = value
	}

	if err := VerifyInputScripts(finalTx, prevScripts,
		inputValues); err != nil {

		return nil, err
	}

	log.Infof("Finalized transaction %v with %d inputs",
		finalTx.TxHash(), len(finalTx.TxIn))

	return finalTx, nil
}

// findPartialSig returns the signature an input carries for pubKey, or nil.
func findPartialSig(pIn *psbt.PInput, pubKey []byte) []byte {
	for _, partialSig := range pIn.PartialSigs {
		if bytes.Equal(partialSig.PubKey, pubKey) {
			return partialSig.Signature
		}
	}

	return nil
}

// verifyRawSig checks a DER signature with a trailing sighash byte against a
// digest and compressed public key.
func verifyRawSig(sigBytes, pubKeyBytes, digest []byte) bool {
	if len(sigBytes) < 1 {
		return false
	}

	sig, err := ecdsa.ParseDERSignature(sigBytes[:len(sigBytes)-1])
	if err != nil {
		return false
	}

	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(digest, pubKey)
}
