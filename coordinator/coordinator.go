// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coordinator moves partially signed transactions between cosigners:
// text and QR-chunk encodings for transport, validation on import, and a
// persistent store tracking every transaction awaiting signatures.
package coordinator

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/oakwallet/walletcore/address"
)

var (
	// ErrNotAPacket is returned when an imported string decodes as
	// neither hex nor base64, or decodes to something that is not a
	// valid packet.
	ErrNotAPacket = errors.New("data is not a valid packet encoding")

	// ErrMissingInputInfo is returned when an imported packet has an
	// input without the spent-output data needed to sign or audit it.
	ErrMissingInputInfo = errors.New("packet input is missing spent " +
		"output data")

	// ErrNonPositiveOutput is returned when an imported packet pays a
	// zero or negative output.
	ErrNonPositiveOutput = errors.New("packet output is not positive")
)

// WarningCode classifies a non-fatal finding during packet import.
type WarningCode uint8

const (
	// WarnExcessiveFee flags a fee above a tenth of the amount being
	// sent, which usually indicates a fat-fingered fee rate.
	WarnExcessiveFee WarningCode = iota

	// WarnNonStandardOutput flags an output whose script does not parse
	// as any standard template.
	WarnNonStandardOutput

	// WarnNetworkMismatch flags a recipient address that belongs to a
	// different network than the wallet.
	WarnNetworkMismatch
)

// Warning is one non-fatal finding a caller should surface to the user
// before acting on an imported packet.
type Warning struct {
	// Code classifies the finding.
	Code WarningCode

	// Message is the human readable description.
	Message string
}

// excessiveFeeFactor is the input-total fraction above which a fee is
// flagged.
const excessiveFeeFactor = 10

// Export is a packet rendered for transport, together with the summary a
// cosigner reviews before signing.
type Export struct {
	// Base64 is the canonical text encoding of the packet.
	Base64 string

	// Hex is the hexadecimal encoding of the packet, accepted by
	// hardware tooling that does not speak base64.
	Hex string

	// Txid is the identifier of the unsigned transaction.
	Txid chainhash.Hash

	// NumInputs and NumOutputs describe the transaction shape.
	NumInputs, NumOutputs int

	// Fee is the transaction fee, derivable because every input carries
	// its spent output.
	Fee btcutil.Amount

	// SigCounts is the number of partial signatures per input.
	SigCounts []int

	// Finalized reports whether every input carries its final script.
	Finalized bool
}

// ExportPacket renders a packet into both transport encodings and summarizes
// it for review.
func ExportPacket(packet *psbt.Packet) (*Export, error) {
	encoded, err := packet.B64Encode()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, err
	}

	fee, err := packet.GetTxFee()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingInputInfo, err)
	}

	sigCounts := make([]int, len(packet.Inputs))
	for i := range packet.Inputs {
		sigCounts[i] = len(packet.Inputs[i].PartialSigs)
	}

	return &Export{
		Base64:     encoded,
		Hex:        hex.EncodeToString(buf.Bytes()),
		Txid:       packet.UnsignedTx.TxHash(),
		NumInputs:  len(packet.UnsignedTx.TxIn),
		NumOutputs: len(packet.UnsignedTx.TxOut),
		Fee:        fee,
		SigCounts:  sigCounts,
		Finalized:  packet.IsComplete(),
	}, nil
}

// decodePacket turns a transport string into a packet. Hex is attempted
// first: the hex alphabet is a strict subset of base64's, so any string that
// hex-decodes is hex, while a real base64 packet always begins with the
// magic "cHNidP8" and never survives a hex decode.
func decodePacket(encoded string) (*psbt.Packet, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty input", ErrNotAPacket)
	}

	if raw, err := hex.DecodeString(trimmed); err == nil {
		packet, err := psbt.NewFromRawBytes(
			bytes.NewReader(raw), false,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotAPacket, err)
		}

		return packet, nil
	}

	packet, err := psbt.NewFromRawBytes(strings.NewReader(trimmed), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAPacket, err)
	}

	return packet, nil
}

// ImportPacket decodes a packet received from another cosigner and audits
// it. Structural problems (undecodable data, inputs without spent-output
// data, non-positive outputs) are errors; suspicious but valid constructs
// (excessive fee, non-standard outputs) come back as warnings for the user
// to judge.
func ImportPacket(encoded string, params *chaincfg.Params) (*psbt.Packet,
	[]Warning, error) {

	packet, err := decodePacket(encoded)
	if err != nil {
		return nil, nil, err
	}

	for i := range packet.Inputs {
		pIn := &packet.Inputs[i]
		if pIn.WitnessUtxo == nil && pIn.NonWitnessUtxo == nil {
			return nil, nil, fmt.Errorf("%w: input %d",
				ErrMissingInputInfo, i)
		}
	}

	var (
		warnings  []Warning
		outputSum btcutil.Amount
	)
	for i, txOut := range packet.UnsignedTx.TxOut {
		if txOut.Value <= 0 {
			return nil, nil, fmt.Errorf("%w: output %d",
				ErrNonPositiveOutput, i)
		}
		outputSum += btcutil.Amount(txOut.Value)

		scriptClass, _, _, err := txscript.ExtractPkScriptAddrs(
			txOut.PkScript, params,
		)
		if err != nil || scriptClass == txscript.NonStandardTy {
			warnings = append(warnings, Warning{
				Code: WarnNonStandardOutput,
				Message: fmt.Sprintf("output %d has a "+
					"non-standard script", i),
			})
		}
	}

	fee, err := packet.GetTxFee()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMissingInputInfo, err)
	}

	// The fee is judged against the total input value, which is the sum
	// of everything being spent.
	inputTotal := outputSum + fee
	if fee > inputTotal/excessiveFeeFactor {
		warnings = append(warnings, Warning{
			Code: WarnExcessiveFee,
			Message: fmt.Sprintf("fee %v exceeds 10%% of the %v "+
				"total input value", fee, inputTotal),
		})
	}

	log.Debugf("Imported packet %v with %d warnings",
		packet.UnsignedTx.TxHash(), len(warnings))

	return packet, warnings, nil
}

// ValidateRecipient checks a recipient address string before a transaction
// is built for it. A syntactically valid address of the wrong network is
// reported as a warning alongside the hard error, so the user learns what
// actually went wrong.
func ValidateRecipient(addr string, params *chaincfg.Params) ([]Warning,
	error) {

	if address.Validate(addr, params) {
		return nil, nil
	}

	// The address did not parse for our network. If it parses for some
	// network, tell the user it is a network mix-up rather than a typo.
	if _, err := address.DetectType(addr); err == nil {
		return []Warning{{
			Code: WarnNetworkMismatch,
			Message: fmt.Sprintf("address %s belongs to a "+
				"different network", addr),
		}}, address.ErrUnsupportedAddress
	}

	return nil, address.ErrUnsupportedAddress
}

// UnsignedTxID returns the identifier of a packet's unsigned transaction,
// the key under which cosigners track it.
func UnsignedTxID(packet *psbt.Packet) chainhash.Hash {
	return packet.UnsignedTx.TxHash()
}
