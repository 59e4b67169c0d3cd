// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txbuilder assembles, signs and verifies wallet transactions. Coin
// selection shuffles the spendable set before accumulating, fees are computed
// from worst-case size estimates, and every produced signature is executed
// against the spent script before a transaction leaves the package.
package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/oakwallet/walletcore/pkg/btcunit"
)

var (
	// ErrNoOutputs is returned when a transaction is requested with no
	// outputs.
	ErrNoOutputs = errors.New("transaction has no outputs")

	// ErrNonPositiveOutput is returned when an output value is zero or
	// negative.
	ErrNonPositiveOutput = errors.New("output value must be positive")

	// ErrDustOutput is returned when an output is below the dust
	// threshold for its script type.
	ErrDustOutput = errors.New("output is dust")

	// ErrScriptVerify is returned when a freshly signed input fails
	// script execution. A transaction that trips this error must never be
	// broadcast.
	ErrScriptVerify = errors.New("input script verification failed")
)

// KeyResolver hands the signer the secrets behind wallet addresses. It is the
// only interface through which private keys reach transaction construction,
// so custody code can wrap it with locking or audit policies.
type KeyResolver interface {
	// ResolveKey returns the private key for an address and whether its
	// public key is serialized compressed.
	ResolveKey(addr btcutil.Address) (*btcec.PrivateKey, bool, error)

	// ResolveScript returns the redeem or witness script behind a
	// script-hash address.
	ResolveScript(addr btcutil.Address) ([]byte, error)

	// ChainParams returns the network the resolver's keys belong to.
	ChainParams() *chaincfg.Params
}

// secretsSource adapts a KeyResolver to the interface the txauthor signing
// code expects.
type secretsSource struct {
	KeyResolver
}

func (s secretsSource) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool,
	error) {

	return s.ResolveKey(addr)
}

func (s secretsSource) GetScript(addr btcutil.Address) ([]byte, error) {
	return s.ResolveScript(addr)
}

// A compile time check to ensure secretsSource satisfies the txauthor
// interface.
var _ txauthor.SecretsSource = (*secretsSource)(nil)

// BuildRequest describes one transaction to assemble.
type BuildRequest struct {
	// Outputs are the recipient outputs, fully formed.
	Outputs []*wire.TxOut

	// UTXOs is the spendable set selection may draw from.
	UTXOs []UTXO

	// FeeRate is the target fee rate.
	FeeRate btcunit.SatPerVByte

	// NewChangeScript produces the change output script when selection
	// overshoots. It is only invoked if change is actually needed.
	NewChangeScript func() ([]byte, error)

	// ChangeScriptSize is the serialized size of the script
	// NewChangeScript will return, used during fee estimation.
	ChangeScriptSize int
}

// validateOutputs rejects empty, non-positive and dust outputs before any
// coin selection happens.
func validateOutputs(outputs []*wire.TxOut,
	relayFeePerKb btcutil.Amount) error {

	if len(outputs) == 0 {
		return ErrNoOutputs
	}

	for i, output := range outputs {
		if output.Value <= 0 {
			return fmt.Errorf("%w: output %d", ErrNonPositiveOutput,
				i)
		}

		if txrules.IsDustOutput(output, relayFeePerKb) {
			return fmt.Errorf("%w: output %d pays %v", ErrDustOutput,
				i, btcutil.Amount(output.Value))
		}
	}

	return nil
}

// Build selects coins and assembles an unsigned transaction paying the
// requested outputs at the requested fee rate. Inputs are drawn in
// cryptographically shuffled order, change below dust is dropped into the fee
// by the underlying authoring code, and an emitted change output is moved to
// a random position so its index leaks nothing.
func Build(req *BuildRequest) (*txauthor.AuthoredTx, error) {
	relayFeePerKb := req.FeeRate.ToSatPerKVByte()
	if err := validateOutputs(req.Outputs, relayFeePerKb); err != nil {
		return nil, err
	}

	inputSource, err := NewInputSource(req.UTXOs)
	if err != nil {
		return nil, err
	}

	changeSource := &txauthor.ChangeSource{
		NewScript:  req.NewChangeScript,
		ScriptSize: req.ChangeScriptSize,
	}

	tx, err := txauthor.NewUnsignedTransaction(
		req.Outputs, relayFeePerKb, inputSource, changeSource,
	)
	if err != nil {
		return nil, err
	}

	if tx.ChangeIndex >= 0 {
		tx.RandomizeChangePosition()
	}

	log.Debugf("Built unsigned transaction: %d inputs, %d outputs, "+
		"fee rate %v", len(tx.Tx.TxIn), len(tx.Tx.TxOut), req.FeeRate)

	return tx, nil
}

// Sign adds input scripts to every input of an authored transaction and then
// executes each one. Signing and verification are deliberately inseparable:
// there is no way to obtain a signed transaction from this package that has
// not passed script execution.
func Sign(tx *txauthor.AuthoredTx, resolver KeyResolver) error {
	err := tx.AddAllInputScripts(secretsSource{resolver})
	if err != nil {
		return err
	}

	return VerifyInputScripts(tx.Tx, tx.PrevScripts, tx.PrevInputValues)
}

// VerifyInputScripts executes the script of every input of a fully signed
// transaction against the outputs it spends.
func VerifyInputScripts(tx *wire.MsgTx, prevScripts [][]byte,
	inputValues []btcutil.Amount) error {

	if len(prevScripts) != len(tx.TxIn) ||
		len(inputValues) != len(tx.TxIn) {

		return fmt.Errorf("%w: have %d inputs, %d scripts and %d "+
			"values", ErrScriptVerify, len(tx.TxIn),
			len(prevScripts), len(inputValues))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range tx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, wire.NewTxOut(
			int64(inputValues[i]), prevScripts[i],
		))
	}
	hashCache := txscript.NewTxSigHashes(tx, fetcher)

	for i := range tx.TxIn {
		vm, err := txscript.NewEngine(
			prevScripts[i], tx, i, txscript.StandardVerifyFlags,
			nil, hashCache, int64(inputValues[i]), fetcher,
		)
		if err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrScriptVerify,
				i, err)
		}

		if err := vm.Execute(); err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrScriptVerify,
				i, err)
		}
	}

	return nil
}
