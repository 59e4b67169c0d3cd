// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
)

// UTXO is one spendable output owned by the wallet, together with the
// derivation path needed to find its key again at signing time.
type UTXO struct {
	// OutPoint identifies the output on chain.
	OutPoint wire.OutPoint

	// Value is the output amount.
	Value btcutil.Amount

	// PkScript is the output's locking script.
	PkScript []byte

	// Address is the encoded address owning the output.
	Address string

	// Confirmations is the output's depth at the time the snapshot was
	// taken. Selection does not use it; callers filter unconfirmed coins
	// before handing the snapshot in.
	Confirmations int32

	// Path is the derivation path of the key controlling the output.
	Path string
}

// InsufficientFundsError describes a coin selection that could not reach its
// target. Both amounts are reported so a caller can show the user exactly how
// much is missing.
type InsufficientFundsError struct {
	// Required is the amount the selection needed to reach, including the
	// fee at the point selection gave up.
	Required btcutil.Amount

	// Available is the total value of all spendable outputs.
	Available btcutil.Amount
}

// Error returns a human readable description of the error.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %v, have %v",
		e.Required, e.Available)
}

// InputSource satisfies the txauthor input-source error contract, so fee
// re-estimation loops recognize the failure as a funding problem rather than
// a transient one.
func (e *InsufficientFundsError) InputSourceError() {}

// A compile time check to ensure InsufficientFundsError satisfies the
// txauthor error interface.
var _ txauthor.InputSourceError = (*InsufficientFundsError)(nil)

// shuffleSlice returns a copy of the input slice permuted by a Fisher-Yates
// shuffle with indices drawn from crypto/rand.
func shuffleSlice[T any](items []T) ([]T, error) {
	shuffled := append([]T(nil), items...)

	for i := len(shuffled) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, fmt.Errorf("unable to draw shuffle "+
				"index: %w", err)
		}

		j := n.Int64()
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled, nil
}

// ShuffleUTXOs returns a cryptographically shuffled copy of the input set.
// Selection order deliberately carries no bias: spending oldest-first or
// largest-first would let an observer cluster the wallet's outputs.
func ShuffleUTXOs(utxos []UTXO) ([]UTXO, error) {
	return shuffleSlice(utxos)
}

// NewInputSource shuffles the spendable set once and returns an input source
// that greedily accumulates the shuffled coins until the requested target is
// reached. The txauthor fee loop calls the source repeatedly with growing
// targets; reusing one shuffled order keeps the selection stable across those
// calls.
func NewInputSource(utxos []UTXO) (txauthor.InputSource, error) {
	shuffled, err := ShuffleUTXOs(utxos)
	if err != nil {
		return nil, err
	}

	var available btcutil.Amount
	for _, utxo := range shuffled {
		available += utxo.Value
	}

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		var (
			total       btcutil.Amount
			inputs      []*wire.TxIn
			inputValues []btcutil.Amount
			scripts     [][]byte
		)

		for _, utxo := range shuffled {
			if total >= target {
				break
			}

			inputs = append(inputs, wire.NewTxIn(
				&utxo.OutPoint, nil, nil,
			))
			inputValues = append(inputValues, utxo.Value)
			scripts = append(scripts, utxo.PkScript)
			total += utxo.Value
		}

		if total < target {
			return 0, nil, nil, nil, &InsufficientFundsError{
				Required:  target,
				Available: available,
			}
		}

		return total, inputs, inputValues, scripts, nil
	}, nil
}
