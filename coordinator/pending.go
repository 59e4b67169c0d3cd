// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

var (
	// ErrPendingMismatch is returned when a pending record is updated
	// with a packet for a different transaction.
	ErrPendingMismatch = errors.New("packet does not match pending " +
		"transaction")
)

// Status is the signing state of a pending transaction.
type Status uint8

const (
	// StatusPending means at least one input still needs signatures.
	StatusPending Status = iota

	// StatusReady means every input has reached the required signature
	// count and the transaction can be finalized.
	StatusReady

	// StatusFinalized means every input carries its final script.
	StatusFinalized
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(s))
	}
}

// PendingTransaction tracks one multisig transaction through its signing
// rounds. The packet itself is stored in its base64 encoding, so a record
// survives wallet restarts byte-for-byte.
type PendingTransaction struct {
	// Txid identifies the unsigned transaction.
	Txid string `json:"txid"`

	// Packet is the latest merged packet, base64 encoded.
	Packet string `json:"packet"`

	// Required is the quorum's signature count per input.
	Required int `json:"required"`

	// SigCounts is the number of partial signatures per input.
	SigCounts []int `json:"sig_counts"`

	// CosignerSigned maps a cosigner's master fingerprint (hex) to
	// whether a signature of theirs is present on every input that
	// lists them. Populated only when the packet carries BIP-32
	// derivation records.
	CosignerSigned map[string]bool `json:"cosigner_signed,omitempty"`

	// Status summarizes the signing progress.
	Status Status `json:"status"`

	// CreatedAt is when the transaction was first proposed.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when signatures were last added.
	UpdatedAt time.Time `json:"updated_at"`
}

// sigProgress derives the per-input counts and overall status of a packet.
func sigProgress(packet *psbt.Packet, required int) ([]int, Status) {
	if packet.IsComplete() {
		counts := make([]int, len(packet.Inputs))
		for i := range packet.Inputs {
			counts[i] = len(packet.Inputs[i].PartialSigs)
		}

		return counts, StatusFinalized
	}

	counts := make([]int, len(packet.Inputs))
	status := StatusReady
	for i := range packet.Inputs {
		counts[i] = len(packet.Inputs[i].PartialSigs)
		if counts[i] < required {
			status = StatusPending
		}
	}

	return counts, status
}

// cosignerProgress attributes partial signatures to cosigners through the
// packet's BIP-32 derivation records. A cosigner counts as signed only when
// every input listing one of its keys carries a matching signature.
func cosignerProgress(packet *psbt.Packet) map[string]bool {
	signed := make(map[string]bool)

	for i := range packet.Inputs {
		pIn := &packet.Inputs[i]

		for _, derivation := range pIn.Bip32Derivation {
			var fp [4]byte
			binary.LittleEndian.PutUint32(
				fp[:], derivation.MasterKeyFingerprint,
			)
			key := hex.EncodeToString(fp[:])

			hasSig := false
			for _, partialSig := range pIn.PartialSigs {
				if bytes.Equal(partialSig.PubKey,
					derivation.PubKey) {

					hasSig = true
					break
				}
			}

			if already, ok := signed[key]; ok {
				signed[key] = already && hasSig
			} else {
				signed[key] = hasSig
			}
		}
	}

	if len(signed) == 0 {
		return nil
	}

	return signed
}

// NewPending opens a signing record for a freshly built packet.
func NewPending(packet *psbt.Packet, required int) (*PendingTransaction,
	error) {

	encoded, err := packet.B64Encode()
	if err != nil {
		return nil, err
	}

	counts, status := sigProgress(packet, required)
	now := time.Now().UTC()

	return &PendingTransaction{
		Txid:           packet.UnsignedTx.TxHash().String(),
		Packet:         encoded,
		Required:       required,
		SigCounts:      counts,
		CosignerSigned: cosignerProgress(packet),
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Update replaces the record's packet with a newer merge of the same
// transaction and recomputes the signing progress.
func (p *PendingTransaction) Update(packet *psbt.Packet) error {
	txid := packet.UnsignedTx.TxHash().String()
	if txid != p.Txid {
		return fmt.Errorf("%w: got %s, tracking %s",
			ErrPendingMismatch, txid, p.Txid)
	}

	encoded, err := packet.B64Encode()
	if err != nil {
		return err
	}

	p.Packet = encoded
	p.SigCounts, p.Status = sigProgress(packet, p.Required)
	p.CosignerSigned = cosignerProgress(packet)
	p.UpdatedAt = time.Now().UTC()

	log.Debugf("Pending transaction %s is now %v", p.Txid, p.Status)

	return nil
}

// LoadPacket decodes the record's stored packet.
func (p *PendingTransaction) LoadPacket() (*psbt.Packet, error) {
	return decodePacket(p.Packet)
}
