// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
)

var (
	// pendingBucketName is the top-level bucket holding pending
	// transaction records, keyed by txid string.
	pendingBucketName = []byte("pendingtx")

	// ErrPendingNotFound is returned when no record exists for a txid.
	ErrPendingNotFound = errors.New("no pending transaction for txid")
)

// PendingStore persists pending transactions in a wallet database, so a
// signing round in progress survives restarts on every cosigner device.
type PendingStore struct {
	db walletdb.DB
}

// NewPendingStore creates the store's bucket if needed and returns a store
// over the database.
func NewPendingStore(db walletdb.DB) (*PendingStore, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(pendingBucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create pending bucket: %w",
			err)
	}

	return &PendingStore{db: db}, nil
}

// Put inserts or replaces the record for its txid.
func (s *PendingStore) Put(pending *PendingTransaction) error {
	encoded, err := json.Marshal(pending)
	if err != nil {
		return err
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(pendingBucketName)
		return bucket.Put([]byte(pending.Txid), encoded)
	})
}

// Get returns the record for a txid.
func (s *PendingStore) Get(txid string) (*PendingTransaction, error) {
	var pending PendingTransaction

	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(pendingBucketName)

		encoded := bucket.Get([]byte(txid))
		if encoded == nil {
			return fmt.Errorf("%w: %s", ErrPendingNotFound, txid)
		}

		return json.Unmarshal(encoded, &pending)
	})
	if err != nil {
		return nil, err
	}

	return &pending, nil
}

// List returns every pending record, in bucket key order.
func (s *PendingStore) List() ([]*PendingTransaction, error) {
	var records []*PendingTransaction

	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(pendingBucketName)

		return bucket.ForEach(func(_, encoded []byte) error {
			var pending PendingTransaction
			if err := json.Unmarshal(encoded, &pending); err != nil {
				return err
			}

			records = append(records, &pending)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Delete removes the record for a txid. Deleting a missing record is not an
// error, so cleanup after broadcast is idempotent.
func (s *PendingStore) Delete(txid string) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(pendingBucketName)
		return bucket.Delete([]byte(txid))
	})
}
