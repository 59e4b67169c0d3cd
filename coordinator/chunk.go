// Copyright (c) 2025 The oakwallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

var (
	// ErrChunkSize is returned when a chunk size of less than one byte
	// is requested.
	ErrChunkSize = errors.New("chunk size must be positive")

	// ErrNoChunks is returned when reassembly is attempted on an empty
	// set.
	ErrNoChunks = errors.New("no chunks to reassemble")

	// ErrChunkSetMismatch is returned when chunks from different
	// transactions or with inconsistent totals are mixed.
	ErrChunkSetMismatch = errors.New("chunks belong to different packets")

	// ErrChunkMissing is returned when the set does not cover every
	// index.
	ErrChunkMissing = errors.New("chunk set is incomplete")

	// ErrChunkDuplicate is returned when two chunks claim the same
	// index.
	ErrChunkDuplicate = errors.New("duplicate chunk index")
)

// DefaultChunkSize is the payload size that keeps a chunk within a
// comfortably scannable QR code.
const DefaultChunkSize = 2500

// Chunk is one QR-sized piece of an encoded packet. Chunks are
// self-describing: each carries the packet's txid and its position, so a
// scanner can collect them in any order.
type Chunk struct {
	// Txid identifies the packet the chunk belongs to.
	Txid string

	// Index is the chunk's position, starting at zero.
	Index int

	// Total is the number of chunks in the set.
	Total int

	// Data is this chunk's slice of the packet's base64 encoding.
	Data string
}

// ChunkPacket splits a packet's base64 encoding into QR-sized chunks. A
// packet that already fits yields a single chunk.
func ChunkPacket(packet *psbt.Packet, maxBytes int) ([]Chunk, error) {
	if maxBytes < 1 {
		return nil, ErrChunkSize
	}

	encoded, err := packet.B64Encode()
	if err != nil {
		return nil, err
	}

	txid := packet.UnsignedTx.TxHash().String()
	total := (len(encoded) + maxBytes - 1) / maxBytes

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxBytes
		end := start + maxBytes
		if end > len(encoded) {
			end = len(encoded)
		}

		chunks = append(chunks, Chunk{
			Txid:  txid,
			Index: i,
			Total: total,
			Data:  encoded[start:end],
		})
	}

	return chunks, nil
}

// Reassemble reconstructs a packet from its chunks, in whatever order they
// were scanned. Mixed, duplicate and missing chunks are reported with
// distinct errors so a scanning UI can tell the user what to rescan.
func Reassemble(chunks []Chunk) (*psbt.Packet, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	txid := chunks[0].Txid
	total := chunks[0].Total
	for _, chunk := range chunks {
		if chunk.Txid != txid || chunk.Total != total {
			return nil, ErrChunkSetMismatch
		}
	}

	if len(chunks) > total {
		return nil, fmt.Errorf("%w: have %d chunks, set claims %d",
			ErrChunkDuplicate, len(chunks), total)
	}
	if len(chunks) < total {
		return nil, fmt.Errorf("%w: have %d of %d chunks",
			ErrChunkMissing, len(chunks), total)
	}

	ordered := append([]Chunk(nil), chunks...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	var encoded strings.Builder
	for i, chunk := range ordered {
		if chunk.Index != i {
			if i > 0 && chunk.Index == ordered[i-1].Index {
				return nil, fmt.Errorf("%w: index %d",
					ErrChunkDuplicate, chunk.Index)
			}

			return nil, fmt.Errorf("%w: index %d", ErrChunkMissing,
				i)
		}

		encoded.WriteString(chunk.Data)
	}

	packet, err := psbt.NewFromRawBytes(
		strings.NewReader(encoded.String()), true,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAPacket, err)
	}

	// The chunks must not have been relabeled with a foreign txid.
	if packet.UnsignedTx.TxHash().String() != txid {
		return nil, ErrChunkSetMismatch
	}

	return packet, nil
}
