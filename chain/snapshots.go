// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package chain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// snapshotEntry captures the chain at snapshot time: the head block and the
// clock offset. Snapshot ids are 1-based positions in the snaps slice.
type snapshotEntry struct {
	head   *types.Block
	offset time.Duration
}

// postBlock is one entry of the singly-linked stack of block hashes
// committed after the earliest live snapshot, newest first. Revert walks it
// to find the unwind path without re-reading the chain.
type postBlock struct {
	hash   common.Hash
	number uint64
	next   *postBlock
}

// Snapshot captures the current head and clock offset, returning the
// 1-based snapshot id. Retention is unbounded; snapshots live until an
// equal-or-lower revert or process stop.
func (bc *Blockchain) Snapshot() int {
	bc.snapMu.Lock()
	defer bc.snapMu.Unlock()

	bc.snaps = append(bc.snaps, snapshotEntry{
		head:   bc.CurrentBlock(),
		offset: bc.clock.Offset(),
	})
	id := len(bc.snaps)
	bc.logger.Info("Captured chain snapshot", "id", id, "head", bc.CurrentBlock().NumberU64())
	return id
}

// recordPostSnapshotBlock pushes a freshly saved block onto the unwind stack
// while any snapshot is live. Called by the block save path under commitMu.
func (bc *Blockchain) recordPostSnapshotBlock(block *types.Block) {
	bc.snapMu.Lock()
	defer bc.snapMu.Unlock()

	if len(bc.snaps) == 0 {
		return
	}
	bc.postBlocks = &postBlock{
		hash:   block.Hash(),
		number: block.NumberU64(),
		next:   bc.postBlocks,
	}
}

// Revert restores the chain to the state captured by snapshot id, discarding
// that snapshot and every later one. Blocks committed since, with their
// transactions, receipts and logs, are deleted in one batch; the pool is
// cleared wholesale (pre-snapshot pendings included). Returns false for an
// unknown id, leaving the chain untouched.
func (bc *Blockchain) Revert(id int) (bool, error) {
	if s := bc.status.Load(); s == statusStopping || s == statusStopped {
		return false, ErrStopped
	}
	bc.snapMu.Lock()
	known := id >= 1 && id <= len(bc.snaps)
	bc.snapMu.Unlock()
	if !known {
		return false, nil
	}

	// Halt production and serialize behind the in-flight save.
	bc.pool.Pause()
	bc.miner.Pause()
	bc.commitMu.Lock()

	ok, err := bc.revertLocked(id)

	bc.commitMu.Unlock()
	bc.miner.Resume()
	bc.pool.Resume()
	return ok, err
}

func (bc *Blockchain) revertLocked(id int) (bool, error) {
	bc.snapMu.Lock()
	defer bc.snapMu.Unlock()

	if id < 1 || id > len(bc.snaps) {
		return false, nil
	}
	entry := bc.snaps[id-1]
	bc.snaps = bc.snaps[:id-1]

	// All pendings are dropped, whether they predate the snapshot or not.
	bc.pool.Clear()

	head := bc.CurrentBlock()
	if head.Hash() != entry.head.Hash() {
		if err := bc.unwindLocked(entry.head); err != nil {
			return false, err
		}
	}
	if len(bc.snaps) == 0 {
		bc.postBlocks = nil
	}
	bc.clock.SetOffset(entry.offset)

	bc.logger.Info("Reverted to snapshot", "id", id, "head", entry.head.NumberU64(), "hash", entry.head.Hash())
	return true, nil
}

// unwindLocked deletes every block on the post-snapshot stack down to (and
// excluding) target, in a single batch, then rewinds the head pointers. The
// world state needs no flushing: per-block states are only ever opened by
// root, so moving the head back is the whole reset.
func (bc *Blockchain) unwindLocked(target *types.Block) error {
	batch := bc.db.NewBatch()

	node := bc.postBlocks
	for node != nil && node.hash != target.Hash() {
		block := bc.db.ReadBlock(node.hash)
		if block == nil {
			bc.logger.Crit("Unwind stack references missing block", "hash", node.hash, "number", node.number)
		}
		for _, tx := range block.Transactions() {
			if err := bc.db.DeleteTxRecord(batch, tx.Hash()); err != nil {
				return err
			}
			if err := bc.db.DeleteReceipt(batch, tx.Hash()); err != nil {
				return err
			}
		}
		if err := bc.db.DeleteBlockLogs(batch, node.number); err != nil {
			return err
		}
		if err := bc.db.DeleteBlock(batch, node.hash, node.number); err != nil {
			return err
		}
		node = node.next
	}
	if err := bc.db.WriteHeadBlockHash(batch, target.Hash()); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	// Keep the tail past the match: those blocks belong to earlier live
	// snapshots.
	bc.postBlocks = node

	bc.db.SetLatest(target)
	bc.currentBlock.Store(target)
	return nil
}
