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

package chaindb

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"
)

const blockCacheSize = 256

// Database wraps the raw key-value store with the typed record stores and
// memoizes the chain boundary blocks. The memoized latest pointer is written
// only under the controller's commit lock.
type Database struct {
	ethdb.Database

	blockCache *lru.Cache[common.Hash, *types.Block]

	mu       sync.RWMutex
	latest   *types.Block
	earliest *types.Block

	logger log.Logger
}

// Open opens the backing key-value store: in-memory when datadir is empty,
// leveldb on disk otherwise.
func Open(datadir string) (ethdb.Database, error) {
	if datadir == "" {
		return rawdb.NewMemoryDatabase(), nil
	}
	return rawdb.NewLevelDBDatabase(datadir, 128, 128, "devchain", false)
}

// New wraps db with the record store accessors.
func New(db ethdb.Database) *Database {
	cache, _ := lru.New[common.Hash, *types.Block](blockCacheSize)
	return &Database{
		Database:   db,
		blockCache: cache,
		logger:     log.New("module", "chaindb"),
	}
}

// ReadHeadBlockHash reads the hash of the head block, if any.
func (db *Database) ReadHeadBlockHash() (common.Hash, bool) {
	data, _ := db.Get(headBlockKey)
	if len(data) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(data), true
}

// WriteHeadBlockHash stores the head block hash through w.
func (db *Database) WriteHeadBlockHash(w ethdb.KeyValueWriter, hash common.Hash) error {
	return w.Put(headBlockKey, hash.Bytes())
}

// ReadCanonicalHash reads the hash assigned to a block number.
func (db *Database) ReadCanonicalHash(number uint64) (common.Hash, bool) {
	data, _ := db.Get(blockNumKey(number))
	if len(data) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(data), true
}

// ReadBlock retrieves a block by hash, or nil when absent.
func (db *Database) ReadBlock(hash common.Hash) *types.Block {
	if block, ok := db.blockCache.Get(hash); ok {
		return block
	}
	data, _ := db.Get(blockKey(hash))
	if len(data) == 0 {
		return nil
	}
	block := new(types.Block)
	if err := rlp.DecodeBytes(data, block); err != nil {
		db.logger.Crit("Corrupt block record", "hash", hash, "err", err)
	}
	db.blockCache.Add(hash, block)
	return block
}

// ReadBlockByNumber retrieves a block through the number index, or nil.
func (db *Database) ReadBlockByNumber(number uint64) *types.Block {
	hash, ok := db.ReadCanonicalHash(number)
	if !ok {
		return nil
	}
	return db.ReadBlock(hash)
}

// WriteBlock stores the block body under its hash and indexes the hash under
// the block number.
func (db *Database) WriteBlock(w ethdb.KeyValueWriter, block *types.Block) error {
	enc, err := rlp.EncodeToBytes(block)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", block.NumberU64(), err)
	}
	if err := w.Put(blockKey(block.Hash()), enc); err != nil {
		return err
	}
	return w.Put(blockNumKey(block.NumberU64()), block.Hash().Bytes())
}

// DeleteBlock removes the block body and its number index entry.
func (db *Database) DeleteBlock(w ethdb.KeyValueWriter, hash common.Hash, number uint64) error {
	db.blockCache.Remove(hash)
	if err := w.Delete(blockKey(hash)); err != nil {
		return err
	}
	return w.Delete(blockNumKey(number))
}

// Latest returns the memoized head block, loading it from disk on first use.
func (db *Database) Latest() *types.Block {
	db.mu.RLock()
	if db.latest != nil {
		defer db.mu.RUnlock()
		return db.latest
	}
	db.mu.RUnlock()

	hash, ok := db.ReadHeadBlockHash()
	if !ok {
		return nil
	}
	block := db.ReadBlock(hash)

	db.mu.Lock()
	db.latest = block
	db.mu.Unlock()
	return block
}

// SetLatest replaces the memoized head block after the head pointer has been
// durably written.
func (db *Database) SetLatest(block *types.Block) {
	db.mu.Lock()
	db.latest = block
	db.mu.Unlock()
}

// Earliest returns the genesis block.
func (db *Database) Earliest() *types.Block {
	db.mu.RLock()
	if db.earliest != nil {
		defer db.mu.RUnlock()
		return db.earliest
	}
	db.mu.RUnlock()

	block := db.ReadBlockByNumber(0)

	db.mu.Lock()
	db.earliest = block
	db.mu.Unlock()
	return block
}

// ReadTxRecord retrieves the stored form of a confirmed transaction, or nil.
func (db *Database) ReadTxRecord(hash common.Hash) *TxRecord {
	data, _ := db.Get(txKey(hash))
	if len(data) == 0 {
		return nil
	}
	rec := new(TxRecord)
	if err := rlp.DecodeBytes(data, rec); err != nil {
		db.logger.Crit("Corrupt transaction record", "hash", hash, "err", err)
	}
	return rec
}

// WriteTxRecord stores a confirmed transaction record through w.
func (db *Database) WriteTxRecord(w ethdb.KeyValueWriter, rec *TxRecord) error {
	enc, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("encode transaction record %x: %w", rec.TxHash, err)
	}
	return w.Put(txKey(rec.TxHash), enc)
}

// DeleteTxRecord removes a transaction record.
func (db *Database) DeleteTxRecord(w ethdb.KeyValueWriter, hash common.Hash) error {
	return w.Delete(txKey(hash))
}

// ReadReceipt retrieves the receipt of a transaction with block context and
// bloom restored, or nil when absent.
func (db *Database) ReadReceipt(txHash common.Hash) *types.Receipt {
	data, _ := db.Get(receiptKey(txHash))
	if len(data) == 0 {
		return nil
	}
	rec := new(receiptRecord)
	if err := rlp.DecodeBytes(data, rec); err != nil {
		db.logger.Crit("Corrupt receipt record", "tx", txHash, "err", err)
	}
	return rec.receipt()
}

// WriteReceipt stores the receipt keyed by its transaction hash. The
// receipt's block context fields must already be final.
func (db *Database) WriteReceipt(w ethdb.KeyValueWriter, receipt *types.Receipt) error {
	enc, err := rlp.EncodeToBytes(newReceiptRecord(receipt))
	if err != nil {
		return fmt.Errorf("encode receipt %x: %w", receipt.TxHash, err)
	}
	return w.Put(receiptKey(receipt.TxHash), enc)
}

// DeleteReceipt removes a receipt record.
func (db *Database) DeleteReceipt(w ethdb.KeyValueWriter, txHash common.Hash) error {
	return w.Delete(receiptKey(txHash))
}

// ReadBlockLogs retrieves the aggregated logs of a block number, or nil.
func (db *Database) ReadBlockLogs(number uint64) *BlockLogs {
	data, _ := db.Get(blockLogsKey(number))
	if len(data) == 0 {
		return nil
	}
	bl := new(BlockLogs)
	if err := rlp.DecodeBytes(data, bl); err != nil {
		db.logger.Crit("Corrupt block logs record", "number", number, "err", err)
	}
	return bl
}

// WriteBlockLogs stores the aggregated logs of a block through w.
func (db *Database) WriteBlockLogs(w ethdb.KeyValueWriter, bl *BlockLogs) error {
	enc, err := rlp.EncodeToBytes(bl)
	if err != nil {
		return fmt.Errorf("encode block logs %d: %w", bl.BlockNumber, err)
	}
	return w.Put(blockLogsKey(bl.BlockNumber), enc)
}

// DeleteBlockLogs removes the aggregated logs of a block number.
func (db *Database) DeleteBlockLogs(w ethdb.KeyValueWriter, number uint64) error {
	return w.Delete(blockLogsKey(number))
}
