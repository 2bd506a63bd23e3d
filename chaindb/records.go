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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxRecord is the stored form of a confirmed transaction: the typed-envelope
// encoding of the transaction itself (the first byte of which is the type)
// together with its block context and recovered sender.
type TxRecord struct {
	TxHash      common.Hash
	TxBinary    []byte
	BlockHash   common.Hash
	BlockNumber uint64
	Index       uint64
	From        common.Address
}

// NewTxRecord builds the stored form of tx as confirmed at the given block
// position.
func NewTxRecord(tx *types.Transaction, from common.Address, blockHash common.Hash, blockNumber, index uint64) (*TxRecord, error) {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction %x: %w", tx.Hash(), err)
	}
	return &TxRecord{
		TxHash:      tx.Hash(),
		TxBinary:    enc,
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		Index:       index,
		From:        from,
	}, nil
}

// Transaction decodes the stored transaction envelope.
func (rec *TxRecord) Transaction() (*types.Transaction, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rec.TxBinary); err != nil {
		return nil, fmt.Errorf("decode transaction %x: %w", rec.TxHash, err)
	}
	return tx, nil
}

// LogRecord is a single event log with its position inside the block.
type LogRecord struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
	TxIndex uint64
	TxHash  common.Hash
	Index   uint64
}

// BlockLogs aggregates the ordered event logs of one block, keyed by block
// number in the store and consumed by filter subscriptions.
type BlockLogs struct {
	BlockHash   common.Hash
	BlockNumber uint64
	Logs        []*LogRecord
}

// NewBlockLogs flattens the logs of a block into their stored form. The logs
// are expected in emission order with their positional fields already set.
func NewBlockLogs(blockHash common.Hash, blockNumber uint64, logs []*types.Log) *BlockLogs {
	bl := &BlockLogs{BlockHash: blockHash, BlockNumber: blockNumber}
	for _, l := range logs {
		bl.Logs = append(bl.Logs, &LogRecord{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
			TxIndex: uint64(l.TxIndex),
			TxHash:  l.TxHash,
			Index:   uint64(l.Index),
		})
	}
	return bl
}

// Unpack restores the full log objects with block context filled in.
func (bl *BlockLogs) Unpack() []*types.Log {
	logs := make([]*types.Log, 0, len(bl.Logs))
	for _, rec := range bl.Logs {
		logs = append(logs, &types.Log{
			Address:     rec.Address,
			Topics:      rec.Topics,
			Data:        rec.Data,
			BlockNumber: bl.BlockNumber,
			BlockHash:   bl.BlockHash,
			TxIndex:     uint(rec.TxIndex),
			TxHash:      rec.TxHash,
			Index:       uint(rec.Index),
		})
	}
	return logs
}

// receiptRecord is the self-contained stored form of a receipt. Unlike the
// consensus encoding it keeps the block context and per-transaction gas, so a
// single read returns a complete receipt. The bloom is recomputed on read.
type receiptRecord struct {
	Type              uint8
	Status            uint64
	CumulativeGasUsed uint64
	GasUsed           uint64
	ContractAddress   common.Address
	Logs              []*LogRecord
	TxHash            common.Hash
	BlockHash         common.Hash
	BlockNumber       uint64
	Index             uint64
}

func newReceiptRecord(receipt *types.Receipt) *receiptRecord {
	rec := &receiptRecord{
		Type:              receipt.Type,
		Status:            receipt.Status,
		CumulativeGasUsed: receipt.CumulativeGasUsed,
		GasUsed:           receipt.GasUsed,
		ContractAddress:   receipt.ContractAddress,
		TxHash:            receipt.TxHash,
		BlockHash:         receipt.BlockHash,
		BlockNumber:       receipt.BlockNumber.Uint64(),
		Index:             uint64(receipt.TransactionIndex),
	}
	for _, l := range receipt.Logs {
		rec.Logs = append(rec.Logs, &LogRecord{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
			TxIndex: uint64(l.TxIndex),
			TxHash:  l.TxHash,
			Index:   uint64(l.Index),
		})
	}
	return rec
}

func (rec *receiptRecord) receipt() *types.Receipt {
	receipt := &types.Receipt{
		Type:              rec.Type,
		Status:            rec.Status,
		CumulativeGasUsed: rec.CumulativeGasUsed,
		GasUsed:           rec.GasUsed,
		ContractAddress:   rec.ContractAddress,
		TxHash:            rec.TxHash,
		BlockHash:         rec.BlockHash,
		BlockNumber:       new(big.Int).SetUint64(rec.BlockNumber),
		TransactionIndex:  uint(rec.Index),
	}
	for _, l := range rec.Logs {
		receipt.Logs = append(receipt.Logs, &types.Log{
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: rec.BlockNumber,
			BlockHash:   rec.BlockHash,
			TxIndex:     uint(l.TxIndex),
			TxHash:      l.TxHash,
			Index:       uint(l.Index),
		})
	}
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})
	return receipt
}
