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

// Package chaindb wraps the key-value store with the typed record stores of
// the chain: blocks, transactions, transaction receipts and per-block logs.
// All accessors take ethdb reader/writer interfaces so a whole block commit
// can be issued against a single batch.
package chaindb

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Database key prefixes. The trie keeps its own node keyspace inside the same
// key-value store; everything here is record-store data.
var (
	blockPrefix     = []byte("b") // blockPrefix + hash -> RLP(block)
	blockNumPrefix  = []byte("n") // blockNumPrefix + num (uint64 big endian) -> hash
	txPrefix        = []byte("t") // txPrefix + tx hash -> RLP(txRecord)
	receiptPrefix   = []byte("r") // receiptPrefix + tx hash -> RLP(receiptRecord)
	blockLogsPrefix = []byte("l") // blockLogsPrefix + num (uint64 big endian) -> RLP(BlockLogs)

	headBlockKey = []byte("LastBlock")
)

// encodeBlockNumber encodes a block number as big endian uint64, preserving
// the numeric ordering of the keys.
func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func blockKey(hash common.Hash) []byte {
	return append(blockPrefix, hash.Bytes()...)
}

func blockNumKey(number uint64) []byte {
	return append(blockNumPrefix, encodeBlockNumber(number)...)
}

func txKey(hash common.Hash) []byte {
	return append(txPrefix, hash.Bytes()...)
}

func receiptKey(hash common.Hash) []byte {
	return append(receiptPrefix, hash.Bytes()...)
}

func blockLogsKey(number uint64) []byte {
	return append(blockLogsPrefix, encodeBlockNumber(number)...)
}
