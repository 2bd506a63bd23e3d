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

package txpool

import (
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
)

// txList is a nonce-indexed set of transactions belonging to one sender.
type txList struct {
	items map[uint64]*types.Transaction
}

func newTxList() *txList {
	return &txList{items: make(map[uint64]*types.Transaction)}
}

// Put inserts a transaction, replacing any existing entry at the same nonce.
// It reports whether an entry was replaced.
func (l *txList) Put(tx *types.Transaction) bool {
	_, replaced := l.items[tx.Nonce()]
	l.items[tx.Nonce()] = tx
	return replaced
}

func (l *txList) Get(nonce uint64) *types.Transaction {
	return l.items[nonce]
}

func (l *txList) Remove(nonce uint64) bool {
	if _, ok := l.items[nonce]; !ok {
		return false
	}
	delete(l.items, nonce)
	return true
}

func (l *txList) Len() int {
	return len(l.items)
}

// Flatten returns the transactions sorted by nonce ascending.
func (l *txList) Flatten() []*types.Transaction {
	txs := make([]*types.Transaction, 0, len(l.items))
	for _, tx := range l.items {
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].Nonce() < txs[j].Nonce() })
	return txs
}

// Forward removes every transaction with a nonce below the threshold and
// returns them.
func (l *txList) Forward(threshold uint64) []*types.Transaction {
	var dropped []*types.Transaction
	for nonce, tx := range l.items {
		if nonce < threshold {
			dropped = append(dropped, tx)
			delete(l.items, nonce)
		}
	}
	return dropped
}

// Ready removes and returns the longest contiguous run of transactions
// starting at the given nonce.
func (l *txList) Ready(start uint64) []*types.Transaction {
	var run []*types.Transaction
	for nonce := start; ; nonce++ {
		tx, ok := l.items[nonce]
		if !ok {
			return run
		}
		run = append(run, tx)
		delete(l.items, nonce)
	}
}
