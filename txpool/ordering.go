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
	"container/heap"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// accountTxs is the pending run of one sender: the head transaction competes
// in the price heap, the rest follow in nonce order when the head is shifted.
type accountTxs struct {
	from common.Address
	txs  []*types.Transaction
	seq  uint64 // first-seen sequence of the head, breaks price ties
}

type priceHeap []*accountTxs

func (h priceHeap) Len() int { return len(h) }

func (h priceHeap) Less(i, j int) bool {
	// Gas price descending across senders, admission order as tiebreak.
	switch h[i].txs[0].GasPrice().Cmp(h[j].txs[0].GasPrice()) {
	case 1:
		return true
	case -1:
		return false
	}
	return h[i].seq < h[j].seq
}

func (h priceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priceHeap) Push(x any) { *h = append(*h, x.(*accountTxs)) }

func (h *priceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// OrderedTxs iterates executable transactions gas-price descending across
// senders (first-seen breaking ties) and nonce ascending within a sender.
// It is a detached snapshot: consuming it does not mutate the pool.
type OrderedTxs struct {
	heads priceHeap
	seq   map[common.Hash]uint64
}

func newOrderedTxs(accounts map[common.Address][]*types.Transaction, seq map[common.Hash]uint64) *OrderedTxs {
	o := &OrderedTxs{seq: seq}
	for from, txs := range accounts {
		if len(txs) == 0 {
			continue
		}
		o.heads = append(o.heads, &accountTxs{from: from, txs: txs, seq: seq[txs[0].Hash()]})
	}
	heap.Init(&o.heads)
	return o
}

// Peek returns the best transaction without consuming it, or nil when drained.
func (o *OrderedTxs) Peek() *types.Transaction {
	if len(o.heads) == 0 {
		return nil
	}
	return o.heads[0].txs[0]
}

// Sender returns the sender of the current best transaction.
func (o *OrderedTxs) Sender() common.Address {
	return o.heads[0].from
}

// Shift consumes the current best transaction and moves its sender to the
// next nonce.
func (o *OrderedTxs) Shift() {
	acc := o.heads[0]
	if acc.txs = acc.txs[1:]; len(acc.txs) > 0 {
		acc.seq = o.seq[acc.txs[0].Hash()]
		heap.Fix(&o.heads, 0)
		return
	}
	heap.Pop(&o.heads)
}

// Pop defers the current best sender entirely, leaving its transactions for
// a later block.
func (o *OrderedTxs) Pop() {
	heap.Pop(&o.heads)
}

// Empty reports whether all transactions have been consumed or deferred.
func (o *OrderedTxs) Empty() bool {
	return len(o.heads) == 0
}
