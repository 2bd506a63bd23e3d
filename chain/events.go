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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/evmforge/devchain/chaindb"
)

// ChainEvent announces a newly committed head block.
type ChainEvent struct {
	Block *types.Block
}

// BlockLogsEvent carries the aggregated logs of a committed block. For any
// block it is delivered before the block's ChainEvent.
type BlockLogsEvent struct {
	Logs *chaindb.BlockLogs
}

// PendingTxEvent announces a transaction admitted into the pool.
type PendingTxEvent struct {
	Tx *types.Transaction
}

// txFinalized reports the outcome of a mined or discarded transaction to
// blocked legacy-instamine submitters.
type txFinalized struct {
	hash common.Hash
	err  error
}

// SubscribeChainEvent registers ch for head block announcements. Subscribers
// must keep their channel drained; deliveries are synchronous.
func (bc *Blockchain) SubscribeChainEvent(ch chan<- ChainEvent) event.Subscription {
	return bc.scope.Track(bc.chainFeed.Subscribe(ch))
}

// SubscribeBlockLogs registers ch for per-block log bundles.
func (bc *Blockchain) SubscribeBlockLogs(ch chan<- BlockLogsEvent) event.Subscription {
	return bc.scope.Track(bc.logsFeed.Subscribe(ch))
}

// SubscribePendingTransactions registers ch for pool admissions.
func (bc *Blockchain) SubscribePendingTransactions(ch chan<- PendingTxEvent) event.Subscription {
	return bc.scope.Track(bc.pendingFeed.Subscribe(ch))
}

// SubscribeStart registers ch for the lifecycle start signal.
func (bc *Blockchain) SubscribeStart(ch chan<- struct{}) event.Subscription {
	return bc.scope.Track(bc.startFeed.Subscribe(ch))
}

// SubscribeStop registers ch for the lifecycle stop signal.
func (bc *Blockchain) SubscribeStop(ch chan<- struct{}) event.Subscription {
	return bc.scope.Track(bc.stopFeed.Subscribe(ch))
}
