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

// Package txpool buckets submitted transactions per sender into pending
// (nonce-gapped) and executable (contiguous from the account nonce) sets and
// hands the miner a price-ordered view of the executables.
package txpool

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

var (
	// ErrAlreadyKnown is returned if a transaction is already contained
	// within the pool or was already mined.
	ErrAlreadyKnown = errors.New("already known")

	// ErrInvalidSender is returned if the transaction signature does not
	// recover to a valid sender.
	ErrInvalidSender = errors.New("invalid sender")

	// ErrUnderpriced is returned if the transaction's gas price is below the
	// configured minimum.
	ErrUnderpriced = errors.New("transaction underpriced")

	// ErrGasLimit is returned if the transaction's requested gas limit
	// exceeds the block gas limit.
	ErrGasLimit = errors.New("exceeds block gas limit")

	// ErrNegativeValue is a sanity error on transactions with a negative
	// value.
	ErrNegativeValue = errors.New("negative value")
)

// AccountReader supplies the pool with the nonce and balance of an account at
// the current chain head.
type AccountReader interface {
	GetNonce(common.Address) uint64
	GetBalance(common.Address) *big.Int
}

// Config holds the admission limits and the defaults filled into payloads the
// pool signs itself.
type Config struct {
	PriceLimit      *big.Int // minimum admitted gas price
	BlockGasLimit   uint64   // upper bound on a single transaction's gas
	DefaultGasLimit uint64   // gas filled into unset payloads at signing time
	DefaultGasPrice *big.Int // gas price filled into unset payloads at signing time
}

// Pool holds the not-yet-mined transactions.
type Pool struct {
	config Config
	signer types.Signer
	state  AccountReader

	mu         sync.Mutex
	pending    map[common.Address]*txList // nonce gap ahead of the account nonce
	executable map[common.Address]*txList // contiguous from the account nonce
	all        mapset.Set[common.Hash]
	seq        map[common.Hash]uint64 // first-seen order, for price ties
	nextSeq    uint64
	paused     bool

	drainFeed event.Feed
	scope     event.SubscriptionScope

	logger log.Logger
}

// New creates an empty pool reading account state through state.
func New(config Config, signer types.Signer, state AccountReader) *Pool {
	if config.PriceLimit == nil {
		config.PriceLimit = new(big.Int)
	}
	if config.DefaultGasPrice == nil {
		config.DefaultGasPrice = new(big.Int).Set(config.PriceLimit)
	}
	return &Pool{
		config:     config,
		signer:     signer,
		state:      state,
		pending:    make(map[common.Address]*txList),
		executable: make(map[common.Address]*txList),
		all:        mapset.NewThreadUnsafeSet[common.Hash](),
		seq:        make(map[common.Hash]uint64),
		logger:     log.New("module", "txpool"),
	}
}

// SubscribeDrain registers ch for a signal whenever the executable set turns
// non-empty.
func (p *Pool) SubscribeDrain(ch chan<- struct{}) event.Subscription {
	return p.scope.Track(p.drainFeed.Subscribe(ch))
}

// Close tears down the pool's subscriptions.
func (p *Pool) Close() {
	p.scope.Close()
}

// Add validates tx and admits it into the pending or executable set. When key
// is non-nil the payload is (re-)signed with it, filling in the gas price,
// gas limit and nonce defaults for unset fields; the returned transaction
// carries the final signed identity, while tx itself is left unchanged.
// The first return reports whether the transaction is immediately executable.
func (p *Pool) Add(tx *types.Transaction, key *ecdsa.PrivateKey) (bool, *types.Transaction, error) {
	p.mu.Lock()

	if key != nil {
		signed, err := p.signLocked(tx, key)
		if err != nil {
			p.mu.Unlock()
			return false, nil, err
		}
		tx = signed
	}
	from, err := p.validateLocked(tx)
	if err != nil {
		p.mu.Unlock()
		return false, nil, err
	}
	p.all.Add(tx.Hash())
	p.seq[tx.Hash()] = p.nextSeq
	p.nextSeq++

	executable := p.enqueueLocked(from, tx)
	p.logger.Trace("Pooled new transaction", "hash", tx.Hash(), "from", from, "nonce", tx.Nonce(), "executable", executable)

	// The signal is sent outside the pool lock so a subscriber calling back
	// into the pool cannot deadlock.
	signal := !p.paused && p.hasExecutablesLocked()
	p.mu.Unlock()

	if signal {
		p.drainFeed.Send(struct{}{})
	}
	return executable, tx, nil
}

// signLocked signs a fresh legacy payload built from tx with the pool's
// defaults filled into unset fields.
func (p *Pool) signLocked(tx *types.Transaction, key *ecdsa.PrivateKey) (*types.Transaction, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	gasPrice := tx.GasPrice()
	if gasPrice == nil || gasPrice.Sign() == 0 {
		gasPrice = new(big.Int).Set(p.config.DefaultGasPrice)
	}
	gas := tx.Gas()
	if gas == 0 {
		gas = p.config.DefaultGasLimit
	}
	nonce := tx.Nonce()
	if nonce == 0 {
		nonce = p.nextNonceLocked(from)
	}
	return types.SignNewTx(key, p.signer, &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       tx.To(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	})
}

// validateLocked applies the admission rules and returns the recovered
// sender.
func (p *Pool) validateLocked(tx *types.Transaction) (common.Address, error) {
	if p.all.Contains(tx.Hash()) {
		return common.Address{}, ErrAlreadyKnown
	}
	if tx.Value().Sign() < 0 {
		return common.Address{}, ErrNegativeValue
	}
	if tx.Gas() > p.config.BlockGasLimit {
		return common.Address{}, ErrGasLimit
	}
	if tx.GasPrice().Cmp(p.config.PriceLimit) < 0 {
		return common.Address{}, ErrUnderpriced
	}
	from, err := types.Sender(p.signer, tx)
	if err != nil {
		return common.Address{}, ErrInvalidSender
	}
	if tx.Nonce() < p.state.GetNonce(from) {
		return common.Address{}, core.ErrNonceTooLow
	}
	if p.state.GetBalance(from).Cmp(tx.Cost()) < 0 {
		return common.Address{}, core.ErrInsufficientFunds
	}
	intrinsic, err := core.IntrinsicGas(tx.Data(), tx.AccessList(), tx.To() == nil, true, true, false)
	if err != nil {
		return common.Address{}, err
	}
	if tx.Gas() < intrinsic {
		return common.Address{}, core.ErrIntrinsicGas
	}
	return from, nil
}

// enqueueLocked places tx into the executable or pending bucket and promotes
// newly contiguous pending transactions. Reports whether tx itself landed in
// the executable set.
func (p *Pool) enqueueLocked(from common.Address, tx *types.Transaction) bool {
	next := p.nextNonceLocked(from)
	switch {
	case p.paused, tx.Nonce() > next:
		list := p.pending[from]
		if list == nil {
			list = newTxList()
			p.pending[from] = list
		}
		list.Put(tx)
		return false
	case tx.Nonce() == next:
		list := p.executable[from]
		if list == nil {
			list = newTxList()
			p.executable[from] = list
		}
		list.Put(tx)
		p.promoteLocked(from)
		return true
	default:
		// Replacement of a still-unmined executable nonce.
		p.executable[from].Put(tx)
		return true
	}
}

// nextNonceLocked is the nonce the sender's next executable transaction must
// carry: the account nonce plus the contiguous executable run.
func (p *Pool) nextNonceLocked(from common.Address) uint64 {
	next := p.state.GetNonce(from)
	if list := p.executable[from]; list != nil {
		next += uint64(list.Len())
	}
	return next
}

// promoteLocked moves the sender's now-contiguous pending transactions into
// the executable set.
func (p *Pool) promoteLocked(from common.Address) {
	pending := p.pending[from]
	if pending == nil {
		return
	}
	run := pending.Ready(p.nextNonceLocked(from))
	if len(run) > 0 {
		list := p.executable[from]
		if list == nil {
			list = newTxList()
			p.executable[from] = list
		}
		for _, tx := range run {
			list.Put(tx)
		}
		p.logger.Debug("Promoted pending transactions", "from", from, "count", len(run))
	}
	if pending.Len() == 0 {
		delete(p.pending, from)
	}
}

// Ready returns a price-and-nonce ordered snapshot of the executable set.
func (p *Pool) Ready() *OrderedTxs {
	p.mu.Lock()
	defer p.mu.Unlock()

	accounts := make(map[common.Address][]*types.Transaction, len(p.executable))
	seq := make(map[common.Hash]uint64)
	for from, list := range p.executable {
		txs := list.Flatten()
		accounts[from] = txs
		for _, tx := range txs {
			seq[tx.Hash()] = p.seq[tx.Hash()]
		}
	}
	return newOrderedTxs(accounts, seq)
}

// Confirm removes mined transactions from the pool and re-promotes any
// pending transactions their confirmation made contiguous.
func (p *Pool) Confirm(txs []*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	touched := make(map[common.Address]struct{})
	for _, tx := range txs {
		from, err := types.Sender(p.signer, tx)
		if err != nil {
			continue
		}
		p.dropLocked(from, tx, false)
		touched[from] = struct{}{}
	}
	for from := range touched {
		// The account nonce has advanced; stale pending entries are gone now.
		if pending := p.pending[from]; pending != nil {
			for _, old := range pending.Forward(p.state.GetNonce(from)) {
				p.forgetLocked(old)
			}
		}
		p.promoteLocked(from)
	}
}

// Remove discards a transaction that turned out unprocessable. Executable
// transactions of the same sender above the removed nonce are demoted back to
// pending, since a gap now precedes them.
func (p *Pool) Remove(tx *types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	from, err := types.Sender(p.signer, tx)
	if err != nil {
		return
	}
	p.dropLocked(from, tx, true)
	p.logger.Warn("Discarded unprocessable transaction", "hash", tx.Hash(), "from", from, "nonce", tx.Nonce())
}

// dropLocked removes tx from whichever bucket holds it. With demote set,
// higher-nonce executables of the sender fall back to pending, since a gap
// now precedes them.
func (p *Pool) dropLocked(from common.Address, tx *types.Transaction, demote bool) {
	p.forgetLocked(tx)

	if list := p.executable[from]; list != nil {
		if list.Remove(tx.Nonce()) && demote {
			for _, moved := range list.Flatten() {
				if moved.Nonce() <= tx.Nonce() {
					continue
				}
				list.Remove(moved.Nonce())
				pending := p.pending[from]
				if pending == nil {
					pending = newTxList()
					p.pending[from] = pending
				}
				pending.Put(moved)
			}
		}
		if list.Len() == 0 {
			delete(p.executable, from)
		}
	}
	if list := p.pending[from]; list != nil {
		list.Remove(tx.Nonce())
		if list.Len() == 0 {
			delete(p.pending, from)
		}
	}
}

// forgetLocked erases the pool-wide bookkeeping of tx.
func (p *Pool) forgetLocked(tx *types.Transaction) {
	p.all.Remove(tx.Hash())
	delete(p.seq, tx.Hash())
}

// Clear drops every pooled transaction, pending and executable alike.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = make(map[common.Address]*txList)
	p.executable = make(map[common.Address]*txList)
	p.all.Clear()
	p.seq = make(map[common.Hash]uint64)
	p.logger.Debug("Transaction pool cleared")
}

// Pause suspends promotion and drain signals. Add keeps admitting into the
// pending set.
func (p *Pool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume re-enables promotion, promotes everything admitted during the pause
// and re-arms the drain signal.
func (p *Pool) Resume() {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return
	}
	p.paused = false
	for from := range p.pending {
		p.promoteLocked(from)
	}
	signal := p.hasExecutablesLocked()
	p.mu.Unlock()

	if signal {
		p.drainFeed.Send(struct{}{})
	}
}

// HasExecutables reports whether any transaction is ready for mining.
func (p *Pool) HasExecutables() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasExecutablesLocked()
}

func (p *Pool) hasExecutablesLocked() bool {
	for _, list := range p.executable {
		if list.Len() > 0 {
			return true
		}
	}
	return false
}

// Content returns copies of the pending and executable sets, for inspection.
func (p *Pool) Content() (map[common.Address][]*types.Transaction, map[common.Address][]*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := make(map[common.Address][]*types.Transaction, len(p.pending))
	for from, list := range p.pending {
		pending[from] = list.Flatten()
	}
	executable := make(map[common.Address][]*types.Transaction, len(p.executable))
	for from, list := range p.executable {
		executable[from] = list.Flatten()
	}
	return pending, executable
}

// Stats returns the number of pending and executable transactions.
func (p *Pool) Stats() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending, executable := 0, 0
	for _, list := range p.pending {
		pending += list.Len()
	}
	for _, list := range p.executable {
		executable += list.Len()
	}
	return pending, executable
}
