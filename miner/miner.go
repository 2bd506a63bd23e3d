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

// Package miner assembles blocks from the pool's executable transactions by
// running them through the EVM against a scratch state rooted at the parent
// block.
package miner

import (
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/evmforge/devchain/txpool"
)

// Backend supplies the miner with chain data: headers for the BLOCKHASH
// opcode and state views for block assembly.
type Backend interface {
	GetHeader(common.Hash, uint64) *types.Header
	StateAt(common.Hash) (*state.StateDB, error)
}

// Config holds the block production parameters.
type Config struct {
	Coinbase  common.Address
	ExtraData []byte
	GasLimit  uint64 // fixed block gas limit
}

// Result is one sealed block together with everything the controller needs
// to persist it.
type Result struct {
	Block     *types.Block
	Receipts  types.Receipts
	Logs      []*types.Log // flat, in emission order, block context filled
	StateRoot common.Hash
	Dropped   []*types.Transaction  // discarded without inclusion
	TxErrors  map[common.Hash]error // per-transaction runtime failures
}

// environment holds the in-progress block assembly state.
type environment struct {
	header   *types.Header
	gasPool  *core.GasPool
	blockCtx vm.BlockContext
	tcount   int
	txs      []*types.Transaction
	receipts []*types.Receipt
}

// chainContext adapts the backend to the EVM's chain view. The block author
// is always supplied explicitly, so the consensus engine is never consulted.
type chainContext struct {
	backend Backend
}

func (c chainContext) Engine() consensus.Engine { return nil }

func (c chainContext) GetHeader(hash common.Hash, number uint64) *types.Header {
	return c.backend.GetHeader(hash, number)
}

// Miner builds candidate blocks out of the pool's executable set.
type Miner struct {
	chainConfig *params.ChainConfig
	config      Config
	pool        *txpool.Pool
	backend     Backend
	signer      types.Signer
	paused      atomic.Bool
	logger      log.Logger
}

// New creates a miner draining pool against chain state served by backend.
func New(chainConfig *params.ChainConfig, config Config, pool *txpool.Pool, backend Backend) *Miner {
	return &Miner{
		chainConfig: chainConfig,
		config:      config,
		pool:        pool,
		backend:     backend,
		signer:      types.LatestSigner(chainConfig),
		logger:      log.New("module", "miner"),
	}
}

// Pause suspends block production. A mining round observing the pause stops
// before sealing its current candidate.
func (m *Miner) Pause() {
	m.paused.Store(true)
}

// Resume re-enables block production.
func (m *Miner) Resume() {
	m.paused.Store(false)
}

// Paused reports whether block production is suspended.
func (m *Miner) Paused() bool {
	return m.paused.Load()
}

// Mine assembles blocks on top of parent from the currently executable
// transactions. maxTxs caps transactions per block (-1 for unlimited). When
// transactions remain past a filled block and onlyOneBlock is unset, the next
// candidate chains onto the one just sealed. The first block always seals,
// even empty; follow-ups only while transactions remain.
func (m *Miner) Mine(parent *types.Block, timestamp uint64, maxTxs int, onlyOneBlock bool) ([]*Result, error) {
	if m.paused.Load() {
		return nil, nil
	}
	statedb, err := m.backend.StateAt(parent.Root())
	if err != nil {
		return nil, fmt.Errorf("state at parent %x: %w", parent.Root(), err)
	}
	ready := m.pool.Ready()

	var results []*Result
	for {
		result, err := m.mineOne(parent, statedb, timestamp, maxTxs, ready)
		if err != nil {
			return results, err
		}
		if result == nil { // paused mid-round
			return results, nil
		}
		results = append(results, result)
		if onlyOneBlock || ready.Empty() {
			return results, nil
		}
		// Chain the next candidate onto the sealed block.
		parent = result.Block
		if statedb, err = m.backend.StateAt(result.StateRoot); err != nil {
			return results, fmt.Errorf("state at %x: %w", result.StateRoot, err)
		}
	}
}

// mineOne fills, executes and seals a single candidate block.
func (m *Miner) mineOne(parent *types.Block, statedb *state.StateDB, timestamp uint64, maxTxs int, ready *txpool.OrderedTxs) (*Result, error) {
	env := &environment{
		header:  m.makeHeader(parent, timestamp),
		gasPool: new(core.GasPool).AddGas(m.config.GasLimit),
	}
	env.blockCtx = core.NewEVMBlockContext(env.header, chainContext{m.backend}, &m.config.Coinbase)

	result := &Result{TxErrors: make(map[common.Hash]error)}
	for {
		if m.paused.Load() {
			return nil, nil
		}
		if maxTxs >= 0 && env.tcount >= maxTxs {
			break
		}
		tx := ready.Peek()
		if tx == nil {
			break
		}
		// Not enough room in this block: close it. The transaction stays
		// pooled and at the front of the view for the next candidate.
		if env.gasPool.Gas() < tx.Gas() {
			m.logger.Trace("Deferring transaction past block gas", "hash", tx.Hash(), "left", env.gasPool.Gas(), "needed", tx.Gas())
			break
		}
		err := m.commitTransaction(env, statedb, tx, result)
		if err != nil {
			// Unprocessable without consuming gas: discard from the pool. The
			// sender's later nonces are no longer contiguous, skip them too
			// (the pool demotes them back to pending).
			m.logger.Warn("Transaction failed to apply", "hash", tx.Hash(), "err", err)
			m.pool.Remove(tx)
			result.Dropped = append(result.Dropped, tx)
			result.TxErrors[tx.Hash()] = err
			ready.Pop()
			continue
		}
		ready.Shift()
	}
	return m.seal(env, statedb, result)
}

// commitTransaction executes tx against the candidate, including it with a
// receipt on success or clean revert, and rolling everything back on
// consensus-level errors.
func (m *Miner) commitTransaction(env *environment, statedb *state.StateDB, tx *types.Transaction, result *Result) error {
	msg, err := core.TransactionToMessage(tx, m.signer, env.header.BaseFee)
	if err != nil {
		return err
	}
	var (
		snap    = statedb.Snapshot()
		gasLeft = env.gasPool.Gas()
	)
	statedb.SetTxContext(tx.Hash(), env.tcount)

	evm := vm.NewEVM(env.blockCtx, core.NewEVMTxContext(msg), statedb, m.chainConfig, vm.Config{})
	execResult, err := core.ApplyMessage(evm, msg, env.gasPool)
	if err != nil {
		statedb.RevertToSnapshot(snap)
		env.gasPool.SetGas(gasLeft)
		return err
	}
	env.header.GasUsed += execResult.UsedGas

	receipt := &types.Receipt{
		Type:              tx.Type(),
		CumulativeGasUsed: env.header.GasUsed,
		TxHash:            tx.Hash(),
		GasUsed:           execResult.UsedGas,
		BlockNumber:       new(big.Int).Set(env.header.Number),
		TransactionIndex:  uint(env.tcount),
	}
	if execResult.Failed() {
		receipt.Status = types.ReceiptStatusFailed
		result.TxErrors[tx.Hash()] = execResult.Err
	} else {
		receipt.Status = types.ReceiptStatusSuccessful
	}
	if msg.To == nil {
		receipt.ContractAddress = crypto.CreateAddress(msg.From, tx.Nonce())
	}
	receipt.Logs = statedb.GetLogs(tx.Hash(), env.header.Number.Uint64(), common.Hash{})
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})

	env.txs = append(env.txs, tx)
	env.receipts = append(env.receipts, receipt)
	env.tcount++
	return nil
}

// seal commits the round's state, assembles the final block and patches the
// block context into receipts and logs.
func (m *Miner) seal(env *environment, statedb *state.StateDB, result *Result) (*Result, error) {
	root, err := statedb.Commit(env.header.Number.Uint64(), m.chainConfig.IsEIP158(env.header.Number))
	if err != nil {
		return nil, fmt.Errorf("commit mined state: %w", err)
	}
	env.header.Root = root
	env.header.Bloom = types.CreateBloom(env.receipts)

	var block *types.Block
	if m.chainConfig.IsShanghai(env.header.Number, env.header.Time) {
		env.header.WithdrawalsHash = &types.EmptyWithdrawalsHash
		block = types.NewBlockWithWithdrawals(env.header, env.txs, nil, env.receipts, []*types.Withdrawal{}, trie.NewStackTrie(nil))
	} else {
		block = types.NewBlock(env.header, env.txs, nil, env.receipts, trie.NewStackTrie(nil))
	}

	// The header hash is only final now; fix up the receipts and logs.
	logIndex := uint(0)
	for _, receipt := range env.receipts {
		receipt.BlockHash = block.Hash()
		for _, l := range receipt.Logs {
			l.BlockHash = block.Hash()
			l.Index = logIndex
			logIndex++
			result.Logs = append(result.Logs, l)
		}
	}
	result.Block = block
	result.Receipts = env.receipts
	result.StateRoot = root

	m.logger.Info("Sealed block", "number", block.NumberU64(), "hash", block.Hash(), "txs", len(env.txs), "gas", block.GasUsed())
	return result, nil
}

// makeHeader derives the next candidate header from the parent.
func (m *Miner) makeHeader(parent *types.Block, timestamp uint64) *types.Header {
	if parent.Time() >= timestamp {
		timestamp = parent.Time() + 1
	}
	header := &types.Header{
		ParentHash: parent.Hash(),
		Coinbase:   m.config.Coinbase,
		Number:     new(big.Int).Add(parent.Number(), common.Big1),
		GasLimit:   m.config.GasLimit,
		Time:       timestamp,
		Extra:      m.config.ExtraData,
		MixDigest:  parent.Hash(),
		Difficulty: big.NewInt(1),
	}
	// Post-merge configurations run with zero difficulty; the EVM reads the
	// mix digest as PREVRANDAO then.
	if m.chainConfig.TerminalTotalDifficulty != nil && m.chainConfig.TerminalTotalDifficulty.Sign() == 0 {
		header.Difficulty = new(big.Int)
	}
	if m.chainConfig.IsLondon(header.Number) {
		if m.chainConfig.IsLondon(parent.Number()) {
			header.BaseFee = eip1559.CalcBaseFee(m.chainConfig, parent.Header())
		} else {
			header.BaseFee = big.NewInt(params.InitialBaseFee)
		}
	}
	return header
}
