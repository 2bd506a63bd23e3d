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

// Package chain implements the development chain controller: it accepts
// transactions, orders them into blocks on the configured cadence, executes
// them against the world state, persists blocks, transactions, receipts and
// logs, and supports whole-chain snapshot and revert.
package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/evmforge/devchain/chaindb"
	"github.com/evmforge/devchain/clock"
	"github.com/evmforge/devchain/miner"
	"github.com/evmforge/devchain/txpool"
)

// Lifecycle states of the controller. Pausing is tracked separately.
const (
	statusStarting int32 = iota
	statusStarted
	statusStopping
	statusStopped
)

// Blockchain is the coordinator of the development chain.
type Blockchain struct {
	config      *Config
	chainConfig *params.ChainConfig

	db     *chaindb.Database
	sdb    state.Database
	pool   *txpool.Pool
	miner  *miner.Miner
	clock  *clock.Clock
	signer types.Signer

	status atomic.Int32
	paused atomic.Bool

	// commitMu serializes all head-advancing work (fill, save, emit) and
	// revert. Its holder is the sole writer of the head pointer.
	commitMu     sync.Mutex
	currentBlock atomic.Pointer[types.Block]

	chainFeed     event.Feed
	logsFeed      event.Feed
	pendingFeed   event.Feed
	startFeed     event.Feed
	stopFeed      event.Feed
	finalizedFeed event.Feed
	scope         event.SubscriptionScope

	// Snapshot state, guarded by snapMu. postBlocks tracks blocks committed
	// after the earliest live snapshot, newest first.
	snapMu     sync.Mutex
	snaps      []snapshotEntry
	postBlocks *postBlock

	drainCh  chan struct{}
	drainSub event.Subscription
	quit     chan struct{}
	wg       sync.WaitGroup

	logger log.Logger
}

// New assembles a chain from the configuration: it opens the key-value
// store, loads or creates the genesis block and wires the pool and miner.
// The mining discipline does not run until Start.
func New(config *Config) (*Blockchain, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	chainConfig, err := config.chainConfig()
	if err != nil {
		return nil, err
	}
	kv, err := chaindb.Open(config.Datadir)
	if err != nil {
		return nil, fmt.Errorf("open chain database: %w", err)
	}
	bc := &Blockchain{
		config:      config,
		chainConfig: chainConfig,
		db:          chaindb.New(kv),
		sdb:         state.NewDatabase(kv),
		clock:       clock.New(config.Time),
		signer:      types.LatestSigner(chainConfig),
		quit:        make(chan struct{}),
		logger:      log.New("module", "chain"),
	}
	bc.status.Store(statusStarting)

	head, err := bc.setupGenesis()
	if err != nil {
		kv.Close()
		return nil, err
	}
	bc.currentBlock.Store(head)

	bc.pool = txpool.New(txpool.Config{
		PriceLimit:      config.GasPrice,
		BlockGasLimit:   config.BlockGasLimit,
		DefaultGasLimit: config.TransactionGasLimit,
		DefaultGasPrice: config.GasPrice,
	}, bc.signer, headState{bc})

	bc.miner = miner.New(chainConfig, miner.Config{
		Coinbase:  config.Coinbase,
		ExtraData: config.ExtraData,
		GasLimit:  config.BlockGasLimit,
	}, bc.pool, bc)

	return bc, nil
}

// Start begins the configured mining discipline and emits the start signal.
func (bc *Blockchain) Start() error {
	if !bc.status.CompareAndSwap(statusStarting, statusStarted) {
		if bc.status.Load() == statusStarted {
			return ErrAlreadyStarted
		}
		return ErrStopped
	}
	if bc.config.BlockTime == 0 {
		bc.drainCh = make(chan struct{}, 1)
		bc.drainSub = bc.pool.SubscribeDrain(bc.drainCh)
		bc.wg.Add(1)
		go bc.instamineLoop()
	} else {
		bc.wg.Add(1)
		go bc.intervalLoop(time.Duration(bc.config.BlockTime) * time.Second)
	}
	bc.startFeed.Send(struct{}{})
	bc.logger.Info("Chain started", "blockTime", bc.config.BlockTime, "instamine", bc.config.BlockTime == 0)
	return nil
}

// Stop terminates the mining discipline, detaches every subscriber and
// closes the database. Safe to call once from any state.
func (bc *Blockchain) Stop() error {
	if bc.status.CompareAndSwap(statusStarting, statusStopped) {
		bc.scope.Close()
		bc.pool.Close()
		return bc.db.Close()
	}
	if !bc.status.CompareAndSwap(statusStarted, statusStopping) {
		return nil // already stopping or stopped
	}
	if bc.drainSub != nil {
		bc.drainSub.Unsubscribe()
	}
	close(bc.quit)
	bc.wg.Wait()

	// Wait out any in-flight save before tearing the database down.
	bc.commitMu.Lock()
	defer bc.commitMu.Unlock()

	bc.stopFeed.Send(struct{}{})
	bc.scope.Close()
	bc.pool.Close()
	bc.status.Store(statusStopped)
	bc.logger.Info("Chain stopped", "head", bc.CurrentBlock().NumberU64())
	return bc.db.Close()
}

// Pause suspends block production without touching admission.
func (bc *Blockchain) Pause() {
	bc.paused.Store(true)
	bc.miner.Pause()
	bc.pool.Pause()
}

// Resume re-enables block production and re-arms the drain signal.
func (bc *Blockchain) Resume() {
	bc.paused.Store(false)
	bc.miner.Resume()
	bc.pool.Resume()
}

// CurrentBlock returns the head block.
func (bc *Blockchain) CurrentBlock() *types.Block {
	return bc.currentBlock.Load()
}

// Config returns the chain parameters.
func (bc *Blockchain) Config() *Config {
	return bc.config
}

// ChainConfig returns the consensus parameters derived from the hardfork.
func (bc *Blockchain) ChainConfig() *params.ChainConfig {
	return bc.chainConfig
}

// Database exposes the record stores.
func (bc *Blockchain) Database() *chaindb.Database {
	return bc.db
}

// Pool exposes the transaction pool.
func (bc *Blockchain) Pool() *txpool.Pool {
	return bc.pool
}

// Clock exposes the chain's adjustable clock.
func (bc *Blockchain) Clock() *clock.Clock {
	return bc.clock
}

// StateAt opens a state view rooted at the given state root.
func (bc *Blockchain) StateAt(root common.Hash) (*state.StateDB, error) {
	return state.New(root, bc.sdb, nil)
}

// GetHeader serves header lookups for the BLOCKHASH opcode.
func (bc *Blockchain) GetHeader(hash common.Hash, number uint64) *types.Header {
	block := bc.db.ReadBlock(hash)
	if block == nil {
		return nil
	}
	return block.Header()
}

// GetBlock retrieves a block by hash.
func (bc *Blockchain) GetBlock(hash common.Hash) *types.Block {
	return bc.db.ReadBlock(hash)
}

// IncreaseTime moves the chain clock forward by the given number of seconds,
// effective on the next block's timestamp. Returns the total offset in
// seconds.
func (bc *Blockchain) IncreaseTime(seconds int64) int64 {
	return bc.clock.IncreaseTime(time.Duration(seconds) * time.Second)
}

// SetTime pins the chain clock to the given time, effective on the next
// block's timestamp.
func (bc *Blockchain) SetTime(t time.Time) int64 {
	return bc.clock.SetTime(t)
}

// QueueTransaction submits a transaction to the pool and returns its final
// hash. With a secret key the payload is signed on admission, which may
// change the hash. In legacy-instamine mode the call does not return until
// the transaction has been mined (or discarded), and surfaces its runtime
// failure when vmErrorsOnRPCResponse is set.
func (bc *Blockchain) QueueTransaction(tx *types.Transaction, key *ecdsa.PrivateKey) (common.Hash, error) {
	switch bc.status.Load() {
	case statusStarting:
		return common.Hash{}, ErrNotStarted
	case statusStopping, statusStopped:
		return common.Hash{}, ErrStopped
	}

	var (
		finalized chan txFinalized
		sub       event.Subscription
	)
	if bc.config.LegacyInstamine {
		// Subscribe before admission so the mined signal cannot be missed.
		finalized = make(chan txFinalized, 16)
		sub = bc.finalizedFeed.Subscribe(finalized)
		defer sub.Unsubscribe()
	}

	_, signed, err := bc.pool.Add(tx, key)
	if err != nil {
		return common.Hash{}, err
	}
	bc.pendingFeed.Send(PendingTxEvent{Tx: signed})

	if !bc.config.LegacyInstamine {
		return signed.Hash(), nil
	}
	for {
		select {
		case evt := <-finalized:
			if evt.hash != signed.Hash() {
				continue
			}
			if evt.err != nil && bc.config.VMErrorsOnRPCResponse {
				return signed.Hash(), evt.err
			}
			return signed.Hash(), nil
		case <-bc.quit:
			return signed.Hash(), ErrStopped
		}
	}
}

// Mine produces blocks on demand: up to maxTxs transactions per block (-1
// for no bound), at the given timestamp (0 uses the chain clock), a single
// block when onlyOneBlock is set. It serializes behind any in-flight save.
func (bc *Blockchain) Mine(maxTxs int, timestamp uint64, onlyOneBlock bool) error {
	if s := bc.status.Load(); s == statusStopping || s == statusStopped {
		return ErrStopped
	}
	bc.commitMu.Lock()
	defer bc.commitMu.Unlock()
	return bc.mineAndSaveLocked(maxTxs, timestamp, onlyOneBlock)
}

// mineAndSaveLocked runs one fill→save→emit round under commitMu.
func (bc *Blockchain) mineAndSaveLocked(maxTxs int, timestamp uint64, onlyOneBlock bool) error {
	if timestamp == 0 {
		timestamp = bc.clock.Timestamp()
	}
	results, err := bc.miner.Mine(bc.CurrentBlock(), timestamp, maxTxs, onlyOneBlock)
	if err != nil {
		return err
	}
	for _, result := range results {
		if err := bc.saveLocked(result); err != nil {
			return err
		}
	}
	return nil
}

// saveLocked persists one mined block in a single batch and emits its
// events: blockLogs strictly before block.
func (bc *Blockchain) saveLocked(result *miner.Result) error {
	block := result.Block
	number := block.NumberU64()

	// Make the mined state durable first: should the record batch fail
	// afterwards, the orphaned trie nodes are harmless since the head
	// pointer only moves inside the batch.
	if result.StateRoot != types.EmptyRootHash {
		if err := bc.sdb.TrieDB().Commit(result.StateRoot, false); err != nil {
			return fmt.Errorf("flush state of block %d: %w", number, err)
		}
	}

	batch := bc.db.NewBatch()
	for i, tx := range block.Transactions() {
		from, err := types.Sender(bc.signer, tx)
		if err != nil {
			return fmt.Errorf("recover sender of %x: %w", tx.Hash(), err)
		}
		rec, err := chaindb.NewTxRecord(tx, from, block.Hash(), number, uint64(i))
		if err != nil {
			return err
		}
		if err := bc.db.WriteTxRecord(batch, rec); err != nil {
			return err
		}
	}
	for _, receipt := range result.Receipts {
		if err := bc.db.WriteReceipt(batch, receipt); err != nil {
			return err
		}
	}
	blockLogs := chaindb.NewBlockLogs(block.Hash(), number, result.Logs)
	if err := bc.db.WriteBlockLogs(batch, blockLogs); err != nil {
		return err
	}
	if err := bc.db.WriteBlock(batch, block); err != nil {
		return err
	}
	if err := bc.db.WriteHeadBlockHash(batch, block.Hash()); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("commit block %d: %w", number, err)
	}

	bc.db.SetLatest(block)
	bc.currentBlock.Store(block)
	bc.recordPostSnapshotBlock(block)
	bc.pool.Confirm(block.Transactions())

	// Release blocked legacy-instamine submitters before any feed
	// subscriber can observe the block.
	for _, tx := range block.Transactions() {
		bc.finalizedFeed.Send(txFinalized{hash: tx.Hash(), err: result.TxErrors[tx.Hash()]})
	}
	for _, tx := range result.Dropped {
		bc.finalizedFeed.Send(txFinalized{hash: tx.Hash(), err: result.TxErrors[tx.Hash()]})
	}

	bc.logsFeed.Send(BlockLogsEvent{Logs: blockLogs})
	bc.chainFeed.Send(ChainEvent{Block: block})
	return nil
}

// instamineLoop mines one single-transaction block per executable
// transaction, driven by the pool's drain signal.
func (bc *Blockchain) instamineLoop() {
	defer bc.wg.Done()
	for {
		select {
		case <-bc.drainCh:
			for !bc.paused.Load() && bc.pool.HasExecutables() {
				bc.commitMu.Lock()
				err := bc.mineAndSaveLocked(1, 0, true)
				bc.commitMu.Unlock()
				if err != nil {
					bc.logger.Error("Instamine round failed", "err", err)
					break
				}
			}
		case <-bc.quit:
			return
		}
	}
}

// intervalLoop mines every blockTime seconds, picking up however many
// transactions are executable at the tick.
func (bc *Blockchain) intervalLoop(interval time.Duration) {
	defer bc.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if bc.paused.Load() {
				continue
			}
			bc.commitMu.Lock()
			err := bc.mineAndSaveLocked(-1, 0, false)
			bc.commitMu.Unlock()
			if err != nil {
				bc.logger.Error("Interval mining round failed", "err", err)
			}
		case <-bc.quit:
			return
		}
	}
}

// chainContext adapts the chain for EVM block context construction.
type chainContext struct {
	bc *Blockchain
}

func (c chainContext) Engine() consensus.Engine { return nil }

func (c chainContext) GetHeader(hash common.Hash, number uint64) *types.Header {
	return c.bc.GetHeader(hash, number)
}

// SimulateTransaction runs a read-only call against a state view rooted at
// the parent block, leaving head state, pool and database untouched. With
// vmErrorsOnRPCResponse set, execution failures surface as errors carrying
// the unpacked revert reason when the revert data holds one, or the VM error
// otherwise; without it the revert data is returned.
func (bc *Blockchain) SimulateTransaction(call ethereum.CallMsg, parent *types.Block) ([]byte, error) {
	if s := bc.status.Load(); s == statusStopping || s == statusStopped {
		return nil, ErrStopped
	}
	statedb, err := bc.StateAt(parent.Root())
	if err != nil {
		return nil, fmt.Errorf("state at block %d: %w", parent.NumberU64(), err)
	}
	gas := call.Gas
	if gas == 0 || gas > bc.config.CallGasLimit {
		gas = bc.config.CallGasLimit
	}
	gasPrice := call.GasPrice
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	msg := &core.Message{
		From:              call.From,
		To:                call.To,
		Nonce:             statedb.GetNonce(call.From),
		Value:             value,
		GasLimit:          gas,
		GasPrice:          gasPrice,
		GasFeeCap:         gasPrice,
		GasTipCap:         gasPrice,
		Data:              call.Data,
		AccessList:        call.AccessList,
		SkipAccountChecks: true,
	}
	blockCtx := core.NewEVMBlockContext(parent.Header(), chainContext{bc}, &bc.config.Coinbase)
	evm := vm.NewEVM(blockCtx, core.NewEVMTxContext(msg), statedb, bc.chainConfig, vm.Config{NoBaseFee: true})

	result, err := core.ApplyMessage(evm, msg, new(core.GasPool).AddGas(math.MaxUint64))
	if err != nil {
		// Pre-execution failure, e.g. intrinsic gas above the supplied gas.
		return nil, err
	}
	if result.Failed() {
		if bc.config.VMErrorsOnRPCResponse {
			if reason, unpackErr := abi.UnpackRevert(result.Revert()); unpackErr == nil {
				return result.Revert(), fmt.Errorf("execution reverted: %s", reason)
			}
			return result.Revert(), fmt.Errorf("execution failed: %w", result.Err)
		}
		return result.Revert(), nil
	}
	return result.Return(), nil
}
