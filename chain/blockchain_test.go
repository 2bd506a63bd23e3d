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
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
)

func etherBalance(ether int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(ether), big.NewInt(params.Ether))
}

// newTestChain starts a chain with three accounts holding 100 ether each.
func newTestChain(t *testing.T, mutate func(*Config)) (*Blockchain, []*ecdsa.PrivateKey, []common.Address) {
	t.Helper()

	var (
		keys  []*ecdsa.PrivateKey
		addrs []common.Address
	)
	config := DefaultConfig()
	for i := 0; i < 3; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		addr := crypto.PubkeyToAddress(key.PublicKey)
		keys = append(keys, key)
		addrs = append(addrs, addr)
		config.InitialAccounts = append(config.InitialAccounts, Account{
			Address: addr,
			Balance: etherBalance(100),
			Key:     key,
		})
	}
	if mutate != nil {
		mutate(config)
	}
	bc, err := New(config)
	require.NoError(t, err)
	require.NoError(t, bc.Start())
	t.Cleanup(func() { bc.Stop() })
	return bc, keys, addrs
}

func signedTransfer(t *testing.T, bc *Blockchain, key *ecdsa.PrivateKey, nonce uint64, to common.Address, value *big.Int) *types.Transaction {
	t.Helper()
	tx, err := types.SignNewTx(key, types.LatestSigner(bc.ChainConfig()), &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(20 * params.GWei),
		Gas:      params.TxGas,
		To:       &to,
		Value:    value,
	})
	require.NoError(t, err)
	return tx
}

func waitForBlock(t *testing.T, ch chan ChainEvent, timeout time.Duration) *types.Block {
	t.Helper()
	select {
	case evt := <-ch:
		return evt.Block
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a block")
		return nil
	}
}

func TestGenesisBootstrap(t *testing.T) {
	bc, _, addrs := newTestChain(t, nil)

	head := bc.CurrentBlock()
	require.Equal(t, uint64(0), head.NumberU64())
	require.Equal(t, head.Hash(), bc.Database().Latest().Hash())
	require.Equal(t, head.Hash(), bc.Database().Earliest().Hash())

	// Seeded balance is visible through the account manager and the state
	// root recorded in the genesis header resolves.
	account, err := bc.GetAccount(addrs[0], head.Root())
	require.NoError(t, err)
	require.Equal(t, etherBalance(100), account.Balance)
	require.Zero(t, account.Nonce)

	statedb, err := bc.StateAt(head.Root())
	require.NoError(t, err)
	require.Equal(t, etherBalance(100), statedb.GetBalance(addrs[1]).ToBig())
}

func TestInstamineSingleTransfer(t *testing.T) {
	bc, keys, addrs := newTestChain(t, nil)

	blocks := make(chan ChainEvent, 4)
	sub := bc.SubscribeChainEvent(blocks)
	defer sub.Unsubscribe()

	tx := signedTransfer(t, bc, keys[0], 0, addrs[1], etherBalance(1))
	hash, err := bc.QueueTransaction(tx, nil)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), hash)

	block := waitForBlock(t, blocks, 5*time.Second)
	require.Equal(t, uint64(1), block.NumberU64())
	require.Len(t, block.Transactions(), 1)
	require.Equal(t, hash, block.Transactions()[0].Hash())

	// Exact balance movement at the fixed gas price.
	fee := new(big.Int).Mul(big.NewInt(20*params.GWei), new(big.Int).SetUint64(params.TxGas))
	wantSender := new(big.Int).Sub(etherBalance(99), fee)

	sender, err := bc.GetAccount(addrs[0], block.Root())
	require.NoError(t, err)
	require.Equal(t, wantSender, sender.Balance)
	recipient, err := bc.GetAccount(addrs[1], block.Root())
	require.NoError(t, err)
	require.Equal(t, etherBalance(101), recipient.Balance)

	receipt := bc.Database().ReadReceipt(hash)
	require.NotNil(t, receipt)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(t, block.Hash(), receipt.BlockHash)

	rec := bc.Database().ReadTxRecord(hash)
	require.NotNil(t, rec)
	require.Equal(t, block.Hash(), rec.BlockHash)
	require.Equal(t, uint64(0), rec.Index)
	require.Equal(t, addrs[0], rec.From)
}

func TestInstamineOneBlockPerTransaction(t *testing.T) {
	bc, keys, addrs := newTestChain(t, nil)

	blocks := make(chan ChainEvent, 8)
	sub := bc.SubscribeChainEvent(blocks)
	defer sub.Unsubscribe()

	for nonce := uint64(0); nonce < 3; nonce++ {
		_, err := bc.QueueTransaction(signedTransfer(t, bc, keys[0], nonce, addrs[1], big.NewInt(1)), nil)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		block := waitForBlock(t, blocks, 5*time.Second)
		require.Len(t, block.Transactions(), 1)
		require.Equal(t, uint64(i), block.Transactions()[0].Nonce())
	}
	require.Equal(t, uint64(3), bc.CurrentBlock().NumberU64())
}

func TestIntervalMining(t *testing.T) {
	bc, keys, addrs := newTestChain(t, func(config *Config) {
		config.BlockTime = 1
	})

	blocks := make(chan ChainEvent, 4)
	sub := bc.SubscribeChainEvent(blocks)
	defer sub.Unsubscribe()

	for nonce := uint64(0); nonce < 3; nonce++ {
		_, err := bc.QueueTransaction(signedTransfer(t, bc, keys[0], nonce, addrs[1], big.NewInt(1)), nil)
		require.NoError(t, err)
	}

	block := waitForBlock(t, blocks, 5*time.Second)
	require.Len(t, block.Transactions(), 3)
	for i, tx := range block.Transactions() {
		require.Equal(t, uint64(i), tx.Nonce())
	}
	pending, executable := bc.Pool().Stats()
	require.Zero(t, pending)
	require.Zero(t, executable)
}

func TestMineOnDemand(t *testing.T) {
	bc, _, _ := newTestChain(t, func(config *Config) {
		config.BlockTime = 3600 // effectively never ticks during the test
	})

	require.NoError(t, bc.Mine(-1, 0, true))
	require.Equal(t, uint64(1), bc.CurrentBlock().NumberU64())

	// Empty blocks carry the parent state forward.
	require.Equal(t, bc.Database().ReadBlockByNumber(0).Root(), bc.CurrentBlock().Root())
}

func TestMineWithExplicitTimestamp(t *testing.T) {
	bc, _, _ := newTestChain(t, func(config *Config) {
		config.BlockTime = 3600
	})

	target := bc.CurrentBlock().Time() + 1000
	require.NoError(t, bc.Mine(-1, target, true))
	require.Equal(t, target, bc.CurrentBlock().Time())
}

func TestIncreaseTimeAffectsNextBlock(t *testing.T) {
	bc, _, _ := newTestChain(t, func(config *Config) {
		config.BlockTime = 3600
	})

	bc.IncreaseTime(7200)
	require.NoError(t, bc.Mine(-1, 0, true))

	drift := int64(bc.CurrentBlock().Time()) - time.Now().Unix()
	if drift < 7000 || drift > 7400 {
		t.Fatalf("block timestamp drift %d, want ~7200", drift)
	}
}

func TestSimulationIsolation(t *testing.T) {
	bc, _, addrs := newTestChain(t, nil)

	head := bc.CurrentBlock()
	ret, err := bc.SimulateTransaction(ethereum.CallMsg{
		From:  addrs[0],
		To:    &addrs[1],
		Value: etherBalance(5),
	}, head)
	require.NoError(t, err)
	require.Empty(t, ret)

	// Nothing moved: no block, no state change, no pool entry.
	require.Equal(t, head.Hash(), bc.CurrentBlock().Hash())
	account, err := bc.GetAccount(addrs[1], bc.CurrentBlock().Root())
	require.NoError(t, err)
	require.Equal(t, etherBalance(100), account.Balance)
	pending, executable := bc.Pool().Stats()
	require.Zero(t, pending)
	require.Zero(t, executable)
}

func TestSimulateReturnsRevertData(t *testing.T) {
	bc, _, addrs := newTestChain(t, nil)

	// Init code that reverts with empty return data: PUSH1 0 PUSH1 0 REVERT.
	ret, err := bc.SimulateTransaction(ethereum.CallMsg{
		From: addrs[0],
		Data: []byte{0x60, 0x00, 0x60, 0x00, 0xfd},
	}, bc.CurrentBlock())
	require.NoError(t, err)
	require.Empty(t, ret)
}

func TestSimulateVMErrorsSurface(t *testing.T) {
	bc, _, addrs := newTestChain(t, func(config *Config) {
		config.VMErrorsOnRPCResponse = true
	})

	_, err := bc.SimulateTransaction(ethereum.CallMsg{
		From: addrs[0],
		Data: []byte{0x60, 0x00, 0x60, 0x00, 0xfd},
	}, bc.CurrentBlock())
	require.Error(t, err)
}

func TestLegacyInstamine(t *testing.T) {
	bc, keys, addrs := newTestChain(t, func(config *Config) {
		config.LegacyInstamine = true
	})

	tx := signedTransfer(t, bc, keys[0], 0, addrs[1], etherBalance(1))
	hash, err := bc.QueueTransaction(tx, nil)
	require.NoError(t, err)

	// Submission returns only after the receipt exists.
	receipt := bc.Database().ReadReceipt(hash)
	require.NotNil(t, receipt)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(t, uint64(1), bc.CurrentBlock().NumberU64())
}

func TestLegacyInstamineSurfacesVMErrors(t *testing.T) {
	bc, keys, _ := newTestChain(t, func(config *Config) {
		config.LegacyInstamine = true
		config.VMErrorsOnRPCResponse = true
	})

	// Creation whose init code hits an invalid opcode; it mines with a
	// failed receipt and the failure surfaces on the submission.
	tx, err := types.SignNewTx(keys[0], types.LatestSigner(bc.ChainConfig()), &types.LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(20 * params.GWei),
		Gas:      100_000,
		Value:    new(big.Int),
		Data:     []byte{0xfe},
	})
	require.NoError(t, err)

	hash, err := bc.QueueTransaction(tx, nil)
	require.Error(t, err)

	receipt := bc.Database().ReadReceipt(hash)
	require.NotNil(t, receipt)
	require.Equal(t, types.ReceiptStatusFailed, receipt.Status)
}

func TestQueueTransactionSignsPayload(t *testing.T) {
	bc, keys, addrs := newTestChain(t, nil)

	blocks := make(chan ChainEvent, 4)
	sub := bc.SubscribeChainEvent(blocks)
	defer sub.Unsubscribe()

	payload := types.NewTx(&types.LegacyTx{
		To:    &addrs[1],
		Value: big.NewInt(1),
	})
	hash, err := bc.QueueTransaction(payload, keys[2])
	require.NoError(t, err)
	require.NotEqual(t, payload.Hash(), hash)

	block := waitForBlock(t, blocks, 5*time.Second)
	require.Equal(t, hash, block.Transactions()[0].Hash())
	require.Equal(t, addrs[2], bc.Database().ReadTxRecord(hash).From)
}

func TestBlockLogsDeliveredBeforeBlock(t *testing.T) {
	bc, keys, addrs := newTestChain(t, nil)

	blocks := make(chan ChainEvent, 1)
	logs := make(chan BlockLogsEvent, 1)
	blockSub := bc.SubscribeChainEvent(blocks)
	defer blockSub.Unsubscribe()
	logsSub := bc.SubscribeBlockLogs(logs)
	defer logsSub.Unsubscribe()

	_, err := bc.QueueTransaction(signedTransfer(t, bc, keys[0], 0, addrs[1], big.NewInt(1)), nil)
	require.NoError(t, err)

	block := waitForBlock(t, blocks, 5*time.Second)
	// The logs event was sent (and buffered) before the block event.
	select {
	case evt := <-logs:
		require.Equal(t, block.Hash(), evt.Logs.BlockHash)
		require.Equal(t, block.NumberU64(), evt.Logs.BlockNumber)
	default:
		t.Fatal("block event delivered before its blockLogs event")
	}
}

func TestPendingTransactionEvent(t *testing.T) {
	bc, keys, addrs := newTestChain(t, nil)

	pending := make(chan PendingTxEvent, 1)
	sub := bc.SubscribePendingTransactions(pending)
	defer sub.Unsubscribe()

	tx := signedTransfer(t, bc, keys[0], 0, addrs[1], big.NewInt(1))
	_, err := bc.QueueTransaction(tx, nil)
	require.NoError(t, err)

	select {
	case evt := <-pending:
		require.Equal(t, tx.Hash(), evt.Tx.Hash())
	case <-time.After(time.Second):
		t.Fatal("no pending transaction event")
	}
}

func TestPauseSuspendsMining(t *testing.T) {
	bc, keys, addrs := newTestChain(t, nil)

	blocks := make(chan ChainEvent, 4)
	sub := bc.SubscribeChainEvent(blocks)
	defer sub.Unsubscribe()

	bc.Pause()
	_, err := bc.QueueTransaction(signedTransfer(t, bc, keys[0], 0, addrs[1], big.NewInt(1)), nil)
	require.NoError(t, err)

	select {
	case <-blocks:
		t.Fatal("block mined while paused")
	case <-time.After(300 * time.Millisecond):
	}

	bc.Resume()
	block := waitForBlock(t, blocks, 5*time.Second)
	require.Len(t, block.Transactions(), 1)
}

func TestQueueValidationErrors(t *testing.T) {
	bc, keys, addrs := newTestChain(t, nil)

	// Below the 2 gwei minimum.
	tx, err := types.SignNewTx(keys[0], types.LatestSigner(bc.ChainConfig()), &types.LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(params.GWei),
		Gas:      params.TxGas,
		To:       &addrs[1],
		Value:    big.NewInt(1),
	})
	require.NoError(t, err)
	_, err = bc.QueueTransaction(tx, nil)
	require.Error(t, err)
	require.Equal(t, uint64(0), bc.CurrentBlock().NumberU64())
}

func TestStoppedChainRejectsWork(t *testing.T) {
	bc, keys, addrs := newTestChain(t, nil)
	require.NoError(t, bc.Stop())

	_, err := bc.QueueTransaction(signedTransfer(t, bc, keys[0], 0, addrs[1], big.NewInt(1)), nil)
	require.ErrorIs(t, err, ErrStopped)
	require.ErrorIs(t, bc.Mine(-1, 0, true), ErrStopped)

	_, err = bc.Revert(1)
	require.ErrorIs(t, err, ErrStopped)
}

func TestStartStopSignals(t *testing.T) {
	config := DefaultConfig()
	bc, err := New(config)
	require.NoError(t, err)

	started := make(chan struct{}, 1)
	stopped := make(chan struct{}, 1)
	startSub := bc.SubscribeStart(started)
	defer startSub.Unsubscribe()
	stopSub := bc.SubscribeStop(stopped)
	defer stopSub.Unsubscribe()

	require.NoError(t, bc.Start())
	select {
	case <-started:
	default:
		t.Fatal("no start signal")
	}
	require.ErrorIs(t, bc.Start(), ErrAlreadyStarted)

	require.NoError(t, bc.Stop())
	select {
	case <-stopped:
	default:
		t.Fatal("no stop signal")
	}
}
