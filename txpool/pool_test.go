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
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
)

var testSigner = types.LatestSignerForChainID(big.NewInt(1337))

// fakeState is an in-memory AccountReader.
type fakeState struct {
	nonces   map[common.Address]uint64
	balances map[common.Address]*big.Int
}

func newFakeState() *fakeState {
	return &fakeState{
		nonces:   make(map[common.Address]uint64),
		balances: make(map[common.Address]*big.Int),
	}
}

func (s *fakeState) GetNonce(addr common.Address) uint64 {
	return s.nonces[addr]
}

func (s *fakeState) GetBalance(addr common.Address) *big.Int {
	if b, ok := s.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (s *fakeState) fund(addr common.Address, ether int64) {
	s.balances[addr] = new(big.Int).Mul(big.NewInt(ether), big.NewInt(params.Ether))
}

func testConfig() Config {
	return Config{
		PriceLimit:      big.NewInt(2 * params.GWei),
		BlockGasLimit:   12_000_000,
		DefaultGasLimit: 90_000,
		DefaultGasPrice: big.NewInt(2 * params.GWei),
	}
}

func setupPool(t *testing.T) (*Pool, *fakeState) {
	t.Helper()
	state := newFakeState()
	return New(testConfig(), testSigner, state), state
}

func newAccount(t *testing.T, state *fakeState, ether int64) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	state.fund(addr, ether)
	return key, addr
}

func transfer(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, gasPrice *big.Int) *types.Transaction {
	t.Helper()
	tx, err := types.SignNewTx(key, testSigner, &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      params.TxGas,
		To:       &common.Address{0x01},
		Value:    big.NewInt(1000),
	})
	require.NoError(t, err)
	return tx
}

func TestAddValidation(t *testing.T) {
	pool, state := setupPool(t)
	key, _ := newAccount(t, state, 100)
	poorKey, poorAddr := newAccount(t, state, 100)
	state.balances[poorAddr] = big.NewInt(1) // almost broke

	lowNonceKey, lowNonceAddr := newAccount(t, state, 100)
	state.nonces[lowNonceAddr] = 5

	price := big.NewInt(2 * params.GWei)

	tests := []struct {
		name string
		tx   *types.Transaction
		want error
	}{
		{
			name: "underpriced",
			tx:   transfer(t, key, 0, big.NewInt(params.GWei)),
			want: ErrUnderpriced,
		},
		{
			name: "over block gas limit",
			tx: func() *types.Transaction {
				tx, err := types.SignNewTx(key, testSigner, &types.LegacyTx{
					Nonce: 0, GasPrice: price, Gas: 13_000_000, To: &common.Address{0x01},
				})
				require.NoError(t, err)
				return tx
			}(),
			want: ErrGasLimit,
		},
		{
			name: "nonce too low",
			tx:   transfer(t, lowNonceKey, 2, price),
			want: core.ErrNonceTooLow,
		},
		{
			name: "insufficient funds",
			tx:   transfer(t, poorKey, 0, price),
			want: core.ErrInsufficientFunds,
		},
		{
			name: "intrinsic gas",
			tx: func() *types.Transaction {
				tx, err := types.SignNewTx(key, testSigner, &types.LegacyTx{
					Nonce: 0, GasPrice: price, Gas: 20_000, To: &common.Address{0x01},
				})
				require.NoError(t, err)
				return tx
			}(),
			want: core.ErrIntrinsicGas,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := pool.Add(tt.tx, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error mismatch: have %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAddDuplicate(t *testing.T) {
	pool, state := setupPool(t)
	key, _ := newAccount(t, state, 100)

	tx := transfer(t, key, 0, big.NewInt(2*params.GWei))
	_, _, err := pool.Add(tx, nil)
	require.NoError(t, err)

	_, _, err = pool.Add(tx, nil)
	require.ErrorIs(t, err, ErrAlreadyKnown)
}

func TestPendingPromotion(t *testing.T) {
	pool, state := setupPool(t)
	key, addr := newAccount(t, state, 100)
	price := big.NewInt(2 * params.GWei)

	// A gapped transaction parks in pending.
	ok, _, err := pool.Add(transfer(t, key, 2, price), nil)
	require.NoError(t, err)
	require.False(t, ok)

	pending, executable := pool.Content()
	require.Len(t, pending[addr], 1)
	require.Empty(t, executable[addr])

	// Filling nonces 0 and 1 promotes the whole run.
	ok, _, err = pool.Add(transfer(t, key, 0, price), nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, err = pool.Add(transfer(t, key, 1, price), nil)
	require.NoError(t, err)
	require.True(t, ok)

	pending, executable = pool.Content()
	require.Empty(t, pending)
	require.Len(t, executable[addr], 3)
	for i, tx := range executable[addr] {
		require.Equal(t, uint64(i), tx.Nonce())
	}
}

func TestOrderingAcrossSenders(t *testing.T) {
	pool, state := setupPool(t)
	cheapKey, cheapAddr := newAccount(t, state, 100)
	richKey, richAddr := newAccount(t, state, 100)
	tieKey, tieAddr := newAccount(t, state, 100)

	// Admission order: cheap, tie, rich. Price order: rich first, then
	// cheap/tie at the same price resolved by first-seen.
	_, _, err := pool.Add(transfer(t, cheapKey, 0, big.NewInt(2*params.GWei)), nil)
	require.NoError(t, err)
	_, _, err = pool.Add(transfer(t, tieKey, 0, big.NewInt(2*params.GWei)), nil)
	require.NoError(t, err)
	_, _, err = pool.Add(transfer(t, richKey, 0, big.NewInt(30*params.GWei)), nil)
	require.NoError(t, err)
	_, _, err = pool.Add(transfer(t, richKey, 1, big.NewInt(30*params.GWei)), nil)
	require.NoError(t, err)

	var order []common.Address
	ready := pool.Ready()
	for !ready.Empty() {
		order = append(order, ready.Sender())
		ready.Shift()
	}
	require.Equal(t, []common.Address{richAddr, richAddr, cheapAddr, tieAddr}, order)
}

func TestOrderingWithinSender(t *testing.T) {
	pool, state := setupPool(t)
	key, _ := newAccount(t, state, 100)

	// Later nonces with higher prices must not jump the queue.
	_, _, err := pool.Add(transfer(t, key, 0, big.NewInt(2*params.GWei)), nil)
	require.NoError(t, err)
	_, _, err = pool.Add(transfer(t, key, 1, big.NewInt(50*params.GWei)), nil)
	require.NoError(t, err)

	ready := pool.Ready()
	require.Equal(t, uint64(0), ready.Peek().Nonce())
	ready.Shift()
	require.Equal(t, uint64(1), ready.Peek().Nonce())
	ready.Shift()
	require.True(t, ready.Empty())
}

func TestDrainSignal(t *testing.T) {
	pool, state := setupPool(t)
	key, _ := newAccount(t, state, 100)

	drain := make(chan struct{}, 4)
	sub := pool.SubscribeDrain(drain)
	defer sub.Unsubscribe()

	// Pending-only admission emits nothing.
	_, _, err := pool.Add(transfer(t, key, 5, big.NewInt(2*params.GWei)), nil)
	require.NoError(t, err)
	select {
	case <-drain:
		t.Fatal("drain signalled with no executables")
	default:
	}

	_, _, err = pool.Add(transfer(t, key, 0, big.NewInt(2*params.GWei)), nil)
	require.NoError(t, err)
	select {
	case <-drain:
	default:
		t.Fatal("drain not signalled on executable admission")
	}
}

func TestPauseResume(t *testing.T) {
	pool, state := setupPool(t)
	key, addr := newAccount(t, state, 100)
	price := big.NewInt(2 * params.GWei)

	drain := make(chan struct{}, 4)
	sub := pool.SubscribeDrain(drain)
	defer sub.Unsubscribe()

	pool.Pause()

	// Admission is still accepted, but nothing is promoted or signalled.
	ok, _, err := pool.Add(transfer(t, key, 0, price), nil)
	require.NoError(t, err)
	require.False(t, ok)
	select {
	case <-drain:
		t.Fatal("drain signalled while paused")
	default:
	}
	require.False(t, pool.HasExecutables())

	pool.Resume()
	require.True(t, pool.HasExecutables())
	select {
	case <-drain:
	default:
		t.Fatal("drain not signalled on resume")
	}
	_, executable := pool.Content()
	require.Len(t, executable[addr], 1)
}

func TestConfirmAdvancesAndPromotes(t *testing.T) {
	pool, state := setupPool(t)
	key, addr := newAccount(t, state, 100)
	price := big.NewInt(2 * params.GWei)

	tx0 := transfer(t, key, 0, price)
	_, _, err := pool.Add(tx0, nil)
	require.NoError(t, err)
	_, _, err = pool.Add(transfer(t, key, 2, price), nil)
	require.NoError(t, err)

	// Mining tx0 advances the account nonce to 1; nonce 2 stays pending.
	state.nonces[addr] = 1
	pool.Confirm([]*types.Transaction{tx0})

	pending, executable := pool.Content()
	require.Len(t, pending[addr], 1)
	require.Empty(t, executable)

	// Filling the gap makes nonce 2 executable again.
	_, _, err = pool.Add(transfer(t, key, 1, price), nil)
	require.NoError(t, err)
	_, executable = pool.Content()
	require.Len(t, executable[addr], 2)
}

func TestRemoveDemotesSuccessors(t *testing.T) {
	pool, state := setupPool(t)
	key, addr := newAccount(t, state, 100)
	price := big.NewInt(2 * params.GWei)

	tx0 := transfer(t, key, 0, price)
	_, _, err := pool.Add(tx0, nil)
	require.NoError(t, err)
	_, _, err = pool.Add(transfer(t, key, 1, price), nil)
	require.NoError(t, err)

	pool.Remove(tx0)

	pending, executable := pool.Content()
	require.Empty(t, executable)
	require.Len(t, pending[addr], 1)
	require.Equal(t, uint64(1), pending[addr][0].Nonce())
}

func TestClear(t *testing.T) {
	pool, state := setupPool(t)
	key, _ := newAccount(t, state, 100)

	_, _, err := pool.Add(transfer(t, key, 0, big.NewInt(2*params.GWei)), nil)
	require.NoError(t, err)
	_, _, err = pool.Add(transfer(t, key, 7, big.NewInt(2*params.GWei)), nil)
	require.NoError(t, err)

	pool.Clear()

	pendingCount, executableCount := pool.Stats()
	require.Zero(t, pendingCount)
	require.Zero(t, executableCount)

	// Cleared hashes may be resubmitted.
	_, _, err = pool.Add(transfer(t, key, 0, big.NewInt(2*params.GWei)), nil)
	require.NoError(t, err)
}

func TestSignWithKeyFillsDefaults(t *testing.T) {
	pool, state := setupPool(t)
	key, addr := newAccount(t, state, 100)
	state.nonces[addr] = 4

	payload := types.NewTx(&types.LegacyTx{
		To:    &common.Address{0x02},
		Value: big.NewInt(1),
	})
	ok, signed, err := pool.Add(payload, key)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, uint64(4), signed.Nonce())
	require.Equal(t, uint64(90_000), signed.Gas())
	require.Zero(t, signed.GasPrice().Cmp(big.NewInt(2*params.GWei)))

	from, err := types.Sender(testSigner, signed)
	require.NoError(t, err)
	require.Equal(t, addr, from)

	// The signed identity differs from the raw payload.
	require.NotEqual(t, payload.Hash(), signed.Hash())
}
