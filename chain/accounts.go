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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AccountState is the resolved state of an account at some state root.
type AccountState struct {
	Address     common.Address
	Nonce       uint64
	Balance     *big.Int
	CodeHash    common.Hash
	StorageRoot common.Hash
}

// GetAccount resolves an account against the world trie at the given state
// root. Missing accounts resolve to the empty account.
func (bc *Blockchain) GetAccount(addr common.Address, root common.Hash) (*AccountState, error) {
	tr, err := bc.sdb.OpenTrie(root)
	if err != nil {
		return nil, err
	}
	stored, err := tr.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return &AccountState{
			Address:     addr,
			Balance:     new(big.Int),
			CodeHash:    types.EmptyCodeHash,
			StorageRoot: types.EmptyRootHash,
		}, nil
	}
	return &AccountState{
		Address:     addr,
		Nonce:       stored.Nonce,
		Balance:     stored.Balance.ToBig(),
		CodeHash:    common.BytesToHash(stored.CodeHash),
		StorageRoot: stored.Root,
	}, nil
}

// GetStorageAt reads one storage slot of an account at the given state root.
func (bc *Blockchain) GetStorageAt(addr common.Address, slot common.Hash, root common.Hash) (common.Hash, error) {
	statedb, err := bc.StateAt(root)
	if err != nil {
		return common.Hash{}, err
	}
	return statedb.GetState(addr, slot), nil
}

// GetCode reads the contract code of an account at the given state root.
func (bc *Blockchain) GetCode(addr common.Address, root common.Hash) ([]byte, error) {
	statedb, err := bc.StateAt(root)
	if err != nil {
		return nil, err
	}
	return statedb.GetCode(addr), nil
}

// headState reads nonces and balances at the current chain head for the
// transaction pool.
type headState struct {
	bc *Blockchain
}

func (h headState) GetNonce(addr common.Address) uint64 {
	statedb, err := h.bc.StateAt(h.bc.CurrentBlock().Root())
	if err != nil {
		return 0
	}
	return statedb.GetNonce(addr)
}

func (h headState) GetBalance(addr common.Address) *big.Int {
	statedb, err := h.bc.StateAt(h.bc.CurrentBlock().Root())
	if err != nil {
		return new(big.Int)
	}
	return statedb.GetBalance(addr).ToBig()
}
