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
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
)

// setupGenesis loads the existing chain head or creates the genesis block,
// seeding the initial accounts into the world trie.
func (bc *Blockchain) setupGenesis() (*types.Block, error) {
	if head := bc.db.Latest(); head != nil {
		// Existing database; the state under the head root must resolve.
		if _, err := state.New(head.Root(), bc.sdb, nil); err != nil {
			return nil, fmt.Errorf("head state missing for block %d: %w", head.NumberU64(), err)
		}
		bc.logger.Info("Resuming existing chain", "head", head.NumberU64(), "hash", head.Hash())
		return head, nil
	}

	statedb, err := state.New(types.EmptyRootHash, bc.sdb, nil)
	if err != nil {
		return nil, err
	}
	for _, account := range bc.config.InitialAccounts {
		if account.Balance != nil {
			statedb.SetBalance(account.Address, uint256.MustFromBig(account.Balance))
		}
	}
	root, err := statedb.Commit(0, bc.chainConfig.IsEIP158(common.Big0))
	if err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}
	if root != types.EmptyRootHash {
		if err := bc.sdb.TrieDB().Commit(root, false); err != nil {
			return nil, fmt.Errorf("flush genesis trie: %w", err)
		}
	}

	header := &types.Header{
		Number:     new(big.Int),
		Root:       root,
		Coinbase:   bc.config.Coinbase,
		GasLimit:   bc.config.BlockGasLimit,
		Time:       bc.clock.Timestamp(),
		Extra:      bc.config.ExtraData,
		Difficulty: big.NewInt(1),
	}
	if bc.chainConfig.TerminalTotalDifficulty != nil && bc.chainConfig.TerminalTotalDifficulty.Sign() == 0 {
		header.Difficulty = new(big.Int)
	}
	if bc.chainConfig.IsLondon(header.Number) {
		header.BaseFee = big.NewInt(params.InitialBaseFee)
	}
	var block *types.Block
	if bc.chainConfig.IsShanghai(header.Number, header.Time) {
		header.WithdrawalsHash = &types.EmptyWithdrawalsHash
		block = types.NewBlockWithWithdrawals(header, nil, nil, nil, []*types.Withdrawal{}, trie.NewStackTrie(nil))
	} else {
		block = types.NewBlock(header, nil, nil, nil, trie.NewStackTrie(nil))
	}

	batch := bc.db.NewBatch()
	if err := bc.db.WriteBlock(batch, block); err != nil {
		return nil, err
	}
	if err := bc.db.WriteHeadBlockHash(batch, block.Hash()); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("write genesis block: %w", err)
	}
	bc.db.SetLatest(block)

	bc.logger.Info("Created genesis block", "hash", block.Hash(), "root", root, "accounts", len(bc.config.InitialAccounts))
	return block, nil
}
