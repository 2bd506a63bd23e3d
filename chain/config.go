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
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// Development-chain defaults.
const (
	DefaultChainID                    = 1337
	DefaultBlockGasLimit              = 12_000_000
	DefaultTransactionGasLimit uint64 = 90_000
	DefaultCallGasLimit        uint64 = 1<<53 - 1
	DefaultHardfork                   = "london"

	maxExtraDataSize = 32
)

// DefaultGasPrice returns the default minimum gas price (2 gwei).
func DefaultGasPrice() *big.Int {
	return big.NewInt(2 * params.GWei)
}

// Account is an account seeded into the genesis state. The key, when given,
// lets the chain sign submitted payloads on the account's behalf.
type Account struct {
	Address common.Address
	Balance *big.Int
	Key     *ecdsa.PrivateKey
}

// Config collects every recognized chain option.
type Config struct {
	ChainID *big.Int

	// Mining discipline: 0 mines a block per executable transaction as it
	// arrives, anything larger mines on that many seconds' cadence.
	BlockTime uint64

	GasPrice                   *big.Int // minimum (and default) gas price
	BlockGasLimit              uint64
	TransactionGasLimit        uint64 // default gas for self-signed payloads
	CallGasLimit               uint64 // gas cap for simulated calls
	Coinbase                   common.Address
	ExtraData                  []byte
	LegacyInstamine            bool // block transaction submission until mined
	VMErrorsOnRPCResponse      bool
	AllowUnlimitedContractSize bool
	Hardfork                   string
	Time                       *time.Time // starting clock time
	Datadir                    string     // empty keeps the chain in memory

	InitialAccounts []Account
}

// DefaultConfig returns the development chain defaults.
func DefaultConfig() *Config {
	return &Config{
		ChainID:             big.NewInt(DefaultChainID),
		GasPrice:            DefaultGasPrice(),
		BlockGasLimit:       DefaultBlockGasLimit,
		TransactionGasLimit: DefaultTransactionGasLimit,
		CallGasLimit:        DefaultCallGasLimit,
		ExtraData:           []byte("devchain"),
		Hardfork:            DefaultHardfork,
	}
}

// Sanitize validates the configuration and fills zero fields with defaults.
func (c *Config) Sanitize() error {
	if c.ChainID == nil {
		c.ChainID = big.NewInt(DefaultChainID)
	}
	if c.GasPrice == nil {
		c.GasPrice = DefaultGasPrice()
	}
	if c.BlockGasLimit == 0 {
		c.BlockGasLimit = DefaultBlockGasLimit
	}
	if c.TransactionGasLimit == 0 {
		c.TransactionGasLimit = DefaultTransactionGasLimit
	}
	if c.CallGasLimit == 0 {
		c.CallGasLimit = DefaultCallGasLimit
	}
	if c.Hardfork == "" {
		c.Hardfork = DefaultHardfork
	}
	if len(c.ExtraData) > maxExtraDataSize {
		return fmt.Errorf("extra data is %d bytes, limit is %d", len(c.ExtraData), maxExtraDataSize)
	}
	if c.LegacyInstamine && c.BlockTime != 0 {
		return fmt.Errorf("legacy instamine requires a block time of 0, have %d", c.BlockTime)
	}
	if _, err := c.chainConfig(); err != nil {
		return err
	}
	return nil
}

// hardforkLevels orders the supported hardfork names.
var hardforkLevels = map[string]int{
	"chainstart":       0,
	"homestead":        1,
	"tangerineWhistle": 2,
	"spuriousDragon":   3,
	"byzantium":        4,
	"constantinople":   5,
	"petersburg":       6,
	"istanbul":         7,
	"muirGlacier":      8,
	"berlin":           9,
	"london":           10,
	"arrowGlacier":     11,
	"grayGlacier":      12,
	"merge":            13,
	"shanghai":         14,
}

// chainConfig materializes the selected hardfork as a chain configuration
// with every fork up to and including it active from genesis.
func (c *Config) chainConfig() (*params.ChainConfig, error) {
	level, ok := hardforkLevels[c.Hardfork]
	if !ok {
		return nil, fmt.Errorf("unknown hardfork %q", c.Hardfork)
	}
	zero := common.Big0
	config := &params.ChainConfig{ChainID: new(big.Int).Set(c.ChainID)}
	if level >= 1 {
		config.HomesteadBlock = zero
	}
	if level >= 2 {
		config.EIP150Block = zero
	}
	if level >= 3 {
		config.EIP155Block = zero
		config.EIP158Block = zero
	}
	if level >= 4 {
		config.ByzantiumBlock = zero
	}
	if level >= 5 {
		config.ConstantinopleBlock = zero
	}
	if level >= 6 {
		config.PetersburgBlock = zero
	}
	if level >= 7 {
		config.IstanbulBlock = zero
	}
	if level >= 8 {
		config.MuirGlacierBlock = zero
	}
	if level >= 9 {
		config.BerlinBlock = zero
	}
	if level >= 10 {
		config.LondonBlock = zero
	}
	if level >= 11 {
		config.ArrowGlacierBlock = zero
	}
	if level >= 12 {
		config.GrayGlacierBlock = zero
	}
	if level >= 13 {
		config.MergeNetsplitBlock = zero
		config.TerminalTotalDifficulty = new(big.Int)
		config.TerminalTotalDifficultyPassed = true
	}
	if level >= 14 {
		shanghaiTime := uint64(0)
		config.ShanghaiTime = &shanghaiTime
	}
	return config, nil
}
