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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"
)

// minerOptions is the wire form of the miner.* option group.
type minerOptions struct {
	BlockTime                  *uint64     `mapstructure:"blockTime"`
	GasPrice                   *uint64     `mapstructure:"gasPrice"`
	BlockGasLimit              *uint64     `mapstructure:"blockGasLimit"`
	DefaultTransactionGasLimit *uint64     `mapstructure:"defaultTransactionGasLimit"`
	CallGasLimit               *uint64     `mapstructure:"callGasLimit"`
	Coinbase                   interface{} `mapstructure:"coinbase"` // hex address or account index
	ExtraData                  *string     `mapstructure:"extraData"`
	LegacyInstamine            *bool       `mapstructure:"legacyInstamine"`
}

// chainOptions is the wire form of the chain.* option group.
type chainOptions struct {
	VMErrorsOnRPCResponse      *bool   `mapstructure:"vmErrorsOnRPCResponse"`
	AllowUnlimitedContractSize *bool   `mapstructure:"allowUnlimitedContractSize"`
	Time                       *int64  `mapstructure:"time"` // unix milliseconds
	Hardfork                   *string `mapstructure:"hardfork"`
}

type options struct {
	Miner minerOptions `mapstructure:"miner"`
	Chain chainOptions `mapstructure:"chain"`
}

// ParseOptions applies a string-keyed option map over the defaults, binding
// the given initial accounts (a coinbase given as an index resolves against
// them). Unrecognized options are rejected.
func ParseOptions(raw map[string]interface{}, accounts []Account) (*Config, error) {
	config := DefaultConfig()
	config.InitialAccounts = accounts

	var opts options
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if opts.Miner.BlockTime != nil {
		config.BlockTime = *opts.Miner.BlockTime
	}
	if opts.Miner.GasPrice != nil {
		config.GasPrice = new(big.Int).SetUint64(*opts.Miner.GasPrice)
	}
	if opts.Miner.BlockGasLimit != nil {
		config.BlockGasLimit = *opts.Miner.BlockGasLimit
	}
	if opts.Miner.DefaultTransactionGasLimit != nil {
		config.TransactionGasLimit = *opts.Miner.DefaultTransactionGasLimit
	}
	if opts.Miner.CallGasLimit != nil {
		config.CallGasLimit = *opts.Miner.CallGasLimit
	}
	if opts.Miner.ExtraData != nil {
		config.ExtraData = []byte(*opts.Miner.ExtraData)
	}
	if opts.Miner.LegacyInstamine != nil {
		config.LegacyInstamine = *opts.Miner.LegacyInstamine
	}
	if opts.Chain.VMErrorsOnRPCResponse != nil {
		config.VMErrorsOnRPCResponse = *opts.Chain.VMErrorsOnRPCResponse
	}
	if opts.Chain.AllowUnlimitedContractSize != nil {
		config.AllowUnlimitedContractSize = *opts.Chain.AllowUnlimitedContractSize
	}
	if opts.Chain.Hardfork != nil {
		config.Hardfork = *opts.Chain.Hardfork
	}
	if opts.Chain.Time != nil {
		start := time.UnixMilli(*opts.Chain.Time)
		config.Time = &start
	}
	if opts.Miner.Coinbase != nil {
		coinbase, err := resolveCoinbase(opts.Miner.Coinbase, config.InitialAccounts)
		if err != nil {
			return nil, err
		}
		config.Coinbase = coinbase
	}
	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return config, nil
}

// resolveCoinbase accepts a hex address or an index into the initial
// accounts.
func resolveCoinbase(value interface{}, accounts []Account) (common.Address, error) {
	switch v := value.(type) {
	case string:
		if !common.IsHexAddress(v) {
			return common.Address{}, fmt.Errorf("invalid coinbase address %q", v)
		}
		return common.HexToAddress(v), nil
	case int:
		return coinbaseByIndex(int64(v), accounts)
	case int64:
		return coinbaseByIndex(v, accounts)
	case float64:
		return coinbaseByIndex(int64(v), accounts)
	default:
		return common.Address{}, fmt.Errorf("invalid coinbase %v", value)
	}
}

func coinbaseByIndex(index int64, accounts []Account) (common.Address, error) {
	if index < 0 || index >= int64(len(accounts)) {
		return common.Address{}, fmt.Errorf("coinbase account index %d out of range", index)
	}
	return accounts[index].Address, nil
}
