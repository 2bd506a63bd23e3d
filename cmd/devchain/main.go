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

// devchain runs a single-node development chain: funded accounts, instant or
// interval mining, full snapshot/revert support.
package main

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/evmforge/devchain/chain"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	datadirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the chain database (in-memory if unset)",
	}
	blockTimeFlag = &cli.Uint64Flag{
		Name:  "block-time",
		Usage: "Seconds between mined blocks (0 mines per transaction)",
	}
	gasPriceFlag = &cli.Uint64Flag{
		Name:  "gas-price",
		Usage: "Minimum gas price in wei",
		Value: 2 * params.GWei,
	}
	gasLimitFlag = &cli.Uint64Flag{
		Name:  "gas-limit",
		Usage: "Block gas limit",
		Value: chain.DefaultBlockGasLimit,
	}
	chainIDFlag = &cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "Chain id for transaction signing",
		Value: chain.DefaultChainID,
	}
	hardforkFlag = &cli.StringFlag{
		Name:  "hardfork",
		Usage: "Hardfork rules to run (chainstart ... shanghai)",
		Value: chain.DefaultHardfork,
	}
	accountsFlag = &cli.IntFlag{
		Name:  "accounts",
		Usage: "Number of funded development accounts to generate",
		Value: 10,
	}
	balanceFlag = &cli.Uint64Flag{
		Name:  "balance",
		Usage: "Ether balance of each generated account",
		Value: 100,
	}
	legacyInstamineFlag = &cli.BoolFlag{
		Name:  "legacy-instamine",
		Usage: "Block transaction submission until the transaction is mined",
	}
	vmErrorsFlag = &cli.BoolFlag{
		Name:  "vm-errors",
		Usage: "Surface VM execution failures on submission",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (0=silent ... 5=trace)",
		Value: 3,
	}
)

// fileConfig is the on-disk configuration schema. Flags given on the command
// line override it.
type fileConfig struct {
	Datadir               string
	BlockTime             uint64
	GasPrice              uint64
	BlockGasLimit         uint64
	ChainID               uint64
	Hardfork              string
	Accounts              int
	Balance               uint64
	LegacyInstamine       bool
	VMErrorsOnRPCResponse bool
}

func main() {
	app := &cli.App{
		Name:  "devchain",
		Usage: "development-grade Ethereum chain",
		Flags: []cli.Flag{
			configFlag, datadirFlag, blockTimeFlag, gasPriceFlag, gasLimitFlag,
			chainIDFlag, hardforkFlag, accountsFlag, balanceFlag,
			legacyInstamineFlag, vmErrorsFlag, verbosityFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), true)
	log.SetDefault(log.NewLogger(handler))

	config, accounts, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	bc, err := chain.New(config)
	if err != nil {
		return err
	}
	if err := bc.Start(); err != nil {
		return err
	}

	printAccounts(accounts)
	log.Info("Development chain running", "chainid", config.ChainID, "blockTime", config.BlockTime, "datadir", config.Datadir)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	log.Info("Shutting down")
	return bc.Stop()
}

// makeConfig merges the config file, flags and generated accounts.
func makeConfig(ctx *cli.Context) (*chain.Config, []chain.Account, error) {
	file := fileConfig{
		GasPrice:      2 * params.GWei,
		BlockGasLimit: chain.DefaultBlockGasLimit,
		ChainID:       chain.DefaultChainID,
		Hardfork:      chain.DefaultHardfork,
		Accounts:      10,
		Balance:       100,
	}
	if path := ctx.String(configFlag.Name); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		if err := toml.NewDecoder(f).Decode(&file); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	for _, flag := range []struct {
		name  string
		apply func()
	}{
		{datadirFlag.Name, func() { file.Datadir = ctx.String(datadirFlag.Name) }},
		{blockTimeFlag.Name, func() { file.BlockTime = ctx.Uint64(blockTimeFlag.Name) }},
		{gasPriceFlag.Name, func() { file.GasPrice = ctx.Uint64(gasPriceFlag.Name) }},
		{gasLimitFlag.Name, func() { file.BlockGasLimit = ctx.Uint64(gasLimitFlag.Name) }},
		{chainIDFlag.Name, func() { file.ChainID = ctx.Uint64(chainIDFlag.Name) }},
		{hardforkFlag.Name, func() { file.Hardfork = ctx.String(hardforkFlag.Name) }},
		{accountsFlag.Name, func() { file.Accounts = ctx.Int(accountsFlag.Name) }},
		{balanceFlag.Name, func() { file.Balance = ctx.Uint64(balanceFlag.Name) }},
		{legacyInstamineFlag.Name, func() { file.LegacyInstamine = ctx.Bool(legacyInstamineFlag.Name) }},
		{vmErrorsFlag.Name, func() { file.VMErrorsOnRPCResponse = ctx.Bool(vmErrorsFlag.Name) }},
	} {
		if ctx.IsSet(flag.name) {
			flag.apply()
		}
	}

	accounts, err := generateAccounts(file.Accounts, file.Balance)
	if err != nil {
		return nil, nil, err
	}

	config := chain.DefaultConfig()
	config.Datadir = file.Datadir
	config.BlockTime = file.BlockTime
	config.GasPrice = new(big.Int).SetUint64(file.GasPrice)
	config.BlockGasLimit = file.BlockGasLimit
	config.ChainID = new(big.Int).SetUint64(file.ChainID)
	config.Hardfork = file.Hardfork
	config.LegacyInstamine = file.LegacyInstamine
	config.VMErrorsOnRPCResponse = file.VMErrorsOnRPCResponse
	config.InitialAccounts = accounts
	if err := config.Sanitize(); err != nil {
		return nil, nil, err
	}
	return config, accounts, nil
}

func generateAccounts(count int, etherEach uint64) ([]chain.Account, error) {
	balance := new(big.Int).Mul(new(big.Int).SetUint64(etherEach), big.NewInt(params.Ether))
	accounts := make([]chain.Account, 0, count)
	for i := 0; i < count; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, chain.Account{
			Address: crypto.PubkeyToAddress(key.PublicKey),
			Balance: balance,
			Key:     key,
		})
	}
	return accounts, nil
}

func printAccounts(accounts []chain.Account) {
	fmt.Println("Available accounts")
	fmt.Println("==================")
	for i, account := range accounts {
		fmt.Printf("(%d) %s (%s wei)\n", i, account.Address.Hex(), account.Balance)
	}
	fmt.Println()
	fmt.Println("Private keys")
	fmt.Println("============")
	for i, account := range accounts {
		fmt.Printf("(%d) %s\n", i, hexutil.Encode(crypto.FromECDSA(account.Key)))
	}
	fmt.Println()
}
