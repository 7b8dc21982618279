// Command balance-decode prints the coin amount of a CBOR encoded wallet
// balance given as hex.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/balance"
	"github.com/spf13/pflag"
)

func main() {
	flagSet := pflag.NewFlagSet("balance-decode", pflag.ContinueOnError)
	walletValue := flagSet.Bool("wallet-value", false, "accept the multi-asset [coin, assets] form")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: balance-decode [--wallet-value] <hex>\n\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		os.Exit(2)
	}

	if err := run(flagSet.Arg(0), *walletValue); err != nil {
		fmt.Fprintf(os.Stderr, "balance-decode: %v\n", err)
		os.Exit(1)
	}
}

func run(input string, walletValue bool) error {
	input = strings.TrimPrefix(strings.TrimSpace(input), "0x")
	if !walletValue {
		v, err := balance.DecodeHex(input)
		if err != nil {
			return err
		}
		printCoin(v)
		return nil
	}

	raw, err := hex.DecodeString(input)
	if err != nil {
		return fmt.Errorf("invalid hex input: %w", err)
	}
	value, err := balance.DecodeWalletValue(raw)
	if err != nil {
		return err
	}
	printCoin(value.Coin)

	policies := make([]string, 0, len(value.Assets))
	for policy := range value.Assets {
		policies = append(policies, policy)
	}
	sort.Strings(policies)
	for _, policy := range policies {
		names := make([]string, 0, len(value.Assets[policy]))
		for name := range value.Assets[policy] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("asset %s.%s %d\n", policy, name, value.Assets[policy][name])
		}
	}
	return nil
}

func printCoin(v uint64) {
	fmt.Printf("lovelace %d\n", v)
	fmt.Printf("ada      %.6f\n", balance.ToDisplayUnit(v))
}
