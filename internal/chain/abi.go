package chain

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var abiFS embed.FS

// abiFiles maps each logical contract to its embedded ABI fragment. Both
// tokens share the ERC-20 fragment.
var abiFiles = map[LogicalName]string{
	CollateralToken: "abi/erc20.json",
	Stablecoin:      "abi/erc20.json",
	Vault:           "abi/vault.json",
	LendingCore:     "abi/lending_core.json",
	LiquidityPool:   "abi/liquidity_pool.json",
}

func loadABIs() (map[LogicalName]*abi.ABI, error) {
	parsed := make(map[string]*abi.ABI)
	out := make(map[LogicalName]*abi.ABI, len(abiFiles))
	for name, file := range abiFiles {
		if a, ok := parsed[file]; ok {
			out[name] = a
			continue
		}
		raw, err := abiFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("chain: read %s: %w", file, err)
		}
		a, err := abi.JSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("chain: parse %s: %w", file, err)
		}
		parsed[file] = &a
		out[name] = &a
	}
	return out, nil
}
