// Package chain maps the process-wide network flag to a chain descriptor and
// to concrete address and ABI pairs for each logical contract.
package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// Chain IDs of the two supported networks.
const (
	MainnetChainID uint64 = 1
	SepoliaChainID uint64 = 11155111
)

// LogicalName identifies a protocol contract independently of its address.
type LogicalName string

const (
	CollateralToken LogicalName = "collateral_token"
	Stablecoin      LogicalName = "stablecoin"
	Vault           LogicalName = "vault"
	LendingCore     LogicalName = "lending_core"
	LiquidityPool   LogicalName = "liquidity_pool"
)

// LogicalNames lists every contract the client talks to.
var LogicalNames = []LogicalName{CollateralToken, Stablecoin, Vault, LendingCore, LiquidityPool}

// ChainDescriptor describes the resolved target network.
type ChainDescriptor struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	RPCURL      string `json:"rpc_url"`
	Testnet     bool   `json:"testnet"`
	MintEnabled bool   `json:"mint_enabled"`
}

// Network holds the endpoint and deployed addresses for one chain.
type Network struct {
	RPCURL    string
	Contracts map[LogicalName]common.Address
}

// Config is the resolver input. TestNetwork is fixed at startup; it selects
// the test network and enables test-asset minting.
type Config struct {
	TestNetwork bool
	Mainnet     Network
	Testnet     Network
}

// Resolver is a pure function of its Config. It holds no per-call state, so
// it is safe for concurrent use.
type Resolver struct {
	cfg  Config
	abis map[LogicalName]*abi.ABI
}

// NewResolver parses the embedded ABI fragments and returns a resolver bound
// to cfg.
func NewResolver(cfg Config) (*Resolver, error) {
	abis, err := loadABIs()
	if err != nil {
		return nil, err
	}
	return &Resolver{cfg: cfg, abis: abis}, nil
}

// ResolveChain returns the target network.
func (r *Resolver) ResolveChain() ChainDescriptor {
	if r.cfg.TestNetwork {
		return ChainDescriptor{
			ID:          SepoliaChainID,
			Name:        "sepolia",
			RPCURL:      r.cfg.Testnet.RPCURL,
			Testnet:     true,
			MintEnabled: true,
		}
	}
	return ChainDescriptor{
		ID:     MainnetChainID,
		Name:   "mainnet",
		RPCURL: r.cfg.Mainnet.RPCURL,
	}
}

// ResolveContract returns the address and ABI of name on the target network.
func (r *Resolver) ResolveContract(name LogicalName) (domain.ContractRef, error) {
	parsed, ok := r.abis[name]
	if !ok {
		return domain.ContractRef{}, fmt.Errorf("%w: %q", domain.ErrUnknownContract, name)
	}
	net := r.network()
	addr, ok := net.Contracts[name]
	if !ok || addr == (common.Address{}) {
		return domain.ContractRef{}, fmt.Errorf("%w: %q has no address on %s",
			domain.ErrUnknownContract, name, r.ResolveChain().Name)
	}
	return domain.ContractRef{
		Name:    string(name),
		ChainID: r.ResolveChain().ID,
		Address: addr,
		ABI:     parsed,
	}, nil
}

func (r *Resolver) network() Network {
	if r.cfg.TestNetwork {
		return r.cfg.Testnet
	}
	return r.cfg.Mainnet
}

// Validate checks that every logical contract has an address on the target
// network.
func (r *Resolver) Validate() error {
	for _, name := range LogicalNames {
		if _, err := r.ResolveContract(name); err != nil {
			return err
		}
	}
	return nil
}
