// Package evm implements the chain ports on top of go-ethereum: contract
// reads, transaction submission and receipt waits against a JSON-RPC
// endpoint, and a local-key wallet session.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// defaultPollInterval is how often WaitForTransactionReceipt polls.
const defaultPollInterval = 2 * time.Second

// Client is a JSON-RPC connection to one chain.
type Client struct {
	eth          *ethclient.Client
	chainID      uint64
	pollInterval time.Duration
	logger       *slog.Logger
}

// Dial connects to rpcURL and verifies that the endpoint serves
// expectedChainID. Pass zero to accept whatever the endpoint reports.
func Dial(ctx context.Context, rpcURL string, expectedChainID uint64, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	id, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("evm: chain id: %w", err)
	}
	if expectedChainID != 0 && id.Uint64() != expectedChainID {
		ec.Close()
		return nil, fmt.Errorf("evm: endpoint serves chain %s, want %d", id, expectedChainID)
	}
	return &Client{
		eth:          ec,
		chainID:      id.Uint64(),
		pollInterval: defaultPollInterval,
		logger:       logger.With(slog.String("component", "evm"), slog.Uint64("chain_id", id.Uint64())),
	}, nil
}

// ChainID returns the chain this client is connected to.
func (c *Client) ChainID() uint64 { return c.chainID }

// Backend exposes the underlying ethclient for transaction binding.
func (c *Client) Backend() *ethclient.Client { return c.eth }

// Close releases the connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ReadContract packs the call, performs eth_call at the latest block and
// unpacks the outputs.
func (c *Client) ReadContract(ctx context.Context, call domain.ContractCall) ([]any, error) {
	if call.Contract.ABI == nil {
		return nil, fmt.Errorf("evm: %s has no ABI", call.Contract.Name)
	}
	if call.Contract.ChainID != 0 && call.Contract.ChainID != c.chainID {
		return nil, fmt.Errorf("evm: %s resolved for chain %d, client is on %d: %w",
			call.Contract.Name, call.Contract.ChainID, c.chainID, domain.ErrNetworkMismatch)
	}
	data, err := call.Contract.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s.%s: %w", call.Contract.Name, call.Method, err)
	}
	to := call.Contract.Address
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: call %s.%s: %w", call.Contract.Name, call.Method, err)
	}
	out, err := call.Contract.ABI.Unpack(call.Method, raw)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s.%s: %w", call.Contract.Name, call.Method, err)
	}
	return out, nil
}

// WaitForTransactionReceipt polls until hash is mined or ctx ends.
func (c *Client) WaitForTransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (domain.Receipt, error) {
	if chainID != c.chainID {
		return domain.Receipt{}, fmt.Errorf("evm: wait on chain %d, client is on %d: %w", chainID, c.chainID, domain.ErrNetworkMismatch)
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		r, err := c.eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return domain.Receipt{
				TxHash:      hash,
				BlockNumber: blockNumber(r.BlockNumber),
				Status:      r.Status,
				GasUsed:     r.GasUsed,
			}, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			c.logger.Debug("receipt poll failed",
				slog.String("tx_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("evm: wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func blockNumber(n *big.Int) uint64 {
	if n == nil || !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}
