package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// Wallet is the process-wide wallet session backed by a local private key.
// It holds one client per configured chain; switching selects which one
// receives writes. A wallet built without a key is watch-only and never
// yields a signer.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	clients map[uint64]*Client
	logger  *slog.Logger

	mu        sync.RWMutex
	current   uint64
	connected bool
}

// NewWallet creates a connected wallet for key. initialChain is the chain
// the session starts on.
func NewWallet(key *ecdsa.PrivateKey, clients map[uint64]*Client, initialChain uint64, logger *slog.Logger) (*Wallet, error) {
	if key == nil {
		return nil, fmt.Errorf("evm: wallet: %w", domain.ErrNoSigner)
	}
	if _, ok := clients[initialChain]; !ok {
		return nil, fmt.Errorf("evm: wallet: no client for chain %d", initialChain)
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	return &Wallet{
		key:       key,
		address:   addr,
		clients:   clients,
		current:   initialChain,
		connected: true,
		logger:    logger.With(slog.String("component", "wallet"), slog.String("address", addr.Hex())),
	}, nil
}

// NewWatchWallet creates a signer-less session for address.
func NewWatchWallet(address common.Address, logger *slog.Logger) *Wallet {
	return &Wallet{
		address: address,
		logger:  logger.With(slog.String("component", "wallet"), slog.String("address", address.Hex())),
	}
}

// Session returns the signer while a key is loaded and connected.
func (w *Wallet) Session() (domain.Signer, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.key == nil || !w.connected {
		return nil, false
	}
	return w, true
}

// Connected reports whether the session is connected.
func (w *Wallet) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// HasKey reports whether a signing key is loaded. Watch-only wallets have none.
func (w *Wallet) HasKey() bool { return w.key != nil }

// Connect re-enables a disconnected key session.
func (w *Wallet) Connect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = w.key != nil
}

// Disconnect ends the session. Subsequent Session calls report no signer.
func (w *Wallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	w.logger.Info("wallet disconnected")
}

// Address returns the session address.
func (w *Wallet) Address() common.Address { return w.address }

// ChainID returns the chain the session currently writes to.
func (w *Wallet) ChainID(context.Context) (uint64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, nil
}

// SwitchChain moves the session to chainID.
func (w *Wallet) SwitchChain(_ context.Context, chainID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.clients[chainID]; !ok {
		return fmt.Errorf("evm: switch to chain %d: no endpoint configured", chainID)
	}
	w.logger.Info("wallet switched chain", slog.Uint64("from", w.current), slog.Uint64("to", chainID))
	w.current = chainID
	return nil
}

// WriteContract signs and broadcasts a transaction calling call.Method on
// the current chain. Nonce, gas price and gas limit come from the node.
func (w *Wallet) WriteContract(ctx context.Context, call domain.ContractCall) (common.Hash, error) {
	w.mu.RLock()
	chainID := w.current
	client := w.clients[chainID]
	connected := w.connected
	w.mu.RUnlock()

	if !connected || w.key == nil {
		return common.Hash{}, domain.ErrNoSigner
	}
	if call.Contract.ChainID != 0 && call.Contract.ChainID != chainID {
		return common.Hash{}, fmt.Errorf("evm: %s is on chain %d, wallet on %d: %w",
			call.Contract.Name, call.Contract.ChainID, chainID, domain.ErrNetworkMismatch)
	}
	if call.Contract.ABI == nil {
		return common.Hash{}, fmt.Errorf("evm: %s has no ABI", call.Contract.Name)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(w.key, new(big.Int).SetUint64(chainID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: transactor: %w", err)
	}
	opts.Context = ctx

	backend := client.Backend()
	contract := bind.NewBoundContract(call.Contract.Address, *call.Contract.ABI, backend, backend, backend)
	tx, err := contract.Transact(opts, call.Method, call.Args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: %s.%s: %w", call.Contract.Name, call.Method, err)
	}
	w.logger.Info("transaction broadcast",
		slog.String("contract", call.Contract.Name),
		slog.String("method", call.Method),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
	)
	return tx.Hash(), nil
}
