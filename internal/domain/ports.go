package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractRef is a resolved logical contract on one network.
type ContractRef struct {
	Name    string
	ChainID uint64
	Address common.Address
	ABI     *abi.ABI
}

// ContractCall is one read or write against a contract method.
type ContractCall struct {
	Contract ContractRef
	Method   string
	Args     []any
}

// ContractReader performs eth_call reads and returns the decoded outputs.
type ContractReader interface {
	ReadContract(ctx context.Context, call ContractCall) ([]any, error)
}

// ReceiptWaiter blocks until a transaction is mined on chainID.
type ReceiptWaiter interface {
	WaitForTransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (Receipt, error)
}

// Signer is a connected key holder able to submit transactions.
type Signer interface {
	Address() common.Address
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	WriteContract(ctx context.Context, call ContractCall) (common.Hash, error)
}

// Wallet is the process-wide wallet session.
type Wallet interface {
	// Session returns the connected signer, or false when disconnected.
	Session() (Signer, bool)
}

// Severity grades a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one user-facing message.
type Notification struct {
	Event       string   `json:"event"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Notifier receives user-facing messages; it never renders UI itself.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ViewCache stores last-known views. Cached views are never authoritative.
type ViewCache interface {
	Save(ctx context.Context, v *View) error
	Load(ctx context.Context, owner common.Address) (*View, error)
	Delete(ctx context.Context, owner common.Address) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TxStatus is the journal state of one submitted transaction.
type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxSettled  TxStatus = "settled"
	TxReverted TxStatus = "reverted"
	TxFailed   TxStatus = "failed"
)

// TxRecord is one journal entry for an approval or primary write.
type TxRecord struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	ChainID   uint64    `json:"chain_id"`
	Action    Action    `json:"action"`
	Trigger   Trigger   `json:"trigger"`
	Kind      string    `json:"kind"` // "approval" or "primary"
	Contract  string    `json:"contract"`
	Method    string    `json:"method"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Status    TxStatus  `json:"status"`
	Error     string    `json:"error,omitempty"`
	Block     uint64    `json:"block,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TxJournal persists submitted transactions.
type TxJournal interface {
	Record(ctx context.Context, rec TxRecord) error
	UpdateStatus(ctx context.Context, id string, status TxStatus, txHash string, block uint64, errMsg string) error
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]TxRecord, error)
}
