package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoSigner          = errors.New("no wallet connected")
	ErrNetworkMismatch   = errors.New("wallet is on the wrong network")
	ErrUserRejected      = errors.New("request rejected by signer")
	ErrInvalidInput      = errors.New("invalid input")
	ErrReverted          = errors.New("transaction reverted")
	ErrInFlight          = errors.New("action already in flight")
	ErrUnknownContract   = errors.New("unknown contract")
	ErrMintDisabled      = errors.New("minting is only available on the test network")
	ErrUnsupportedAction = errors.New("unsupported action")
	ErrLockHeld          = errors.New("lock already held")
)

// ErrorKind classifies a failed action for presentation.
type ErrorKind string

const (
	KindNoSigner        ErrorKind = "no-signer"
	KindNetworkMismatch ErrorKind = "network-mismatch"
	KindUserRejected    ErrorKind = "user-rejected"
	KindReadFailure     ErrorKind = "read-failure"
	KindInvalidInput    ErrorKind = "invalid-input"
	KindReverted        ErrorKind = "on-chain-revert"
	KindInFlight        ErrorKind = "in-flight"
	KindUnknown         ErrorKind = "unknown"
)

// ActionError is the terminal error of an orchestrated action.
type ActionError struct {
	Kind   ErrorKind
	Action Action
	Phase  Phase
	// Reason is the best-effort human message (revert reason, validation
	// message, rejection text).
	Reason string
	Err    error
}

func (e *ActionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s", e.Action, e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Action, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Action, e.Kind)
}

func (e *ActionError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}
