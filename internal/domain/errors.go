package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrCheckpointConflict = errors.New("checkpoint already set")
)

// ErrorKind is the stable classifier for a flow failure. The kind, not the
// message, decides whether the failed state may be retried and where a resumed
// run picks up.
type ErrorKind string

const (
	KindPolymarketCreationFailed ErrorKind = "polymarket_creation_failed"
	KindTransactionPreparation   ErrorKind = "transaction_preparation_failed"
	KindInsufficientBalance      ErrorKind = "insufficient_balance"
	KindTransactionRefused       ErrorKind = "transaction_refused"
	KindSafeTransactionRefused   ErrorKind = "safe_transaction_refused"
	KindNeedsSignatures          ErrorKind = "transaction_needs_signatures"
	KindWalletConnectIssue       ErrorKind = "walletconnect_connection_issue"
	KindTransactionTimeout       ErrorKind = "transaction_timeout"
	KindUnsupportedWallet        ErrorKind = "unsupported_wallet"
	KindNotSafeWallet            ErrorKind = "not_safe_wallet"
	KindSignatureRefused         ErrorKind = "signature_refused"
	KindInvalidSignature         ErrorKind = "invalid_signature"
)

// FlowError carries a stable kind alongside a human-readable message. The
// wrapped cause, when present, is reachable through errors.Is/As.
type FlowError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-invoking the failed state can succeed. Fatal
// kinds stem from structural preconditions (wrong wallet type) that re-running
// the same step cannot fix.
func (e *FlowError) Retryable() bool {
	switch e.Kind {
	case KindUnsupportedWallet, KindNotSafeWallet:
		return false
	default:
		return true
	}
}

// NewFlowError builds a FlowError without an underlying cause.
func NewFlowError(kind ErrorKind, message string) *FlowError {
	return &FlowError{Kind: kind, Message: message}
}

// WrapFlowError builds a FlowError that wraps err.
func WrapFlowError(kind ErrorKind, message string, err error) *FlowError {
	return &FlowError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" when err is not a FlowError.
func KindOf(err error) ErrorKind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
