package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestFlowError(t *testing.T) {
	base := errors.New("connection refused")

	t.Run("wraps cause", func(t *testing.T) {
		err := WrapFlowError(KindTransactionTimeout, "waiting for receipt", base)
		if !errors.Is(err, base) {
			t.Error("expected wrapped cause to be reachable")
		}
	})

	t.Run("message format", func(t *testing.T) {
		err := NewFlowError(KindNotSafeWallet, "no code at address")
		want := "not_safe_wallet: no code at address"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("survives fmt wrapping", func(t *testing.T) {
		inner := NewFlowError(KindInsufficientBalance, "gas")
		outer := fmt.Errorf("flow: broadcast: %w", inner)
		if KindOf(outer) != KindInsufficientBalance {
			t.Errorf("KindOf(wrapped) = %q", KindOf(outer))
		}
	})
}

func TestRetryable(t *testing.T) {
	fatal := []ErrorKind{KindUnsupportedWallet, KindNotSafeWallet}
	for _, k := range fatal {
		if (&FlowError{Kind: k}).Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}

	retryable := []ErrorKind{
		KindPolymarketCreationFailed,
		KindTransactionPreparation,
		KindInsufficientBalance,
		KindTransactionRefused,
		KindSafeTransactionRefused,
		KindNeedsSignatures,
		KindWalletConnectIssue,
		KindTransactionTimeout,
		KindSignatureRefused,
		KindInvalidSignature,
	}
	for _, k := range retryable {
		if !(&FlowError{Kind: k}).Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors have no kind")
	}
	if KindOf(nil) != "" {
		t.Error("nil has no kind")
	}
	if KindOf(NewFlowError(KindTransactionTimeout, "x")) != KindTransactionTimeout {
		t.Error("kind not extracted")
	}
}
