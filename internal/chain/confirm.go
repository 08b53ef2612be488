package chain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

const defaultPollInterval = 3 * time.Second

// ReceiptReader fetches transaction receipts. *Client satisfies it; tests
// substitute a fake.
type ReceiptReader interface {
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Waiter polls for a transaction receipt inside a confirmation budget.
type Waiter struct {
	reader   ReceiptReader
	interval time.Duration
	logger   *slog.Logger
}

// NewWaiter creates a Waiter polling at the default interval.
func NewWaiter(reader ReceiptReader, logger *slog.Logger) *Waiter {
	return &Waiter{
		reader:   reader,
		interval: defaultPollInterval,
		logger:   logger.With(slog.String("component", "chain.waiter")),
	}
}

// SetInterval overrides the polling interval. Must be called before Wait.
func (w *Waiter) SetInterval(d time.Duration) {
	w.interval = d
}

// Wait blocks until the transaction is mined, the budget elapses, or ctx is
// cancelled. It returns a FlowError with kind transaction_timeout when the
// budget runs out and kind safe_transaction_refused when the transaction
// mined but reverted.
func (w *Waiter) Wait(ctx context.Context, hash common.Hash, budget time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(budget)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		receipt, err := w.reader.Receipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				w.logger.Warn("transaction reverted",
					slog.String("tx_hash", hash.Hex()),
					slog.Uint64("block", receipt.BlockNumber.Uint64()),
				)
				return receipt, domain.NewFlowError(domain.KindSafeTransactionRefused,
					"transaction reverted on chain")
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
			// Still pending; keep polling.
		default:
			// Transient RPC errors are retried until the budget expires.
			w.logger.Debug("receipt poll failed",
				slog.String("tx_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		if time.Now().After(deadline) {
			return nil, domain.NewFlowError(domain.KindTransactionTimeout,
				"confirmation budget exceeded")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
