package flow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/platform/polymarket"
)

const defaultReconcileInterval = 60 * time.Second

// OffchainStateReader reads back the live state of a CLOB order and can pull
// a resting order off the book. *polymarket.ClobClient satisfies it.
type OffchainStateReader interface {
	GetOrder(ctx context.Context, orderHash string) (polymarket.OrderState, error)
	CancelOrder(ctx context.Context, orderHash string) error
}

// ReceiptReader fetches the receipt of a mined transaction. *chain.Client
// satisfies it.
type ReceiptReader interface {
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Reconciler periodically sweeps live orders and repairs state the flows
// could not finish synchronously: it re-checks receipts for orders that went
// live on a confirmation-timeout warning, and it detects off-chain fills and
// cancellations that happened outside a flow run.
type Reconciler struct {
	store    domain.OrderStore
	offchain OffchainStateReader
	receipts ReceiptReader
	locks    domain.LockManager
	audit    domain.AuditStore
	logger   *slog.Logger

	interval time.Duration
}

// NewReconciler creates a Reconciler sweeping at the default interval.
// audit may be nil.
func NewReconciler(
	store domain.OrderStore,
	offchain OffchainStateReader,
	receipts ReceiptReader,
	locks domain.LockManager,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:    store,
		offchain: offchain,
		receipts: receipts,
		locks:    locks,
		audit:    audit,
		logger:   logger.With(slog.String("component", "flow.reconciler")),
		interval: defaultReconcileInterval,
	}
}

// SetInterval overrides the sweep interval. Must be called before Run.
func (r *Reconciler) SetInterval(d time.Duration) {
	r.interval = d
}

// Run sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))
	defer r.logger.Info("reconciler stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep examines every live order once. Failures are logged and retried on
// the next tick; a sweep never aborts the loop.
func (r *Reconciler) sweep(ctx context.Context) {
	orders, err := r.store.ListByStatus(ctx, domain.OrderStatusLive, domain.ListOpts{Limit: 500})
	if err != nil {
		r.logger.Error("listing live orders", slog.String("error", err.Error()))
		return
	}

	for _, order := range orders {
		if err := r.reconcileOrder(ctx, order); err != nil {
			r.logger.Warn("reconcile failed",
				slog.Int64("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reconcileOrder checks one live order's legs under the same per-order lock
// the flows take, so a sweep never races a broadcast or cancellation in
// flight.
func (r *Reconciler) reconcileOrder(ctx context.Context, order *domain.Order) error {
	if !order.HasOffchainLeg() {
		return nil
	}

	unlock, err := r.locks.Acquire(ctx, orderLockKey(order.ID), 30*time.Second)
	if err != nil {
		// A held lock means a flow is working on this order right now.
		return nil
	}
	defer unlock()

	// An order that went live on a confirmation-timeout warning may carry a
	// transaction that later reverted. Re-check the receipt before trusting
	// the live status.
	if order.HasOnchainLeg() {
		done, err := r.reconcileReceipt(ctx, order)
		if err != nil || done {
			return err
		}
	}

	state, err := r.offchain.GetOrder(ctx, *order.PolymarketOrderHash)
	if err != nil {
		return err
	}

	switch {
	case state.Filled():
		if err := r.store.UpdateStatus(ctx, order.ID, domain.OrderStatusFilled); err != nil {
			return err
		}
		r.logger.Info("order filled off chain",
			slog.Int64("order_id", order.ID),
			slog.String("polymarket_order_hash", state.ID),
		)
		r.record(ctx, "order.filled", order.ID, state)
	case state.Canceled():
		if err := r.store.UpdateStatus(ctx, order.ID, domain.OrderStatusCanceled); err != nil {
			return err
		}
		r.logger.Info("order canceled off chain",
			slog.Int64("order_id", order.ID),
			slog.String("polymarket_order_hash", state.ID),
		)
		r.record(ctx, "order.canceled_externally", order.ID, state)
	}

	return nil
}

// reconcileReceipt re-checks the on-chain leg's receipt. A reverted
// transaction means the registration never landed: the off-chain leg is
// pulled off the book and the order closed out. Returns done=true when the
// order reached a terminal state and the off-chain check can be skipped.
func (r *Reconciler) reconcileReceipt(ctx context.Context, order *domain.Order) (bool, error) {
	receipt, err := r.receipts.Receipt(ctx, common.HexToHash(*order.TransactionHash))
	if err != nil {
		// Not found means the transaction is still propagating; try again on
		// the next sweep.
		return false, nil
	}
	if receipt.Status != types.ReceiptStatusFailed {
		return false, nil
	}

	if err := r.offchain.CancelOrder(ctx, *order.PolymarketOrderHash); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	if err := r.store.UpdateStatus(ctx, order.ID, domain.OrderStatusCanceled); err != nil {
		return false, err
	}

	r.logger.Warn("live order's transaction reverted",
		slog.Int64("order_id", order.ID),
		slog.String("tx_hash", *order.TransactionHash),
	)
	if r.audit != nil {
		err := r.audit.Log(ctx, "order.transaction_reverted", map[string]any{
			"order_id": order.ID,
			"tx_hash":  *order.TransactionHash,
		})
		if err != nil {
			r.logger.Warn("audit write failed", slog.String("error", err.Error()))
		}
	}
	return true, nil
}

func (r *Reconciler) record(ctx context.Context, event string, orderID int64, state polymarket.OrderState) {
	if r.audit == nil {
		return
	}
	err := r.audit.Log(ctx, event, map[string]any{
		"order_id":     orderID,
		"clob_status":  state.Status,
		"size_matched": state.SizeMatched,
	})
	if err != nil {
		r.logger.Warn("audit write failed", slog.String("error", err.Error()))
	}
}

// orderLockKey is the distributed lock key shared by flows and reconciler.
func orderLockKey(orderID int64) string {
	return "flow:" + strconv.FormatInt(orderID, 10)
}
