package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// defaultCancelBudget bounds confirmation of the deregistration transaction.
const defaultCancelBudget = 60 * time.Second

// OwnershipVerifier checks that a cancellation was signed by the order's
// owner. *crypto.Verifier satisfies it.
type OwnershipVerifier interface {
	Verify(ctx context.Context, action, orderHash string, timestamp int64, chainID int64, signature string, expected string) error
}

// CancelRequest carries the owner's signed authorization to cancel.
type CancelRequest struct {
	OrderID   int64  `json:"orderId"`
	Timestamp int64  `json:"timestamp"`
	ChainID   int64  `json:"chainId"`
	Signature string `json:"signature"`
}

// Canceller runs the cancellation state machine:
// confirm -> signing -> polymarket -> transaction -> signed -> success.
// Signature verification happens before any side effect, so a stale or forged
// request touches neither leg.
type Canceller struct {
	store    domain.OrderStore
	offchain OffchainClient
	planner  Planner
	exec     BatchExecutor
	confirm  Confirmer
	verifier OwnershipVerifier
	notify   Notifier
	logger   *slog.Logger

	cancelBudget time.Duration
}

// NewCanceller creates a Canceller with the default confirmation budget.
func NewCanceller(
	store domain.OrderStore,
	offchain OffchainClient,
	planner Planner,
	exec BatchExecutor,
	confirm Confirmer,
	verifier OwnershipVerifier,
	notify Notifier,
	logger *slog.Logger,
) *Canceller {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Canceller{
		store:        store,
		offchain:     offchain,
		planner:      planner,
		exec:         exec,
		confirm:      confirm,
		verifier:     verifier,
		notify:       notify,
		logger:       logger.With(slog.String("component", "flow.cancel")),
		cancelBudget: defaultCancelBudget,
	}
}

// SetBudget overrides the confirmation budget. Must be called before Run.
func (c *Canceller) SetBudget(d time.Duration) {
	c.cancelBudget = d
}

// Run executes (or resumes) the cancellation flow.
func (c *Canceller) Run(ctx context.Context, req CancelRequest) (Result, error) {
	log := c.logger.With(slog.Int64("order_id", req.OrderID))

	// Step 1: confirm the order exists and can still be canceled.
	c.notify.Step(ctx, req.OrderID, StepConfirm)

	order, err := c.store.GetByID(ctx, req.OrderID)
	if err != nil {
		return c.fail(ctx, req.OrderID, log,
			domain.WrapFlowError(domain.KindTransactionPreparation, "loading order", err))
	}

	if order.Status == domain.OrderStatusCanceled {
		// Resuming a finished cancellation is a no-op success.
		return c.succeed(ctx, order, ""), nil
	}
	if order.Status == domain.OrderStatusFilled {
		return c.fail(ctx, req.OrderID, log,
			domain.WrapFlowError(domain.KindTransactionPreparation,
				"order already filled", domain.ErrInvalidTransition))
	}

	// Step 2: prove ownership before any side effect.
	c.notify.Step(ctx, req.OrderID, StepSigning)

	if err := c.verifier.Verify(ctx, "cancel", order.OrderHash,
		req.Timestamp, req.ChainID, req.Signature, order.Owner); err != nil {
		return c.fail(ctx, req.OrderID, log, err)
	}

	// Step 3: pull the off-chain leg. A hash the CLOB no longer knows means
	// the leg is already gone, which is the outcome we want.
	if order.HasOffchainLeg() {
		c.notify.Step(ctx, req.OrderID, StepPolymarket)

		err := c.offchain.CancelOrder(ctx, *order.PolymarketOrderHash)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return c.fail(ctx, req.OrderID, log,
				domain.WrapFlowError(domain.KindPolymarketCreationFailed,
					"canceling limit order", err))
		}
		log.Info("offchain leg canceled",
			slog.String("polymarket_order_hash", *order.PolymarketOrderHash))
	}

	// Step 4: deregister the on-chain leg if it is still registered.
	warning, err := c.removeOnchainLeg(ctx, order, log)
	if err != nil {
		return c.fail(ctx, req.OrderID, log, err)
	}

	// Both legs are gone at this point. A database failure here must not
	// resurrect the order, so report success with a warning instead.
	if err := c.store.UpdateStatus(ctx, req.OrderID, domain.OrderStatusCanceled); err != nil {
		log.Error("status update failed after cancellation",
			slog.String("error", err.Error()))
		if warning == "" {
			warning = "order canceled but status update failed; reconciliation will repair it"
		}
	} else {
		order.Status = domain.OrderStatusCanceled
	}

	log.Info("cancellation complete")
	return c.succeed(ctx, order, warning), nil
}

// removeOnchainLeg plans and mines the deregistration batch. An empty plan
// means the registration never landed or is already removed.
func (c *Canceller) removeOnchainLeg(ctx context.Context, order *domain.Order, log *slog.Logger) (string, error) {
	if order.OrderHash == "" {
		// Broadcast never reached the on-chain leg.
		return "", nil
	}

	c.notify.Step(ctx, order.ID, StepTransaction)

	plan, err := c.planner.PlanRemove(ctx, order)
	if err != nil {
		return "", err
	}
	if len(plan.Txs) == 0 {
		return "", nil
	}

	txHash, err := c.exec.Execute(ctx, common.HexToAddress(order.Owner), plan)
	if err != nil {
		return "", err
	}
	c.notify.Step(ctx, order.ID, StepSigned)

	// No propagation wait after confirmation: a cancellation run mines one
	// batch and never re-reads chain state afterwards.
	_, err = c.confirm.Wait(ctx, txHash, c.cancelBudget)
	switch {
	case err == nil:
		return "", nil
	case domain.KindOf(err) == domain.KindTransactionTimeout:
		log.Warn("cancellation confirmation timed out",
			slog.String("tx_hash", txHash.Hex()))
		return "deregistration confirmation timed out; removal pending receipt", nil
	default:
		return "", err
	}
}

func (c *Canceller) succeed(ctx context.Context, order *domain.Order, warning string) Result {
	c.notify.Step(ctx, order.ID, StepSuccess)
	res := Result{
		Step:      StepSuccess,
		Warning:   warning,
		OrderHash: order.OrderHash,
	}
	if order.PolymarketOrderHash != nil {
		res.PolymarketOrderHash = *order.PolymarketOrderHash
	}
	return res
}

func (c *Canceller) fail(ctx context.Context, orderID int64, log *slog.Logger, err error) (Result, error) {
	c.notify.Step(ctx, orderID, StepError)
	kind := domain.KindOf(err)
	log.Error("cancellation failed",
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)

	var flowErr *domain.FlowError
	if !errors.As(err, &flowErr) {
		err = domain.WrapFlowError(domain.KindTransactionPreparation, "cancellation", err)
		kind = domain.KindOf(err)
	}
	return Result{Step: StepError, Kind: kind}, err
}
