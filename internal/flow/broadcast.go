package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

const (
	// defaultOrderBudget bounds confirmation of the order-registration batch.
	defaultOrderBudget = 180 * time.Second
	// defaultSetupBudget bounds confirmation of a wallet-setup batch.
	defaultSetupBudget = 60 * time.Second
	// defaultPropagation is how long to wait after a mined setup batch before
	// re-reading chain state, so lagging RPC nodes catch up.
	defaultPropagation = 6 * time.Second
	// maxSetupLoops caps how many setup-and-replan rounds a single run makes.
	maxSetupLoops = 3
)

// OffchainClient places and cancels the Polymarket leg.
type OffchainClient interface {
	CreateLimitOrder(ctx context.Context, order *domain.Order) (string, error)
	CancelOrder(ctx context.Context, orderHash string) error
}

// Planner composes on-chain batches from current chain state.
type Planner interface {
	PlanCreate(ctx context.Context, order *domain.Order) (domain.BatchPlan, string, error)
	PlanRemove(ctx context.Context, order *domain.Order) (domain.BatchPlan, error)
}

// BatchExecutor submits a planned batch as a Safe transaction.
type BatchExecutor interface {
	Execute(ctx context.Context, safe common.Address, plan domain.BatchPlan) (common.Hash, error)
}

// Confirmer waits for a transaction receipt inside a budget.
type Confirmer interface {
	Wait(ctx context.Context, hash common.Hash, budget time.Duration) (*types.Receipt, error)
}

// Broadcaster runs the broadcast state machine:
// polymarket -> transaction -> signed -> success. A setup-only batch loops
// back to the transaction step after the chain has had time to propagate.
type Broadcaster struct {
	store    domain.OrderStore
	offchain OffchainClient
	planner  Planner
	exec     BatchExecutor
	confirm  Confirmer
	notify   Notifier
	logger   *slog.Logger

	orderBudget time.Duration
	setupBudget time.Duration
	propagation time.Duration
}

// NewBroadcaster creates a Broadcaster with default budgets.
func NewBroadcaster(
	store domain.OrderStore,
	offchain OffchainClient,
	planner Planner,
	exec BatchExecutor,
	confirm Confirmer,
	notify Notifier,
	logger *slog.Logger,
) *Broadcaster {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Broadcaster{
		store:       store,
		offchain:    offchain,
		planner:     planner,
		exec:        exec,
		confirm:     confirm,
		notify:      notify,
		logger:      logger.With(slog.String("component", "flow.broadcast")),
		orderBudget: defaultOrderBudget,
		setupBudget: defaultSetupBudget,
		propagation: defaultPropagation,
	}
}

// SetBudgets overrides the confirmation budgets and propagation delay.
// Must be called before Run.
func (b *Broadcaster) SetBudgets(order, setup, propagation time.Duration) {
	b.orderBudget = order
	b.setupBudget = setup
	b.propagation = propagation
}

// Run executes (or resumes) the broadcast flow for orderID. The returned
// Result describes where the run ended; err is non-nil only when the run
// stopped at StepError.
func (b *Broadcaster) Run(ctx context.Context, orderID int64) (Result, error) {
	log := b.logger.With(slog.Int64("order_id", orderID))

	order, err := b.store.GetByID(ctx, orderID)
	if err != nil {
		return b.fail(ctx, orderID, log, domain.WrapFlowError(domain.KindTransactionPreparation, "loading order", err))
	}

	switch order.Status {
	case domain.OrderStatusLive, domain.OrderStatusFilled:
		// Already broadcast; resuming a finished run is a no-op success.
		return b.succeed(ctx, order, ""), nil
	case domain.OrderStatusCanceled:
		return Result{}, fmt.Errorf("flow: order %d is canceled: %w", orderID, domain.ErrInvalidTransition)
	}

	// Step 1: the off-chain leg. Checkpointed, so a resumed run never places
	// a second Polymarket order.
	if !order.HasOffchainLeg() {
		// Service validation requires an outcome, so an empty one here means
		// the row was written out of band. The transaction hash must never be
		// set before the Polymarket hash, so refuse the order outright.
		if order.OutcomeSelected == "" {
			return b.fail(ctx, orderID, log, domain.NewFlowError(domain.KindPolymarketCreationFailed,
				"order has no outcome token"))
		}

		b.notify.Step(ctx, orderID, StepPolymarket)

		pmHash, err := b.offchain.CreateLimitOrder(ctx, order)
		if err != nil {
			return b.fail(ctx, orderID, log, domain.WrapFlowError(domain.KindPolymarketCreationFailed,
				"creating limit order", err))
		}
		if err := b.store.SetPolymarketOrderHash(ctx, orderID, pmHash); err != nil {
			return b.fail(ctx, orderID, log, domain.WrapFlowError(domain.KindPolymarketCreationFailed,
				"persisting checkpoint", err))
		}
		order.PolymarketOrderHash = &pmHash
		log.Info("offchain leg placed", slog.String("polymarket_order_hash", pmHash))
	}

	// Step 2: plan, execute, and confirm batches until the order
	// registration itself is mined. Setup batches loop back here.
	warning, err := b.runOnchainLeg(ctx, order, log)
	if err != nil {
		return b.fail(ctx, orderID, log, err)
	}

	if err := b.store.UpdateStatus(ctx, orderID, domain.OrderStatusLive); err != nil {
		return b.fail(ctx, orderID, log, domain.WrapFlowError(domain.KindTransactionPreparation,
			"updating status", err))
	}
	order.Status = domain.OrderStatusLive

	log.Info("broadcast complete", slog.String("order_hash", order.OrderHash))
	return b.succeed(ctx, order, warning), nil
}

// runOnchainLeg drives the transaction/signed steps. It returns a warning
// string for soft successes (confirmation timeout on the order batch).
func (b *Broadcaster) runOnchainLeg(ctx context.Context, order *domain.Order, log *slog.Logger) (string, error) {
	safe := common.HexToAddress(order.Owner)

	for loop := 0; loop <= maxSetupLoops; loop++ {
		b.notify.Step(ctx, order.ID, StepTransaction)

		plan, orderHash, err := b.planner.PlanCreate(ctx, order)
		if err != nil {
			return "", err
		}

		if err := b.store.SetOrderHash(ctx, order.ID, orderHash); err != nil {
			return "", domain.WrapFlowError(domain.KindTransactionPreparation, "persisting order hash", err)
		}
		order.OrderHash = orderHash

		// Nothing left to mine: the registration already exists on chain.
		if len(plan.Txs) == 0 {
			return "", nil
		}

		b.emitProgress(ctx, order.ID, plan)

		txHash, err := b.exec.Execute(ctx, safe, plan)
		if err != nil {
			return "", err
		}
		b.notify.Step(ctx, order.ID, StepSigned)

		budget := b.orderBudget
		if plan.SetupOnlyBatch {
			budget = b.setupBudget
		}

		_, err = b.confirm.Wait(ctx, txHash, budget)
		switch {
		case err == nil:
			// Mined.
		case domain.KindOf(err) == domain.KindTransactionTimeout && !plan.SetupOnlyBatch:
			// The registration batch was broadcast but confirmation lagged.
			// The transaction is overwhelmingly likely to land, so record the
			// checkpoint and go live with a warning rather than failing.
			if perr := b.store.SetTransactionHash(ctx, order.ID, txHash.Hex()); perr != nil {
				return "", domain.WrapFlowError(domain.KindTransactionPreparation, "persisting tx hash", perr)
			}
			log.Warn("confirmation budget exceeded, marking live",
				slog.String("tx_hash", txHash.Hex()))
			return "transaction confirmation timed out; order marked live pending receipt", nil
		default:
			return "", err
		}

		if !plan.SetupOnlyBatch {
			// No propagation wait after the registration batch: nothing in
			// this run re-reads chain state once the order is mined.
			if err := b.store.SetTransactionHash(ctx, order.ID, txHash.Hex()); err != nil {
				return "", domain.WrapFlowError(domain.KindTransactionPreparation, "persisting tx hash", err)
			}
			hex := txHash.Hex()
			order.TransactionHash = &hex
			return "", nil
		}

		log.Info("setup batch mined, replanning",
			slog.String("tx_hash", txHash.Hex()),
			slog.Int("loop", loop+1),
		)

		// Let lagging nodes observe the setup before re-reading state.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.propagation):
		}
	}

	return "", domain.NewFlowError(domain.KindTransactionPreparation,
		"wallet setup did not converge")
}

// emitProgress publishes per-transaction progress for the batch about to be
// signed.
func (b *Broadcaster) emitProgress(ctx context.Context, orderID int64, plan domain.BatchPlan) {
	for i, tx := range plan.Txs {
		b.notify.Progress(ctx, orderID, domain.TxProgress{
			Current:       i + 1,
			Total:         len(plan.Txs),
			CurrentTxType: tx.Type,
		})
	}
}

func (b *Broadcaster) succeed(ctx context.Context, order *domain.Order, warning string) Result {
	b.notify.Step(ctx, order.ID, StepSuccess)
	res := Result{
		Step:      StepSuccess,
		Warning:   warning,
		OrderHash: order.OrderHash,
	}
	if order.PolymarketOrderHash != nil {
		res.PolymarketOrderHash = *order.PolymarketOrderHash
	}
	if order.TransactionHash != nil {
		res.TransactionHash = *order.TransactionHash
	}
	return res
}

func (b *Broadcaster) fail(ctx context.Context, orderID int64, log *slog.Logger, err error) (Result, error) {
	b.notify.Step(ctx, orderID, StepError)
	kind := domain.KindOf(err)
	log.Error("broadcast failed",
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)

	var flowErr *domain.FlowError
	if !errors.As(err, &flowErr) {
		err = domain.WrapFlowError(domain.KindTransactionPreparation, "broadcast", err)
		kind = domain.KindOf(err)
	}
	return Result{Step: StepError, Kind: kind}, err
}
