// Package service contains the application layer: request validation,
// per-order locking, rate limiting, auditing, and delegation into the flow
// state machines.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/flow"
)

const (
	// flowLockTTL bounds how long one flow run can hold an order exclusively.
	// Longer than the largest confirmation budget plus slack.
	flowLockTTL = 5 * time.Minute

	// broadcastRateLimit caps broadcast attempts per owner per minute.
	broadcastRateLimit  = 10
	broadcastRateWindow = time.Minute
)

// Broadcaster runs the broadcast flow. *flow.Broadcaster satisfies it.
type Broadcaster interface {
	Run(ctx context.Context, orderID int64) (flow.Result, error)
}

// Canceller runs the cancellation flow. *flow.Canceller satisfies it.
type Canceller interface {
	Run(ctx context.Context, req flow.CancelRequest) (flow.Result, error)
}

// MidpointReader reads the current market price of an outcome token.
// *polymarket.ClobClient satisfies it.
type MidpointReader interface {
	GetMidpoint(ctx context.Context, tokenID string) (string, error)
}

// CreateOrderRequest carries the swap intent submitted by a client.
type CreateOrderRequest struct {
	Owner             string `json:"owner"`
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	SellAmount        string `json:"sellAmount"`
	MinBuyAmount      string `json:"minBuyAmount"`
	OutcomeSelected   string `json:"outcomeSelected,omitempty"`
	BetPercentage     int    `json:"betPercentage,omitempty"`
	StartTimestamp    int64  `json:"startTimestamp"`
	DeadlineTimestamp int64  `json:"deadlineTimestamp"`
}

// PlanView is the broadcast preview returned to clients before they commit.
type PlanView struct {
	OrderHash            string          `json:"orderHash"`
	TxCount              int             `json:"txCount"`
	TxTypes              []domain.TxType `json:"txTypes"`
	NeedsApproval        bool            `json:"needsApproval"`
	NeedsFallbackHandler bool            `json:"needsFallbackHandler"`
	NeedsDomainVerifier  bool            `json:"needsDomainVerifier"`
	SetupOnlyBatch       bool            `json:"setupOnlyBatch"`
	OutcomeMidpoint      string          `json:"outcomeMidpoint,omitempty"`
}

// SwapService is the application-level facade over order persistence and the
// two flows. All server handlers go through it.
type SwapService struct {
	store       domain.OrderStore
	audit       domain.AuditStore
	locks       domain.LockManager
	limiter     domain.RateLimiter
	planner     flow.Planner
	broadcaster Broadcaster
	canceller   Canceller
	midpoints   MidpointReader
	logger      *slog.Logger
}

// NewSwapService wires the service. midpoints may be nil; plan previews then
// omit the market price.
func NewSwapService(
	store domain.OrderStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	planner flow.Planner,
	broadcaster Broadcaster,
	canceller Canceller,
	midpoints MidpointReader,
	logger *slog.Logger,
) *SwapService {
	return &SwapService{
		store:       store,
		audit:       audit,
		locks:       locks,
		limiter:     limiter,
		planner:     planner,
		broadcaster: broadcaster,
		canceller:   canceller,
		midpoints:   midpoints,
		logger:      logger.With(slog.String("component", "service.swap")),
	}
}

// CreateDraft validates the swap intent and persists it as a draft order.
func (s *SwapService) CreateDraft(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	order, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	id, err := s.store.Create(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("service: create draft: %w", err)
	}
	order.ID = id

	s.recordAudit(ctx, "order.created", map[string]any{
		"order_id": id,
		"owner":    order.Owner,
	})

	s.logger.Info("draft created",
		slog.Int64("order_id", id),
		slog.String("owner", order.Owner),
	)
	return order, nil
}

// Get returns one order by id.
func (s *SwapService) Get(ctx context.Context, id int64) (*domain.Order, error) {
	return s.store.GetByID(ctx, id)
}

// ListByOwner returns the owner's orders, newest first.
func (s *SwapService) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]*domain.Order, error) {
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("service: owner %q is not an address: %w", owner, domain.ErrNotFound)
	}
	return s.store.ListByOwner(ctx, common.HexToAddress(owner).Hex(), opts)
}

// Plan previews the batch a broadcast would mine right now. Planning is
// read-only; nothing is persisted or signed.
func (s *SwapService) Plan(ctx context.Context, id int64) (PlanView, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return PlanView{}, err
	}

	plan, orderHash, err := s.planner.PlanCreate(ctx, order)
	if err != nil {
		return PlanView{}, err
	}

	view := PlanView{
		OrderHash:            orderHash,
		TxCount:              len(plan.Txs),
		NeedsApproval:        plan.NeedsApproval,
		NeedsFallbackHandler: plan.NeedsFallbackHandler,
		NeedsDomainVerifier:  plan.NeedsDomainVerifier,
		SetupOnlyBatch:       plan.SetupOnlyBatch,
	}
	for _, tx := range plan.Txs {
		view.TxTypes = append(view.TxTypes, tx.Type)
	}

	if s.midpoints != nil && order.OutcomeSelected != "" {
		if mid, err := s.midpoints.GetMidpoint(ctx, order.OutcomeSelected); err == nil {
			view.OutcomeMidpoint = mid
		}
	}

	return view, nil
}

// Broadcast takes a draft order live. One run per order at a time; repeated
// calls against a live order return a no-op success.
func (s *SwapService) Broadcast(ctx context.Context, id int64) (flow.Result, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return flow.Result{}, err
	}

	allowed, err := s.limiter.Allow(ctx, "broadcast:"+order.Owner, broadcastRateLimit, broadcastRateWindow)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
	} else if !allowed {
		return flow.Result{}, fmt.Errorf("service: broadcast order %d: %w", id, domain.ErrRateLimited)
	}

	unlock, err := s.locks.Acquire(ctx, flowLockKey(id), flowLockTTL)
	if err != nil {
		return flow.Result{}, fmt.Errorf("service: broadcast order %d: %w", id, err)
	}
	defer unlock()

	result, err := s.broadcaster.Run(ctx, id)
	s.recordOutcome(ctx, "order.broadcast", id, result, err)
	return result, err
}

// Cancel pulls both legs of an order after verifying the owner's signature.
func (s *SwapService) Cancel(ctx context.Context, req flow.CancelRequest) (flow.Result, error) {
	unlock, err := s.locks.Acquire(ctx, flowLockKey(req.OrderID), flowLockTTL)
	if err != nil {
		return flow.Result{}, fmt.Errorf("service: cancel order %d: %w", req.OrderID, err)
	}
	defer unlock()

	result, err := s.canceller.Run(ctx, req)
	s.recordOutcome(ctx, "order.cancel", req.OrderID, result, err)
	return result, err
}

// ListAudit exposes the audit trail.
func (s *SwapService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.audit.List(ctx, opts)
}

// validate normalizes and checks a create request.
func (s *SwapService) validate(req CreateOrderRequest) (*domain.Order, error) {
	var errs []string

	if !common.IsHexAddress(req.Owner) {
		errs = append(errs, "owner must be an address")
	}
	if !common.IsHexAddress(req.SellToken) {
		errs = append(errs, "sellToken must be an address")
	}
	if !common.IsHexAddress(req.BuyToken) {
		errs = append(errs, "buyToken must be an address")
	}

	sellAmount, ok := new(big.Int).SetString(req.SellAmount, 10)
	if !ok || sellAmount.Sign() <= 0 {
		errs = append(errs, "sellAmount must be a positive integer")
	}
	minBuyAmount, ok := new(big.Int).SetString(req.MinBuyAmount, 10)
	if !ok || minBuyAmount.Sign() <= 0 {
		errs = append(errs, "minBuyAmount must be a positive integer")
	}

	if req.DeadlineTimestamp <= req.StartTimestamp {
		errs = append(errs, "deadlineTimestamp must be after startTimestamp")
	}
	if req.DeadlineTimestamp <= time.Now().Unix() {
		errs = append(errs, "deadlineTimestamp must be in the future")
	}

	// The off-chain leg always precedes the on-chain leg, so every order
	// needs an outcome and a threshold.
	if req.OutcomeSelected == "" {
		errs = append(errs, "outcomeSelected is required")
	}
	if req.BetPercentage <= 0 || req.BetPercentage > 100 {
		errs = append(errs, "betPercentage must be between 1 and 100")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("service: invalid order: %s", strings.Join(errs, "; "))
	}

	return &domain.Order{
		Owner:             common.HexToAddress(req.Owner).Hex(),
		SellToken:         common.HexToAddress(req.SellToken).Hex(),
		BuyToken:          common.HexToAddress(req.BuyToken).Hex(),
		SellAmount:        sellAmount,
		MinBuyAmount:      minBuyAmount,
		OutcomeSelected:   req.OutcomeSelected,
		BetPercentage:     req.BetPercentage,
		StartTimestamp:    req.StartTimestamp,
		DeadlineTimestamp: req.DeadlineTimestamp,
		Status:            domain.OrderStatusDraft,
	}, nil
}

// recordOutcome audits how a flow run ended.
func (s *SwapService) recordOutcome(ctx context.Context, event string, orderID int64, result flow.Result, err error) {
	detail := map[string]any{
		"order_id": orderID,
		"step":     string(result.Step),
	}
	if result.Warning != "" {
		detail["warning"] = result.Warning
	}
	if err != nil {
		detail["kind"] = string(domain.KindOf(err))
		detail["error"] = err.Error()
	}
	s.recordAudit(ctx, event, detail)
}

// recordAudit writes an audit row, logging instead of failing on error.
func (s *SwapService) recordAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func flowLockKey(orderID int64) string {
	return "flow:" + strconv.FormatInt(orderID, 10)
}
