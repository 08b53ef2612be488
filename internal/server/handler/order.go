package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/flow"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/service"
)

// SwapService defines the methods the order handler requires from the
// service layer.
type SwapService interface {
	CreateDraft(ctx context.Context, req service.CreateOrderRequest) (*domain.Order, error)
	Get(ctx context.Context, id int64) (*domain.Order, error)
	ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]*domain.Order, error)
	Plan(ctx context.Context, id int64) (service.PlanView, error)
	Broadcast(ctx context.Context, id int64) (flow.Result, error)
	Cancel(ctx context.Context, req flow.CancelRequest) (flow.Result, error)
}

// OrderHandler serves the conditional-swap order endpoints.
type OrderHandler struct {
	svc    SwapService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(svc SwapService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		svc:    svc,
		logger: logHandler(logger, "order"),
	}
}

// orderView is the JSON shape of an order. Amounts are decimal strings so
// clients never lose precision to float parsing.
type orderView struct {
	ID                  int64   `json:"id"`
	OrderHash           string  `json:"orderHash,omitempty"`
	Owner               string  `json:"owner"`
	SellToken           string  `json:"sellToken"`
	BuyToken            string  `json:"buyToken"`
	SellAmount          string  `json:"sellAmount"`
	MinBuyAmount        string  `json:"minBuyAmount"`
	OutcomeSelected     string  `json:"outcomeSelected,omitempty"`
	BetPercentage       int     `json:"betPercentage,omitempty"`
	StartTimestamp      int64   `json:"startTimestamp"`
	DeadlineTimestamp   int64   `json:"deadlineTimestamp"`
	PolymarketOrderHash *string `json:"polymarketOrderHash,omitempty"`
	TransactionHash     *string `json:"transactionHash,omitempty"`
	Status              string  `json:"status"`
	CreatedAt           string  `json:"createdAt"`
	UpdatedAt           string  `json:"updatedAt"`
}

func toView(o *domain.Order) orderView {
	v := orderView{
		ID:                  o.ID,
		OrderHash:           o.OrderHash,
		Owner:               o.Owner,
		SellToken:           o.SellToken,
		BuyToken:            o.BuyToken,
		OutcomeSelected:     o.OutcomeSelected,
		BetPercentage:       o.BetPercentage,
		StartTimestamp:      o.StartTimestamp,
		DeadlineTimestamp:   o.DeadlineTimestamp,
		PolymarketOrderHash: o.PolymarketOrderHash,
		TransactionHash:     o.TransactionHash,
		Status:              string(o.Status),
		CreatedAt:           o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           o.UpdatedAt.Format(time.RFC3339),
	}
	if o.SellAmount != nil {
		v.SellAmount = o.SellAmount.String()
	}
	if o.MinBuyAmount != nil {
		v.MinBuyAmount = o.MinBuyAmount.String()
	}
	return v
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []orderView `json:"orders"`
}

// CreateOrder persists a new draft order from the swap intent JSON body.
// POST /api/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	order, err := h.svc.CreateDraft(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toView(order))
}

// GetOrder returns one order by its numeric id.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get order failed",
			slog.Int64("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	writeJSON(w, http.StatusOK, toView(order))
}

// ListOrders returns an owner's orders, newest first.
// GET /api/orders?owner=0x...&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	orders, err := h.svc.ListByOwner(r.Context(), owner, parseListOpts(r))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "owner must be an address")
			return
		}
		h.logger.ErrorContext(r.Context(), "list orders failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toView(o))
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: views})
}

// PlanOrder previews the on-chain batch a broadcast would mine right now.
// Nothing is persisted or signed.
// GET /api/orders/{id}/plan
func (h *OrderHandler) PlanOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	view, err := h.svc.Plan(r.Context(), id)
	if err != nil {
		if kind := domain.KindOf(err); kind != "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": err.Error(),
				"kind":  string(kind),
			})
			return
		}
		writeError(w, statusFromError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// BroadcastOrder takes a draft order live: off-chain leg first, then the
// on-chain batch. The response reports the terminal flow step.
// POST /api/orders/{id}/broadcast
func (h *OrderHandler) BroadcastOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	result, err := h.svc.Broadcast(r.Context(), id)
	h.writeFlowResult(w, r, "broadcast", id, result, err)
}

// cancelBody is the request body for a cancellation: the owner's signed
// authorization minus the order id, which comes from the path.
type cancelBody struct {
	Timestamp int64  `json:"timestamp"`
	ChainID   int64  `json:"chainId"`
	Signature string `json:"signature"`
}

// CancelOrder pulls both legs of an order after verifying the owner's
// signature over the cancellation message.
// POST /api/orders/{id}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var body cancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature required")
		return
	}

	result, err := h.svc.Cancel(r.Context(), flow.CancelRequest{
		OrderID:   id,
		Timestamp: body.Timestamp,
		ChainID:   body.ChainID,
		Signature: body.Signature,
	})
	h.writeFlowResult(w, r, "cancel", id, result, err)
}

// writeFlowResult renders a flow outcome. A FlowError keeps its stable kind in
// the response body so clients can branch on it; fatal wallet kinds map to 422.
func (h *OrderHandler) writeFlowResult(w http.ResponseWriter, r *http.Request, op string, id int64, result flow.Result, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}

	var fe *domain.FlowError
	if errors.As(err, &fe) {
		status := http.StatusBadGateway
		if !fe.Retryable() {
			status = http.StatusUnprocessableEntity
		}
		if fe.Kind == domain.KindInvalidSignature || fe.Kind == domain.KindSignatureRefused {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, result)
		return
	}

	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed",
			slog.Int64("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "failed to "+op+" order")
		return
	}
	writeError(w, status, err.Error())
}
