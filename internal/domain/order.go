package domain

import (
	"math/big"
	"time"
)

// OrderStatus tracks the conditional-swap lifecycle. Transitions are
// monotonic: draft -> live -> {filled, canceled}. Orders are never deleted;
// cancellation is a status change.
type OrderStatus string

const (
	OrderStatusDraft    OrderStatus = "draft"
	OrderStatusLive     OrderStatus = "live"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
)

// ValidTransition reports whether moving from one status to another is an
// allowed edge of the order lifecycle.
func ValidTransition(from, to OrderStatus) bool {
	switch from {
	case OrderStatusDraft:
		return to == OrderStatusLive || to == OrderStatusCanceled
	case OrderStatusLive:
		return to == OrderStatusFilled || to == OrderStatusCanceled
	default:
		return false
	}
}

// Order is the aggregate root for one conditional swap. The two nullable
// checkpoint fields record progress through the broadcast flow: the off-chain
// Polymarket leg always lands before the on-chain leg, and each checkpoint is
// written exactly once.
type Order struct {
	ID        int64
	OrderHash string // derived identifier of the on-chain conditional order

	// Swap intent.
	Owner             string // Safe address that owns the conditional order
	SellToken         string
	BuyToken          string
	SellAmount        *big.Int // base units
	MinBuyAmount      *big.Int // base units
	OutcomeSelected   string   // Polymarket outcome token ID
	BetPercentage     int      // activation threshold, 0-100
	StartTimestamp    int64    // unix seconds
	DeadlineTimestamp int64    // unix seconds

	// Progress checkpoints.
	PolymarketOrderHash *string
	TransactionHash     *string

	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasOffchainLeg reports whether the Polymarket limit order checkpoint is set.
func (o Order) HasOffchainLeg() bool {
	return o.PolymarketOrderHash != nil && *o.PolymarketOrderHash != ""
}

// HasOnchainLeg reports whether the mined transaction checkpoint is set.
func (o Order) HasOnchainLeg() bool {
	return o.TransactionHash != nil && *o.TransactionHash != ""
}

// Terminal reports whether the order has reached a resting state that a
// broadcast or cancellation run must not move it out of.
func (o Order) Terminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusCanceled
}
