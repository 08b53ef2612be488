package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists conditional-swap orders and their flow checkpoints.
//
// Checkpoint setters are write-once: they must fail with
// ErrCheckpointConflict when the column already holds a different value, and
// succeed as a no-op when it already holds the same value (safe retry).
// UpdateStatus must reject edges that ValidTransition does not allow.
type OrderStore interface {
	Create(ctx context.Context, order *Order) (int64, error)
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByOrderHash(ctx context.Context, orderHash string) (*Order, error)
	SetOrderHash(ctx context.Context, id int64, orderHash string) error
	SetPolymarketOrderHash(ctx context.Context, id int64, hash string) error
	SetTransactionHash(ctx context.Context, id int64, txHash string) error
	UpdateStatus(ctx context.Context, id int64, status OrderStatus) error
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]*Order, error)
	ListByStatus(ctx context.Context, status OrderStatus, opts ListOpts) ([]*Order, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of checkpoint writes and
// state transitions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
