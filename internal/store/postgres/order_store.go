package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new draft order and returns its assigned id.
func (s *OrderStore) Create(ctx context.Context, o *domain.Order) (int64, error) {
	const query = `
		INSERT INTO orders (
			order_hash, owner, sell_token, buy_token,
			sell_amount, min_buy_amount,
			outcome_selected, bet_percentage,
			start_timestamp, deadline_timestamp,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8,
			$9, $10,
			$11, NOW(), NOW()
		)
		RETURNING id`

	status := o.Status
	if status == "" {
		status = domain.OrderStatusDraft
	}

	var id int64
	err := s.pool.QueryRow(ctx, query,
		o.OrderHash, o.Owner, o.SellToken, o.BuyToken,
		bigIntStr(o.SellAmount), bigIntStr(o.MinBuyAmount),
		o.OutcomeSelected, o.BetPercentage,
		o.StartTimestamp, o.DeadlineTimestamp,
		string(status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create order: %w", err)
	}
	return id, nil
}

const orderSelectCols = `id, order_hash, owner, sell_token, buy_token,
	sell_amount::text, min_buy_amount::text,
	outcome_selected, bet_percentage, start_timestamp, deadline_timestamp,
	polymarket_order_hash, transaction_hash, status, created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (*domain.Order, error) {
	var o domain.Order
	var status string
	var sellAmountStr, minBuyAmountStr string

	err := scanner.Scan(
		&o.ID, &o.OrderHash, &o.Owner, &o.SellToken, &o.BuyToken,
		&sellAmountStr, &minBuyAmountStr,
		&o.OutcomeSelected, &o.BetPercentage, &o.StartTimestamp, &o.DeadlineTimestamp,
		&o.PolymarketOrderHash, &o.TransactionHash, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	o.SellAmount, _ = new(big.Int).SetString(sellAmountStr, 10)
	o.MinBuyAmount, _ = new(big.Int).SetString(minBuyAmountStr, 10)

	return &o, nil
}

func scanOrderRows(rows pgx.Rows) ([]*domain.Order, error) {
	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by id.
func (s *OrderStore) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}

// GetByOrderHash retrieves a single order by its on-chain registration hash.
func (s *OrderStore) GetByOrderHash(ctx context.Context, orderHash string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE order_hash = $1`, orderHash)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get order by hash %s: %w", orderHash, err)
	}
	return o, nil
}

// SetOrderHash records the derived on-chain order hash. Write-once: setting
// the same value again is a no-op, a different value fails.
func (s *OrderStore) SetOrderHash(ctx context.Context, id int64, orderHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET order_hash = $2, updated_at = NOW()
		 WHERE id = $1 AND (order_hash = '' OR order_hash = $2)`,
		id, orderHash)
	if err != nil {
		return fmt.Errorf("postgres: set order hash %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkpointFailure(ctx, id, "order hash")
	}
	return nil
}

// SetPolymarketOrderHash records the off-chain leg checkpoint. Write-once.
func (s *OrderStore) SetPolymarketOrderHash(ctx context.Context, id int64, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET polymarket_order_hash = $2, updated_at = NOW()
		 WHERE id = $1 AND (polymarket_order_hash IS NULL OR polymarket_order_hash = $2)`,
		id, hash)
	if err != nil {
		return fmt.Errorf("postgres: set polymarket hash %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkpointFailure(ctx, id, "polymarket order hash")
	}
	return nil
}

// SetTransactionHash records the on-chain leg checkpoint. Write-once.
func (s *OrderStore) SetTransactionHash(ctx context.Context, id int64, txHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET transaction_hash = $2, updated_at = NOW()
		 WHERE id = $1 AND (transaction_hash IS NULL OR transaction_hash = $2)`,
		id, txHash)
	if err != nil {
		return fmt.Errorf("postgres: set transaction hash %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkpointFailure(ctx, id, "transaction hash")
	}
	return nil
}

// checkpointFailure distinguishes a missing row from a conflicting write.
func (s *OrderStore) checkpointFailure(ctx context.Context, id int64, field string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check order %d: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fmt.Errorf("postgres: %s of order %d: %w", field, id, domain.ErrCheckpointConflict)
}

// UpdateStatus moves the order along the lifecycle. Transitions not allowed
// by domain.ValidTransition fail; setting the current status again is a
// no-op so resumed flows stay idempotent.
func (s *OrderStore) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin status update %d: %w", id, err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE", id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: read status %d: %w", id, err)
	}

	if domain.OrderStatus(current) == status {
		return nil
	}
	if !domain.ValidTransition(domain.OrderStatus(current), status) {
		return fmt.Errorf("postgres: order %d %s -> %s: %w",
			id, current, status, domain.ErrInvalidTransition)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1",
		id, string(status)); err != nil {
		return fmt.Errorf("postgres: update status %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit status update %d: %w", id, err)
	}
	return nil
}

// ListByOwner returns orders owned by the given Safe address, newest first.
func (s *OrderStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]*domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE owner = $1`
	args := []any{owner}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by owner: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by owner: %w", err)
	}
	return orders, nil
}

// ListByStatus returns orders in the given status, newest first.
func (s *OrderStore) ListByStatus(ctx context.Context, status domain.OrderStatus, opts domain.ListOpts) ([]*domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE status = $1`
	args := []any{string(status)}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by status: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by status: %w", err)
	}
	return orders, nil
}

// applyListOpts appends time filters, ordering, and pagination to a query.
func applyListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return query, args
}

func bigIntStr(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
