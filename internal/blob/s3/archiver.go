package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
)

// ArchiveImpl implements domain.Archiver by exporting terminal orders and old
// audit rows to JSONL objects in S3. Database rows are intentionally NOT
// deleted: orders are never removed from the primary store, so the archive is
// a cold-storage export, not a purge.
type ArchiveImpl struct {
	writer domain.BlobWriter
	orders domain.OrderStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, orders domain.OrderStore, audit domain.AuditStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		orders: orders,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// archivedOrder is the JSONL export shape of an order. Big integers are
// serialized as decimal strings.
type archivedOrder struct {
	ID                  int64   `json:"id"`
	OrderHash           string  `json:"orderHash"`
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

func toArchived(o *domain.Order) archivedOrder {
	rec := archivedOrder{
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
		rec.SellAmount = o.SellAmount.String()
	}
	if o.MinBuyAmount != nil {
		rec.MinBuyAmount = o.MinBuyAmount.String()
	}
	return rec
}

// ArchiveOrders exports terminal (filled or canceled) orders last touched
// before the cutoff to archive/orders/YYYY-MM.jsonl and returns the record
// count. The export itself is recorded in the audit log.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	var records []archivedOrder

	for _, status := range []domain.OrderStatus{domain.OrderStatusFilled, domain.OrderStatusCanceled} {
		orders, err := a.orders.ListByStatus(ctx, status, domain.ListOpts{Until: &before})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
		}
		for _, o := range orders {
			records = append(records, toArchived(o))
		}
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}

	path := archivePath("orders", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive.orders", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive orders audit log: %w", err)
	}

	return count, nil
}

// ArchiveAudit exports audit rows created before the cutoff to
// archive/audit/YYYY-MM.jsonl and returns the record count.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return int64(len(entries)), nil
}

// RunPeriodic runs both exports once per interval until ctx is cancelled.
// retention is how far back the cutoff sits behind each run.
func (a *ArchiveImpl) RunPeriodic(ctx context.Context, interval, retention time.Duration) error {
	a.logger.Info("archiver started",
		slog.Duration("interval", interval),
		slog.Duration("retention", retention),
	)
	defer a.logger.Info("archiver stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if n, err := a.ArchiveOrders(ctx, cutoff); err != nil {
				a.logger.Error("order archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.Info("orders archived", slog.Int64("count", n))
			}
			if n, err := a.ArchiveAudit(ctx, cutoff); err != nil {
				a.logger.Error("audit archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.Info("audit entries archived", slog.Int64("count", n))
			}
		}
	}
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/orders/2025-01.jsonl
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
