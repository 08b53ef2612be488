package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports old terminal orders and audit rows to cold storage.
// Database rows are kept: the archive is an export, not a purge, because
// orders are never deleted.
type Archiver interface {
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
	RunPeriodic(ctx context.Context, interval, retention time.Duration) error
}
