// Package store defines storage interfaces for the order journal and fill
// history, with SQLite and Parquet implementations.
package store

import (
	"context"
	"errors"

	"tradecore/internal/domain"
)

// ErrNotFound is returned when a journal lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// OrderJournal persists order records and reconciliation anomalies for audit.
// The in-memory ledger stays authoritative within a run; journal writes are
// best-effort mirrors and must never fail trading.
type OrderJournal interface {
	// SaveOrder inserts or replaces the record keyed by its idempotency key,
	// including the append-only status history.
	SaveOrder(ctx context.Context, rec *domain.OrderRecord) error

	// GetOrder retrieves a record by idempotency key. Returns ErrNotFound
	// when the key has never been journaled.
	GetOrder(ctx context.Context, key string) (*domain.OrderRecord, error)

	// ListOrders returns all records with the given status, or every record
	// when status is empty.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.OrderRecord, error)

	// SaveAnomaly records a local/venue state mismatch for operator review.
	SaveAnomaly(ctx context.Context, a domain.Anomaly) error

	// ListAnomalies returns all recorded anomalies, oldest first.
	ListAnomalies(ctx context.Context) ([]domain.Anomaly, error)
}

// FillExporter persists fill history to columnar files for offline analysis.
type FillExporter interface {
	// WriteFills appends fills to the export file for the given date
	// (YYYY-MM-DD).
	WriteFills(ctx context.Context, date string, fills []FillRecord) error
}
