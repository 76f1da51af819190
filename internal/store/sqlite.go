package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ OrderJournal = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	idempotency_key TEXT PRIMARY KEY,
	venue_order_id TEXT NOT NULL DEFAULT '',
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	qty TEXT NOT NULL,
	order_type TEXT NOT NULL,
	limit_price TEXT NOT NULL,
	status TEXT NOT NULL,
	filled_qty TEXT NOT NULL,
	avg_fill_price TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	history TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_venue_id ON orders(venue_order_id);

CREATE TABLE IF NOT EXISTS anomalies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	idempotency_key TEXT NOT NULL,
	venue_order_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL,
	detected_at DATETIME NOT NULL
);
`

// SQLiteStore implements OrderJournal backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveOrder inserts or replaces the journal row for the record.
func (s *SQLiteStore) SaveOrder(ctx context.Context, rec *domain.OrderRecord) error {
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("encoding history for %s: %w", rec.Key(), err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders
		(idempotency_key, venue_order_id, instrument, side, qty, order_type,
		 limit_price, status, filled_qty, avg_fill_price, submitted_at, updated_at, history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key(), rec.VenueOrderID, rec.Request.Instrument, string(rec.Request.Side),
		rec.Request.Qty.String(), string(rec.Request.Type), rec.Request.LimitPrice.String(),
		string(rec.Status), rec.FilledQty.String(), rec.AvgFillPrice.String(),
		rec.Request.SubmittedAt.UTC(), rec.UpdatedAt.UTC(), string(history),
	)
	return err
}

// GetOrder retrieves a record by idempotency key.
func (s *SQLiteStore) GetOrder(ctx context.Context, key string) (*domain.OrderRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, venue_order_id, instrument, side, qty, order_type,
		       limit_price, status, filled_qty, avg_fill_price, submitted_at, updated_at, history
		FROM orders WHERE idempotency_key = ?`, key)
	rec, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListOrders returns records with the given status, or all when empty.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.OrderRecord, error) {
	query := `
		SELECT idempotency_key, venue_order_id, instrument, side, qty, order_type,
		       limit_price, status, filled_qty, avg_fill_price, submitted_at, updated_at, history
		FROM orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY submitted_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// SaveAnomaly appends an anomaly row.
func (s *SQLiteStore) SaveAnomaly(ctx context.Context, a domain.Anomaly) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomalies (idempotency_key, venue_order_id, reason, detected_at)
		VALUES (?, ?, ?, ?)`,
		a.IdempotencyKey, a.VenueOrderID, a.Reason, a.DetectedAt.UTC(),
	)
	return err
}

// ListAnomalies returns all anomalies, oldest first.
func (s *SQLiteStore) ListAnomalies(ctx context.Context) ([]domain.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idempotency_key, venue_order_id, reason, detected_at
		FROM anomalies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Anomaly
	for rows.Next() {
		var a domain.Anomaly
		if err := rows.Scan(&a.IdempotencyKey, &a.VenueOrderID, &a.Reason, &a.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (*domain.OrderRecord, error) {
	var (
		rec                                          domain.OrderRecord
		side, orderType, status                      string
		qty, limitPrice, filledQty, avgPrice, histJS string
		submittedAt, updatedAt                       time.Time
	)
	err := sc.Scan(&rec.Request.IdempotencyKey, &rec.VenueOrderID, &rec.Request.Instrument,
		&side, &qty, &orderType, &limitPrice, &status, &filledQty, &avgPrice,
		&submittedAt, &updatedAt, &histJS)
	if err != nil {
		return nil, err
	}
	rec.Request.Side = domain.Side(side)
	rec.Request.Type = domain.OrderType(orderType)
	rec.Request.SubmittedAt = submittedAt
	rec.Status = domain.OrderStatus(status)
	rec.UpdatedAt = updatedAt
	if rec.Request.Qty, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("decoding qty %q: %w", qty, err)
	}
	if rec.Request.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
		return nil, fmt.Errorf("decoding limit price %q: %w", limitPrice, err)
	}
	if rec.FilledQty, err = decimal.NewFromString(filledQty); err != nil {
		return nil, fmt.Errorf("decoding filled qty %q: %w", filledQty, err)
	}
	if rec.AvgFillPrice, err = decimal.NewFromString(avgPrice); err != nil {
		return nil, fmt.Errorf("decoding avg fill price %q: %w", avgPrice, err)
	}
	if err := json.Unmarshal([]byte(histJS), &rec.History); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	return &rec, nil
}
