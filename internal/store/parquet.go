package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// Compile-time interface check.
var _ FillExporter = (*ParquetStore)(nil)

// FillRecord is the Parquet schema for exported fill history.
type FillRecord struct {
	IdempotencyKey string  `parquet:"idempotency_key"`
	VenueOrderID   string  `parquet:"venue_order_id"`
	Instrument     string  `parquet:"instrument"`
	Side           string  `parquet:"side"`
	Qty            float64 `parquet:"qty"`
	Price          float64 `parquet:"price"`
	Timestamp      int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// ParquetStore implements FillExporter using one Parquet file per trading
// date under <DataDir>/fills/.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// WriteFills merges the new fills into <DataDir>/fills/<date>.parquet.
func (s *ParquetStore) WriteFills(_ context.Context, date string, fills []FillRecord) error {
	if len(fills) == 0 {
		return nil
	}
	path := s.fillPath(date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating fills dir: %w", err)
	}

	// Read-merge-rewrite: fill files are small (one date each) and this keeps
	// the file valid after every export.
	existing, _ := parquet.ReadFile[FillRecord](path)
	merged := append(existing, fills...)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	w := parquet.NewGenericWriter[FillRecord](f)
	if _, err := w.Write(merged); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing fills for %s: %w", date, err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("closing writer for %s: %w", date, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFills returns the exported fills for a date. A missing file is an
// empty day, not an error.
func (s *ParquetStore) ReadFills(date string) ([]FillRecord, error) {
	records, err := parquet.ReadFile[FillRecord](s.fillPath(date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

func (s *ParquetStore) fillPath(date string) string {
	return filepath.Join(s.DataDir, "fills", date+".parquet")
}
