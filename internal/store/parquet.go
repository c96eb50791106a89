package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradebridge/internal/domain"
)

// ExecutionArchive writes the day's executions to Parquet files on disk for
// offline analysis. The SQLite journal stays the source of truth.
type ExecutionArchive struct {
	DataDir string
}

// NewExecutionArchive creates an ExecutionArchive rooted at dataDir.
func NewExecutionArchive(dataDir string) *ExecutionArchive {
	return &ExecutionArchive{DataDir: dataDir}
}

// ExecutionRecord is the Parquet schema for an archived fill.
type ExecutionRecord struct {
	ExecID        string   `parquet:"exec_id"`
	OrderID       int64    `parquet:"order_id"`
	Symbol        string   `parquet:"symbol"`
	Side          string   `parquet:"side"`
	Timestamp     int64    `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Shares        float64  `parquet:"shares"`
	Price         float64  `parquet:"price"`
	Commission    *float64 `parquet:"commission,optional"`
	RealizedPnL   *float64 `parquet:"realized_pnl,optional"`
	CorrelationID string   `parquet:"correlation_id"`
}

// WriteExecutions merges execs into per-day files at
//
//	<DataDir>/executions/<YYYY-MM-DD>.parquet
//
// keyed by exec id, so re-archiving a day is idempotent and picks up late
// commission reports.
func (a *ExecutionArchive) WriteExecutions(_ context.Context, execs []domain.Execution) error {
	if len(execs) == 0 {
		return nil
	}

	groups := make(map[string][]ExecutionRecord)
	for _, e := range execs {
		date := e.Timestamp.UTC().Format("2006-01-02")
		groups[date] = append(groups[date], ExecutionRecord{
			ExecID:        e.ExecID,
			OrderID:       e.OrderID,
			Symbol:        e.Symbol,
			Side:          e.Side,
			Timestamp:     e.Timestamp.UnixMilli(),
			Shares:        e.Shares,
			Price:         e.Price,
			Commission:    e.Commission,
			RealizedPnL:   e.RealizedPnL,
			CorrelationID: e.CorrelationID,
		})
	}

	for date, records := range groups {
		t, _ := time.Parse("2006-01-02", date)
		path := a.path(t)

		existing, err := readParquetFile[ExecutionRecord](path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading archived executions for %s: %w", date, err)
		}
		merged := mergeExecutionRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("archiving executions for %s: %w", date, err)
		}
	}
	return nil
}

// ReadExecutions returns the archived fills for the UTC day containing day.
func (a *ExecutionArchive) ReadExecutions(_ context.Context, day time.Time) ([]domain.Execution, error) {
	records, err := readParquetFile[ExecutionRecord](a.path(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]domain.Execution, 0, len(records))
	for _, r := range records {
		out = append(out, domain.Execution{
			ExecID:        r.ExecID,
			OrderID:       r.OrderID,
			Symbol:        r.Symbol,
			Side:          r.Side,
			Shares:        r.Shares,
			Price:         r.Price,
			Commission:    r.Commission,
			RealizedPnL:   r.RealizedPnL,
			CorrelationID: r.CorrelationID,
			Timestamp:     time.UnixMilli(r.Timestamp).UTC(),
		})
	}
	return out, nil
}

// path returns the archive file for the UTC day of t.
// Layout: <dataDir>/executions/<YYYY-MM-DD>.parquet
func (a *ExecutionArchive) path(t time.Time) string {
	return filepath.Join(a.DataDir, "executions", t.UTC().Format("2006-01-02")+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeExecutionRecords deduplicates by exec id, preferring incoming records.
// Results are sorted by timestamp.
func mergeExecutionRecords(existing, incoming []ExecutionRecord) []ExecutionRecord {
	seen := make(map[string]ExecutionRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ExecID] = r
	}
	for _, r := range incoming {
		seen[r.ExecID] = r
	}

	merged := make([]ExecutionRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].ExecID < merged[j].ExecID
	})
	return merged
}
