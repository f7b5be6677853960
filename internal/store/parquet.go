package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"breakout/internal/domain"
)

// Compile-time interface checks.
var _ BarCache = (*ParquetStore)(nil)
var _ HistoryStore = (*ParquetStore)(nil)

// ParquetStore implements BarCache and HistoryStore using Parquet files on
// disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:    b.Symbol.String(),
		Timestamp: b.Timestamp.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func fromRecord(r BarRecord) domain.Bar {
	return domain.Bar{
		Symbol:    domain.Symbol(r.Symbol),
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

// ---------------------------------------------------------------------------
// BarCache implementation
// ---------------------------------------------------------------------------

// ReadDay reads <DataDir>/bars/<date>/<SYMBOL>.parquet.
func (s *ParquetStore) ReadDay(ctx context.Context, date string, symbol domain.Symbol) ([]domain.Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path := s.dayPath(date, symbol)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, false, fmt.Errorf("reading cached bars %s/%s: %w", date, symbol, err)
	}
	bars := make([]domain.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, fromRecord(r))
	}
	return bars, true, nil
}

// WriteDay writes bars to the day file, replacing any previous content.
// Empty bar sets are not written.
func (s *ParquetStore) WriteDay(ctx context.Context, date string, symbol domain.Symbol, bars []domain.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}
	records := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, toRecord(b))
	}
	if err := writeParquetFile(s.dayPath(date, symbol), records); err != nil {
		return fmt.Errorf("writing cached bars %s/%s: %w", date, symbol, err)
	}
	return nil
}

// PurgeBefore removes day directories named before date.
func (s *ParquetStore) PurgeBefore(_ context.Context, date string) error {
	dir := filepath.Join(s.DataDir, "bars")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse("2006-01-02", e.Name()); err != nil {
			continue
		}
		if e.Name() < date {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return fmt.Errorf("purging %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// HistoryStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/history/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol domain.Symbol
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: b.Symbol, year: b.Timestamp.Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	for k, records := range groups {
		path := s.historyPath(k.symbol, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time range.
func (s *ParquetStore) ReadBars(_ context.Context, symbol domain.Symbol, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[BarRecord](s.historyPath(symbol, year))
		if err != nil {
			// No file for this year.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if !ts.Before(start) && !ts.After(end) {
				bars = append(bars, fromRecord(r))
			}
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have stored history.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]domain.Symbol, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "history"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []domain.Symbol
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, domain.Symbol(e.Name()))
		}
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// dayPath returns <dataDir>/bars/<YYYY-MM-DD>/<SYMBOL>.parquet.
func (s *ParquetStore) dayPath(date string, symbol domain.Symbol) string {
	return filepath.Join(s.DataDir, "bars", date, strings.ToUpper(symbol.String())+".parquet")
}

// historyPath returns <dataDir>/history/<SYMBOL>/<YYYY>.parquet.
func (s *ParquetStore) historyPath(symbol domain.Symbol, year int) string {
	return filepath.Join(s.DataDir, "history", strings.ToUpper(symbol.String()), fmt.Sprintf("%d.parquet", year))
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
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
