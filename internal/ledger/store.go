package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/calmwaters/lotus/internal/common"
	"github.com/calmwaters/lotus/internal/model"
	"github.com/calmwaters/lotus/internal/service"
)

// Config holds the table names and behavior knobs for the ledger store.
type Config struct {
	LedgerTable  string
	IndexTable   string
	ArchiveTable string

	// VerifyResolves re-reads a row resolved through the index and checks
	// that the row's own keys contain the looked-up key before trusting it.
	// A mismatch is treated as an index miss and handed to the fallback
	// scan, which self-heals the index.
	VerifyResolves bool
}

// DefaultConfig returns the standard table layout.
func DefaultConfig() Config {
	return Config{
		LedgerTable:    "Bills",
		IndexTable:     "BillsIndex",
		ArchiveTable:   "BillsArchive",
		VerifyResolves: true,
	}
}

// Store persists bills against the remote spreadsheet. Lookups go through
// the index table first and fall back to a full-table scan, which backfills
// the index on success.
type Store struct {
	remote service.RangeStore
	index  *recordIndex
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	ensured bool
}

// NewStore creates a ledger store over the given remote range store.
func NewStore(remote service.RangeStore, cfg Config, logger *slog.Logger) *Store {
	return &Store{
		remote: remote,
		cfg:    cfg,
		logger: logger,
		index:  newRecordIndex(remote, cfg.IndexTable, logger),
	}
}

// ensure bootstraps the ledger and archive tables once per process, then
// delegates to the index's own memoized bootstrap.
func (s *Store) ensure(ctx context.Context) error {
	s.mu.Lock()
	if !s.ensured {
		for _, table := range []string{s.cfg.LedgerTable, s.cfg.ArchiveTable} {
			if err := s.remote.EnsureTable(ctx, table); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("ensure table %s: %w", table, err)
			}
			headerRange := fmt.Sprintf("%s!A1:%s1", table, lastCol)
			if err := s.remote.UpdateRange(ctx, headerRange, [][]any{ledgerHeader}); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("write header of %s: %w", table, err)
			}
		}
		s.ensured = true
	}
	s.mu.Unlock()

	return s.index.Ensure(ctx)
}

// rowHandle is a resolved physical row: its number and its raw cells.
type rowHandle struct {
	values []any
	num    int
}

func (s *Store) rowRange(num int) string {
	return fmt.Sprintf("%s!A%d:%s%d", s.cfg.LedgerTable, num, lastCol, num)
}

// resolve turns any of the given keys into a row handle. Resolution order:
// index lookup per key, then one full-table scan matching any key. The scan
// exists to tolerate a missing or stale index and backfills it on success.
// Returns nil with no error when nothing matches.
func (s *Store) resolve(ctx context.Context, keys ...string) (*rowHandle, error) {
	live := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			live = append(live, key)
		}
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("resolve: no keys: %w", common.ErrValidation)
	}

	for _, key := range live {
		num, ok, err := s.index.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		values, err := s.remote.ReadRange(ctx, s.rowRange(num))
		if err != nil {
			return nil, fmt.Errorf("read resolved row %d: %w", num, err)
		}
		var row []any
		if len(values) > 0 {
			row = values[0]
		}

		if s.cfg.VerifyResolves && !containsKey(row, key) {
			s.logger.Warn("index verification failed, falling back to scan",
				"key", key, "row", num, "error", common.ErrIndexDesync)
			continue
		}
		return &rowHandle{num: num, values: row}, nil
	}

	return s.scanFallback(ctx, live)
}

func containsKey(row []any, key string) bool {
	for _, k := range rowKeys(row) {
		if k == key {
			return true
		}
	}
	return false
}

// scanFallback linearly scans the whole ledger for any of the keys and
// backfills the index with the row's own keys when it finds a match.
func (s *Store) scanFallback(ctx context.Context, keys []string) (*rowHandle, error) {
	rows, err := s.remote.ReadRange(ctx, fmt.Sprintf("%s!A%d:%s", s.cfg.LedgerTable, firstDataRow, lastCol))
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	for i, row := range rows {
		if !want[cellString(row, colID)] && !want[cellString(row, colBillNo)] {
			continue
		}
		num := firstDataRow + i
		for _, key := range rowKeys(row) {
			if err := s.index.Upsert(ctx, key, num); err != nil {
				return nil, fmt.Errorf("backfill index for %s: %w", key, err)
			}
		}
		s.logger.Debug("fallback scan resolved key", "row", num)
		return &rowHandle{num: num, values: row}, nil
	}
	return nil, nil
}

// Upsert writes the bill to its existing row or appends a new one, keeping
// both keys indexed to the same row. Idempotent for identical content, so a
// failed write is safe to re-issue.
func (s *Store) Upsert(ctx context.Context, bill *model.Bill) error {
	if err := bill.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}

	row, err := billToRow(bill)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	handle, err := s.resolve(ctx, bill.ID, bill.BillNo)
	if err != nil {
		return err
	}

	if handle != nil {
		if bill.Rev > 0 {
			if existing, parseErr := rowToBill(handle.values); parseErr == nil && existing.Rev >= bill.Rev {
				return fmt.Errorf("row %d holds rev %d, write carries rev %d: %w",
					handle.num, existing.Rev, bill.Rev, common.ErrConflict)
			}
		}
		if err := s.remote.UpdateRange(ctx, s.rowRange(handle.num), [][]any{row}); err != nil {
			return fmt.Errorf("update row %d: %w", handle.num, err)
		}
		return s.indexKeys(ctx, bill, handle.num)
	}

	updatedRange, err := s.remote.AppendRows(ctx, fmt.Sprintf("%s!A1", s.cfg.LedgerTable), [][]any{row})
	if err != nil {
		return fmt.Errorf("append bill: %w", err)
	}
	num, err := rowFromRange(updatedRange)
	if err != nil {
		return fmt.Errorf("locate appended row: %w", err)
	}
	s.logger.Debug("appended bill", "row", num, "draft_id", bill.ID, "bill_no", bill.BillNo)
	return s.indexKeys(ctx, bill, num)
}

func (s *Store) indexKeys(ctx context.Context, bill *model.Bill, num int) error {
	for _, key := range bill.Keys() {
		if err := s.index.Upsert(ctx, key, num); err != nil {
			return fmt.Errorf("index %s: %w", key, err)
		}
	}
	return nil
}

// Read resolves either key to its stored bill.
func (s *Store) Read(ctx context.Context, key string) (*model.Bill, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	handle, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, fmt.Errorf("bill %s: %w", key, common.ErrNotFound)
	}

	bill, err := rowToBill(handle.values)
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", handle.num, err)
	}
	return bill, nil
}

// ListAll reads every live bill in physical row order. Rows with missing or
// malformed snapshots degrade to the fixed-column reconstruction; rows that
// cannot produce even that are skipped with a warning.
func (s *Store) ListAll(ctx context.Context) ([]model.Bill, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	return s.listTable(ctx, s.cfg.LedgerTable)
}

// ListArchived reads every archived bill.
func (s *Store) ListArchived(ctx context.Context) ([]model.Bill, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	return s.listTable(ctx, s.cfg.ArchiveTable)
}

func (s *Store) listTable(ctx context.Context, table string) ([]model.Bill, error) {
	rows, err := s.remote.ReadRange(ctx, fmt.Sprintf("%s!A%d:%s", table, firstDataRow, lastCol))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}

	bills := make([]model.Bill, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		bill, err := rowToBill(row)
		if err != nil {
			s.logger.Warn("skipping unparseable row", "table", table, "row", firstDataRow+i, "error", err)
			continue
		}
		bills = append(bills, *bill)
	}
	return bills, nil
}

// ArchiveAndRemove copies the resolved row verbatim into the archive table,
// physically deletes it from the ledger, removes every index entry for the
// record's keys, and shifts index entries past the deleted row. The shift
// is part of this operation so no caller can forget it.
func (s *Store) ArchiveAndRemove(ctx context.Context, key string) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}

	handle, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	if handle == nil {
		return fmt.Errorf("bill %s: %w", key, common.ErrNotFound)
	}

	archived := make([]any, rowWidth)
	copy(archived, handle.values)
	if _, err := s.remote.AppendRows(ctx, fmt.Sprintf("%s!A1", s.cfg.ArchiveTable), [][]any{archived}); err != nil {
		return fmt.Errorf("archive row %d: %w", handle.num, err)
	}

	if err := s.remote.DeleteRow(ctx, s.cfg.LedgerTable, handle.num); err != nil {
		return fmt.Errorf("delete row %d: %w", handle.num, err)
	}

	keys := rowKeys(handle.values)
	if err := s.index.DeleteKeys(ctx, keys); err != nil {
		return fmt.Errorf("delete index keys: %w", err)
	}
	if err := s.index.ShiftRowsAfter(ctx, handle.num); err != nil {
		return fmt.Errorf("shift index rows: %w", err)
	}

	s.logger.Info("archived bill", "key", key, "row", handle.num)
	return nil
}

// IsNotFound reports whether the error means the key resolved nowhere.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
