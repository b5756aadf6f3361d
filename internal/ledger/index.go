package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calmwaters/lotus/internal/service"
)

var indexHeader = []any{"Key", "Row", "Updated At"}

// indexEntry maps one key (draft id or bill number) to a physical ledger row.
type indexEntry struct {
	updatedAt time.Time
	key       string
	row       int
}

// recordIndex maintains the key-to-row-number table that turns O(n) ledger
// scans into O(1) row reads. It is an accelerator: the ledger falls back to
// a full scan whenever the index cannot resolve a key.
type recordIndex struct {
	remote service.RangeStore
	table  string
	logger *slog.Logger

	mu      sync.Mutex
	ensured bool
}

func newRecordIndex(remote service.RangeStore, table string, logger *slog.Logger) *recordIndex {
	return &recordIndex{remote: remote, table: table, logger: logger}
}

// Ensure bootstraps the index table: create it if absent and rewrite the
// header unconditionally. Safe to call on every operation; the remote checks
// run once per process, re-armed only if bootstrap fails.
func (ix *recordIndex) Ensure(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.ensured {
		return nil
	}

	if err := ix.remote.EnsureTable(ctx, ix.table); err != nil {
		return fmt.Errorf("ensure index table: %w", err)
	}
	headerRange := fmt.Sprintf("%s!A1:C1", ix.table)
	if err := ix.remote.UpdateRange(ctx, headerRange, [][]any{indexHeader}); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}

	ix.ensured = true
	return nil
}

// entries reads the whole index fresh from the remote store. The sheet row
// of entries[i] is firstDataRow+i.
func (ix *recordIndex) entries(ctx context.Context) ([]indexEntry, error) {
	rows, err := ix.remote.ReadRange(ctx, fmt.Sprintf("%s!A%d:C", ix.table, firstDataRow))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	out := make([]indexEntry, 0, len(rows))
	for _, row := range rows {
		key := cellString(row, 0)
		rowNum, ok := cellInt(row, 1)
		if key == "" || !ok {
			out = append(out, indexEntry{})
			continue
		}
		entry := indexEntry{key: key, row: rowNum}
		if ts, err := time.Parse(time.RFC3339, cellString(row, 2)); err == nil {
			entry.updatedAt = ts
		}
		out = append(out, entry)
	}
	return out, nil
}

// Lookup resolves a key to a ledger row number. With duplicate entries the
// most recent one wins.
func (ix *recordIndex) Lookup(ctx context.Context, key string) (int, bool, error) {
	entries, err := ix.entries(ctx)
	if err != nil {
		return 0, false, err
	}

	found := false
	var best indexEntry
	for _, entry := range entries {
		if entry.key != key {
			continue
		}
		if !found || !entry.updatedAt.Before(best.updatedAt) {
			best = entry
			found = true
		}
	}
	if !found {
		return 0, false, nil
	}
	return best.row, true, nil
}

// Upsert overwrites the key's entry in place, or appends a new one.
func (ix *recordIndex) Upsert(ctx context.Context, key string, rowNum int) error {
	entries, err := ix.entries(ctx)
	if err != nil {
		return err
	}

	value := []any{key, rowNum, time.Now().UTC().Format(time.RFC3339)}
	for i, entry := range entries {
		if entry.key == key {
			rng := fmt.Sprintf("%s!A%d:C%d", ix.table, firstDataRow+i, firstDataRow+i)
			if err := ix.remote.UpdateRange(ctx, rng, [][]any{value}); err != nil {
				return fmt.Errorf("update index entry %s: %w", key, err)
			}
			return nil
		}
	}

	if _, err := ix.remote.AppendRows(ctx, fmt.Sprintf("%s!A1", ix.table), [][]any{value}); err != nil {
		return fmt.Errorf("append index entry %s: %w", key, err)
	}
	return nil
}

// DeleteKeys removes every entry for the given keys. The remote store has no
// delete-by-content, so the data range is cleared and the survivors are
// rewritten wholesale.
func (ix *recordIndex) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}

	entries, err := ix.entries(ctx)
	if err != nil {
		return err
	}

	keep := make([][]any, 0, len(entries))
	for _, entry := range entries {
		if entry.key == "" || drop[entry.key] {
			continue
		}
		keep = append(keep, []any{entry.key, entry.row, entry.updatedAt.Format(time.RFC3339)})
	}

	return ix.rewrite(ctx, keep)
}

// ShiftRowsAfter decrements every entry pointing past a deleted ledger row.
// Must run immediately after any physical row removal.
func (ix *recordIndex) ShiftRowsAfter(ctx context.Context, deletedRow int) error {
	entries, err := ix.entries(ctx)
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(entries))
	for _, entry := range entries {
		if entry.key == "" {
			continue
		}
		if entry.row > deletedRow {
			entry.row--
		}
		rows = append(rows, []any{entry.key, entry.row, entry.updatedAt.Format(time.RFC3339)})
	}

	return ix.rewrite(ctx, rows)
}

func (ix *recordIndex) rewrite(ctx context.Context, rows [][]any) error {
	if err := ix.remote.ClearRange(ctx, fmt.Sprintf("%s!A%d:C", ix.table, firstDataRow)); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	rng := fmt.Sprintf("%s!A%d:C%d", ix.table, firstDataRow, firstDataRow+len(rows)-1)
	if err := ix.remote.UpdateRange(ctx, rng, rows); err != nil {
		return fmt.Errorf("rewrite index: %w", err)
	}
	return nil
}
