// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/calmwaters/lotus/internal/model"
)

// RangeStore is the contract for the remote spreadsheet-backed store. Tables
// are addressed by name and A1-style range notation ("Bills!A2:J").
type RangeStore interface {
	// ReadRange returns the cell values in the given range, row by row.
	// Trailing empty cells may be omitted by the remote store.
	ReadRange(ctx context.Context, rng string) ([][]any, error)

	// UpdateRange overwrites the given range with the provided rows.
	UpdateRange(ctx context.Context, rng string, values [][]any) error

	// AppendRows appends rows after the last data row of the table the range
	// belongs to, returning the range the store actually wrote. The caller
	// derives the new physical row number from that range.
	AppendRows(ctx context.Context, rng string, values [][]any) (updatedRange string, err error)

	// ClearRange blanks the cells in the given range without removing rows.
	ClearRange(ctx context.Context, rng string) error

	// EnsureTable creates a named table if it does not already exist.
	EnsureTable(ctx context.Context, title string) error

	// DeleteRow physically removes one row from the named table, shifting
	// every subsequent row up by one. Row numbers are 1-based.
	DeleteRow(ctx context.Context, table string, row int) error
}

// BillStore is the contract for the invoice ledger persistence layer.
type BillStore interface {
	// Upsert writes the bill to its existing row, or appends a new one.
	// Keyed by draft id and bill number; idempotent for identical content.
	Upsert(ctx context.Context, bill *model.Bill) error

	// Read resolves either key (draft id or bill number) to the stored bill.
	Read(ctx context.Context, key string) (*model.Bill, error)

	// ListAll returns every live bill in physical row order.
	ListAll(ctx context.Context) ([]model.Bill, error)

	// ArchiveAndRemove copies the bill's row into the archive table, deletes
	// it from the ledger, and cleans up every index entry for the record.
	ArchiveAndRemove(ctx context.Context, key string) error

	// ListArchived returns every archived bill.
	ListArchived(ctx context.Context) ([]model.Bill, error)
}

// BillNumberAllocator issues fresh, unique, monotonically increasing
// human-facing invoice numbers. Called exactly once per finalize.
type BillNumberAllocator interface {
	NextBillNo(ctx context.Context) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
