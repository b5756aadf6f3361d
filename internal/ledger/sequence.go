package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/calmwaters/lotus/internal/service"
)

// SequenceAllocator issues bill numbers from a single counter cell on a meta
// table: read, increment, write back. Monotonic and unique under the
// low-write-concurrency this system is designed for.
type SequenceAllocator struct {
	remote service.RangeStore
	table  string
	prefix string
	logger *slog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewSequenceAllocator creates an allocator backed by the named meta table.
// Numbers are formatted "<prefix><n>", e.g. "INV-42".
func NewSequenceAllocator(remote service.RangeStore, table, prefix string, logger *slog.Logger) *SequenceAllocator {
	return &SequenceAllocator{remote: remote, table: table, prefix: prefix, logger: logger}
}

func (a *SequenceAllocator) ensure(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ensured {
		return nil
	}

	if err := a.remote.EnsureTable(ctx, a.table); err != nil {
		return fmt.Errorf("ensure meta table: %w", err)
	}
	header := fmt.Sprintf("%s!A1:B1", a.table)
	if err := a.remote.UpdateRange(ctx, header, [][]any{{"Counter", "Value"}}); err != nil {
		return fmt.Errorf("write meta header: %w", err)
	}

	rows, err := a.remote.ReadRange(ctx, a.counterRange())
	if err != nil {
		return fmt.Errorf("read counter: %w", err)
	}
	if len(rows) == 0 || cellString(rows[0], 0) == "" {
		if err := a.remote.UpdateRange(ctx, a.counterRange(), [][]any{{"billNo", 0}}); err != nil {
			return fmt.Errorf("seed counter: %w", err)
		}
	}

	a.ensured = true
	return nil
}

func (a *SequenceAllocator) counterRange() string {
	return fmt.Sprintf("%s!A2:B2", a.table)
}

// NextBillNo implements the BillNumberAllocator interface.
func (a *SequenceAllocator) NextBillNo(ctx context.Context) (string, error) {
	if err := a.ensure(ctx); err != nil {
		return "", err
	}

	rows, err := a.remote.ReadRange(ctx, a.counterRange())
	if err != nil {
		return "", fmt.Errorf("read counter: %w", err)
	}
	last := 0
	if len(rows) > 0 {
		if n, ok := cellInt(rows[0], 1); ok {
			last = n
		}
	}

	next := last + 1
	if err := a.remote.UpdateRange(ctx, a.counterRange(), [][]any{{"billNo", next}}); err != nil {
		return "", fmt.Errorf("advance counter: %w", err)
	}

	a.logger.Debug("allocated bill number", "n", next)
	return fmt.Sprintf("%s%d", a.prefix, next), nil
}
