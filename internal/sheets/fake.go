package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Fake is an in-memory RangeStore implementation for tests. It mimics the
// parts of the Sheets API the ledger relies on: A1 range addressing, append
// reporting the written range, and row deletion shifting later rows up.
type Fake struct {
	mu     sync.Mutex
	tables map[string][][]any

	// FailWith, when set, is returned by every operation. Tests use it to
	// simulate a remote outage.
	FailWith error
}

// NewFake creates an empty in-memory store.
func NewFake() *Fake {
	return &Fake{tables: make(map[string][][]any)}
}

// Rows returns a copy of a table's grid for assertions.
func (f *Fake) Rows(table string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	grid := f.tables[table]
	out := make([][]any, len(grid))
	for i, row := range grid {
		out[i] = append([]any(nil), row...)
	}
	return out
}

// HasTable reports whether the named table exists.
func (f *Fake) HasTable(table string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[table]
	return ok
}

type a1Range struct {
	table    string
	startCol int // 0-based
	startRow int // 1-based, 0 means unbounded
	endCol   int // 0-based inclusive, -1 means unbounded
	endRow   int // 1-based inclusive, 0 means unbounded
}

func parseA1(rng string) (a1Range, error) {
	table, cells, found := strings.Cut(rng, "!")
	out := a1Range{table: table, endCol: -1}
	if !found || cells == "" {
		return out, nil
	}

	parseCell := func(s string) (col, row int, err error) {
		i := 0
		for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
			col = col*26 + int(s[i]-'A'+1)
			i++
		}
		if col == 0 {
			return 0, 0, fmt.Errorf("bad cell ref %q", s)
		}
		col--
		if i < len(s) {
			row, err = strconv.Atoi(s[i:])
			if err != nil {
				return 0, 0, fmt.Errorf("bad cell ref %q", s)
			}
		}
		return col, row, nil
	}

	start, end, hasEnd := strings.Cut(cells, ":")
	var err error
	out.startCol, out.startRow, err = parseCell(start)
	if err != nil {
		return out, err
	}
	if hasEnd {
		out.endCol, out.endRow, err = parseCell(end)
		if err != nil {
			return out, err
		}
	} else {
		out.endCol = out.startCol
		out.endRow = out.startRow
	}
	return out, nil
}

func colLabel(col int) string {
	label := ""
	for col >= 0 {
		label = string(rune('A'+col%26)) + label
		col = col/26 - 1
	}
	return label
}

func cellEmpty(v any) bool {
	return v == nil || v == ""
}

// ReadRange implements RangeStore.
func (f *Fake) ReadRange(_ context.Context, rng string) ([][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}

	r, err := parseA1(rng)
	if err != nil {
		return nil, err
	}
	grid, ok := f.tables[r.table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", r.table)
	}

	startRow := r.startRow
	if startRow == 0 {
		startRow = 1
	}
	endRow := r.endRow
	if endRow == 0 || endRow > len(grid) {
		endRow = len(grid)
	}

	var out [][]any
	for i := startRow; i <= endRow; i++ {
		row := grid[i-1]
		endCol := r.endCol
		if endCol < 0 || endCol >= len(row) {
			endCol = len(row) - 1
		}
		var cells []any
		if r.startCol <= endCol {
			cells = append([]any(nil), row[r.startCol:endCol+1]...)
		}
		// The real API omits trailing empty cells.
		for len(cells) > 0 && cellEmpty(cells[len(cells)-1]) {
			cells = cells[:len(cells)-1]
		}
		out = append(out, cells)
	}
	// And trailing empty rows.
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *Fake) writeCells(table string, startCol, startRow int, values [][]any) {
	grid := f.tables[table]
	for i, row := range values {
		rowIdx := startRow - 1 + i
		for len(grid) <= rowIdx {
			grid = append(grid, nil)
		}
		for j, v := range row {
			colIdx := startCol + j
			for len(grid[rowIdx]) <= colIdx {
				grid[rowIdx] = append(grid[rowIdx], "")
			}
			grid[rowIdx][colIdx] = v
		}
	}
	f.tables[table] = grid
}

// UpdateRange implements RangeStore.
func (f *Fake) UpdateRange(_ context.Context, rng string, values [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	r, err := parseA1(rng)
	if err != nil {
		return err
	}
	if _, ok := f.tables[r.table]; !ok {
		return fmt.Errorf("table %q does not exist", r.table)
	}
	startRow := r.startRow
	if startRow == 0 {
		startRow = 1
	}
	f.writeCells(r.table, r.startCol, startRow, values)
	return nil
}

// AppendRows implements RangeStore.
func (f *Fake) AppendRows(_ context.Context, rng string, values [][]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return "", f.FailWith
	}

	r, err := parseA1(rng)
	if err != nil {
		return "", err
	}
	grid, ok := f.tables[r.table]
	if !ok {
		return "", fmt.Errorf("table %q does not exist", r.table)
	}

	last := 0
	for i, row := range grid {
		for _, v := range row {
			if !cellEmpty(v) {
				last = i + 1
				break
			}
		}
	}

	startRow := last + 1
	f.writeCells(r.table, 0, startRow, values)

	width := 1
	for _, row := range values {
		if len(row) > width {
			width = len(row)
		}
	}
	endRow := startRow + len(values) - 1
	updated := fmt.Sprintf("%s!A%d:%s%d", r.table, startRow, colLabel(width-1), endRow)
	return updated, nil
}

// ClearRange implements RangeStore.
func (f *Fake) ClearRange(_ context.Context, rng string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	r, err := parseA1(rng)
	if err != nil {
		return err
	}
	grid, ok := f.tables[r.table]
	if !ok {
		return fmt.Errorf("table %q does not exist", r.table)
	}

	startRow := r.startRow
	if startRow == 0 {
		startRow = 1
	}
	endRow := r.endRow
	if endRow == 0 || endRow > len(grid) {
		endRow = len(grid)
	}
	for i := startRow; i <= endRow; i++ {
		row := grid[i-1]
		endCol := r.endCol
		if endCol < 0 || endCol >= len(row) {
			endCol = len(row) - 1
		}
		for j := r.startCol; j <= endCol; j++ {
			row[j] = ""
		}
	}
	return nil
}

// EnsureTable implements RangeStore.
func (f *Fake) EnsureTable(_ context.Context, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	if _, ok := f.tables[title]; !ok {
		f.tables[title] = nil
	}
	return nil
}

// DeleteRow implements RangeStore.
func (f *Fake) DeleteRow(_ context.Context, table string, row int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	grid, ok := f.tables[table]
	if !ok {
		return fmt.Errorf("table %q does not exist", table)
	}
	if row < 1 || row > len(grid) {
		return fmt.Errorf("row %d out of range for table %q", row, table)
	}
	f.tables[table] = append(grid[:row-1], grid[row:]...)
	return nil
}
