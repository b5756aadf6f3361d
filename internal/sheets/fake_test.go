package sheets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AppendReportsWrittenRange(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, f.EnsureTable(ctx, "Bills"))
	require.NoError(t, f.UpdateRange(ctx, "Bills!A1:C1", [][]any{{"id", "no", "status"}}))

	got, err := f.AppendRows(ctx, "Bills!A1", [][]any{{"D1", "", "DRAFT"}})
	require.NoError(t, err)
	assert.Equal(t, "Bills!A2:C2", got)

	got, err = f.AppendRows(ctx, "Bills!A1", [][]any{{"D2", "", "DRAFT"}})
	require.NoError(t, err)
	assert.Equal(t, "Bills!A3:C3", got)
}

func TestFake_ReadTrimsTrailingEmpties(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, f.EnsureTable(ctx, "Index"))
	require.NoError(t, f.UpdateRange(ctx, "Index!A1:C1", [][]any{{"key", "row", ""}}))

	rows, err := f.ReadRange(ctx, "Index!A1:C")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"key", "row"}, rows[0])
}

func TestFake_ClearThenReadEmpty(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, f.EnsureTable(ctx, "Index"))
	require.NoError(t, f.UpdateRange(ctx, "Index!A1:B2", [][]any{{"key", "row"}, {"D1", "2"}}))
	require.NoError(t, f.ClearRange(ctx, "Index!A2:B"))

	rows, err := f.ReadRange(ctx, "Index!A2:B")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFake_DeleteRowShiftsLaterRows(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, f.EnsureTable(ctx, "Bills"))
	require.NoError(t, f.UpdateRange(ctx, "Bills!A1:A4", [][]any{{"header"}, {"r2"}, {"r3"}, {"r4"}}))

	require.NoError(t, f.DeleteRow(ctx, "Bills", 3))

	rows, err := f.ReadRange(ctx, "Bills!A1:A")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"r4"}, rows[2])
}
