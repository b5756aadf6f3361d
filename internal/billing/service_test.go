package billing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calmwaters/lotus/internal/common"
	"github.com/calmwaters/lotus/internal/ledger"
	"github.com/calmwaters/lotus/internal/model"
	"github.com/calmwaters/lotus/internal/sheets"
)

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *sheets.Fake, *fixedClock) {
	t.Helper()
	fake := sheets.NewFake()
	logger := slog.Default()
	store := ledger.NewStore(fake, ledger.DefaultConfig(), logger)
	alloc := ledger.NewSequenceAllocator(fake, "Meta", "INV-", logger)
	clock := &fixedClock{t: time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)}
	svc := NewService(store, alloc, logger, WithClock(clock))
	return svc, fake, clock
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func draftInput() DraftInput {
	return DraftInput{
		Customer: model.Customer{Name: "Asha Rao", Phone: "9812345678", Email: "asha@example.com"},
		Lines: []model.BillLine{{
			ItemID: "svc-101",
			Name:   "Swedish Massage",
			Qty:    decimal.NewFromInt(2),
			Rate:   decimal.NewFromInt(100),
		}},
		DiscountPct: dec("10"),
		GSTRate:     dec("0.18"),
		PaymentMode: "CASH",
	}
}

func TestCreateDraft_AllocatesSequentialIDs(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	first, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)
	assert.Equal(t, "D1", first.ID)
	assert.Equal(t, model.StatusDraft, first.Status)

	second, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)
	assert.Equal(t, "D2", second.ID)
}

func TestCreateDraft_ComputesTotalsAndLineAmounts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	bill, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)

	assert.True(t, bill.Totals.Subtotal.Equal(dec("200.00")), "subtotal = %s", bill.Totals.Subtotal)
	assert.True(t, bill.Totals.Discount.Equal(dec("20.00")))
	assert.True(t, bill.Totals.CGST.Equal(dec("16.20")))
	assert.True(t, bill.Totals.SGST.Equal(dec("16.20")))
	assert.True(t, bill.Totals.GrandTotal.Equal(dec("212.40")))
	require.Len(t, bill.Lines, 1)
	assert.True(t, bill.Lines[0].Amount.Equal(dec("200.00")))
}

func TestCreateDraft_RejectsNegativeLines(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	in := draftInput()
	in.Lines[0].Qty = decimal.NewFromInt(-1)
	_, err := svc.CreateDraft(ctx, in)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestFinalizeDraft(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)

	draft, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)

	clock.advance(time.Minute)
	bill, err := svc.FinalizeDraft(ctx, draft.ID, "a@b.com")
	require.NoError(t, err)

	assert.Equal(t, model.StatusFinal, bill.Status)
	assert.Equal(t, "INV-1", bill.BillNo)
	assert.Equal(t, "a@b.com", bill.CashierEmail)
	require.NotNil(t, bill.FinalizedAt)
	assert.Equal(t, clock.Now(), *bill.FinalizedAt)

	// Finalizing again fails as not found: there is no such draft anymore.
	_, err = svc.FinalizeDraft(ctx, draft.ID, "a@b.com")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFinalizeDraft_MissingDraft(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.FinalizeDraft(ctx, "D42", "a@b.com")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFinalizeDraft_BillNumbersAreMonotonic(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	for i, want := range []string{"INV-1", "INV-2", "INV-3"} {
		draft, err := svc.CreateDraft(ctx, draftInput())
		require.NoError(t, err, "draft %d", i)
		bill, err := svc.FinalizeDraft(ctx, draft.ID, "a@b.com")
		require.NoError(t, err)
		assert.Equal(t, want, bill.BillNo)
	}
}

func TestUpdateBill_MergesPatch(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	draft, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)

	updated, err := svc.UpdateBill(ctx, draft.ID, map[string]any{
		"notes":       "member discount applied",
		"paymentMode": "UPI",
	})
	require.NoError(t, err)
	assert.Equal(t, "member discount applied", updated.Notes)
	assert.Equal(t, "UPI", updated.PaymentMode)
	assert.Equal(t, draft.Rev+1, updated.Rev)

	// And it persisted.
	got, err := svc.ListBills(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "UPI", got[0].PaymentMode)
}

func TestUpdateBill_ProtectsIdentityFields(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	draft, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)

	updated, err := svc.UpdateBill(ctx, draft.ID, map[string]any{
		"id":          "D999",
		"billNo":      "INV-999",
		"status":      "FINAL",
		"finalizedAt": "2025-01-01T00:00:00Z",
		"createdAt":   "2020-01-01T00:00:00Z",
		"printedAt":   "2025-01-01T00:00:00Z",
		"notes":       "sneaky",
	})
	require.NoError(t, err)

	assert.Equal(t, draft.ID, updated.ID)
	assert.Empty(t, updated.BillNo)
	assert.Equal(t, model.StatusDraft, updated.Status)
	assert.Nil(t, updated.FinalizedAt)
	assert.Nil(t, updated.PrintedAt)
	assert.Equal(t, draft.CreatedAt.UTC(), updated.CreatedAt.UTC())
	assert.Equal(t, "sneaky", updated.Notes)
}

func TestMarkPrinted_AnyStatus(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)

	draft, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)
	_, err = svc.FinalizeDraft(ctx, draft.ID, "a@b.com")
	require.NoError(t, err)

	clock.advance(time.Minute)
	bill, err := svc.MarkPrinted(ctx, draft.ID)
	require.NoError(t, err)
	require.NotNil(t, bill.PrintedAt)
	assert.Equal(t, clock.Now(), *bill.PrintedAt)
	assert.Equal(t, model.StatusFinal, bill.Status)
}

func TestVoidBill_DoesNotArchive(t *testing.T) {
	ctx := context.Background()
	svc, fake, _ := newTestService(t)

	draft, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)
	_, err = svc.FinalizeDraft(ctx, draft.ID, "a@b.com")
	require.NoError(t, err)

	bill, err := svc.VoidBill(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusVoid, bill.Status)

	// The row stays in the live ledger until an explicit archive call.
	rows := fake.Rows("Bills")
	assert.Len(t, rows, 2) // header + the voided bill

	require.NoError(t, svc.ArchiveBill(ctx, draft.ID))
	_, err = svc.ListArchived(ctx)
	require.NoError(t, err)

	bills, err := svc.ListBills(ctx)
	require.NoError(t, err)
	assert.Empty(t, bills)
}

func TestListBills_ServesFromCacheWithinTTL(t *testing.T) {
	ctx := context.Background()
	svc, fake, clock := newTestService(t)

	_, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)

	first, err := svc.ListBills(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A write that bypasses the service is invisible until the TTL lapses.
	require.NoError(t, fake.UpdateRange(ctx, "Bills!A3:J3", [][]any{{
		"D77", "", "DRAFT", "2025-05-20", "Ghost", "", "0", "CASH", "", "",
	}}))

	cached, err := svc.ListBills(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	clock.advance(defaultCacheTTL + time.Second)
	fresh, err := svc.ListBills(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestListBills_MutationInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)

	first, err := svc.ListBills(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Within the TTL, but the mutation must clear the cache immediately.
	_, err = svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)

	second, err := svc.ListBills(ctx)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestUpdateBill_RevisionsClimbAcrossInstances(t *testing.T) {
	ctx := context.Background()
	svc, fake, _ := newTestService(t)
	logger := slog.Default()

	draft, err := svc.CreateDraft(ctx, draftInput())
	require.NoError(t, err)

	// A second process instance sharing the spreadsheet. Each update reads
	// the stored revision and bumps it, so sequential writers interleave
	// cleanly; a writer reusing a stale revision is rejected at the store.
	other := NewService(
		ledger.NewStore(fake, ledger.DefaultConfig(), logger),
		ledger.NewSequenceAllocator(fake, "Meta", "INV-", logger),
		logger,
	)

	first, err := svc.UpdateBill(ctx, draft.ID, map[string]any{"notes": "first writer"})
	require.NoError(t, err)
	second, err := other.UpdateBill(ctx, draft.ID, map[string]any{"notes": "second writer"})
	require.NoError(t, err)
	assert.Equal(t, first.Rev+1, second.Rev)

	got, err := svc.ListBills(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second writer", got[0].Notes)
}
