// Package billing enforces the bill lifecycle: drafts are created and edited,
// finalized exactly once, optionally voided, and optionally purged to the
// archive as a separate step.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/calmwaters/lotus/internal/common"
	"github.com/calmwaters/lotus/internal/model"
	"github.com/calmwaters/lotus/internal/service"
	"github.com/calmwaters/lotus/internal/totals"
)

const (
	draftIDPrefix   = "D"
	defaultCacheTTL = 5 * time.Second
)

// identityFields are forced back to their pre-patch values on every update,
// so a client cannot smuggle a status or identity change through UpdateBill.
var identityFields = []string{"id", "billNo", "status", "finalizedAt", "createdAt", "printedAt"}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service is the bill state machine. It trusts the API layer to have
// authenticated the caller and rejected edits to non-draft bills already.
type Service struct {
	store  service.BillStore
	alloc  service.BillNumberAllocator
	clock  service.Clock
	logger *slog.Logger
	cache  *listCache
}

// Option configures a Service.
type Option func(*Service)

// WithClock substitutes the time source, for tests.
func WithClock(clock service.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithCacheTTL overrides the listing cache window.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cache = newListCache(ttl) }
}

// NewService creates the bill state machine.
func NewService(store service.BillStore, alloc service.BillNumberAllocator, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		alloc:  alloc,
		clock:  realClock{},
		logger: logger,
		cache:  newListCache(defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DraftInput is everything a new draft needs. Totals are not accepted from
// the caller; they are computed here so the stored breakdown is always
// consistent with the lines and discount.
type DraftInput struct {
	Customer     model.Customer
	Lines        []model.BillLine
	DiscountFlat decimal.Decimal
	DiscountPct  decimal.Decimal
	GSTRate      decimal.Decimal
	InterState   bool
	PaymentMode  string
	Split        *model.PaymentSplit
	Notes        string
	BillDate     time.Time
}

// CreateDraft allocates the next draft id and persists a new DRAFT bill.
//
// The id comes from a max-plus-one scan over all known bills, which is not
// safe under concurrent creators; see the sequence allocator for where
// uniqueness actually matters.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (*model.Bill, error) {
	for i, line := range in.Lines {
		if line.Qty.IsNegative() || line.Rate.IsNegative() {
			return nil, fmt.Errorf("line %d has negative quantity or rate: %w", i, common.ErrValidation)
		}
	}

	id, err := s.nextDraftID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	billDate := in.BillDate
	if billDate.IsZero() {
		billDate = now
	}

	lines := make([]model.BillLine, len(in.Lines))
	for i, line := range in.Lines {
		line.Amount = totals.LineAmount(line)
		lines[i] = line
	}

	bill := &model.Bill{
		ID:          id,
		Status:      model.StatusDraft,
		Customer:    in.Customer,
		Lines:       lines,
		Totals:      totals.Compute(in.Lines, in.DiscountFlat, in.DiscountPct, in.GSTRate, in.InterState),
		PaymentMode: in.PaymentMode,
		Split:       in.Split,
		Notes:       in.Notes,
		CreatedAt:   now,
		BillDate:    billDate,
		Rev:         1,
	}

	if err := s.store.Upsert(ctx, bill); err != nil {
		return nil, err
	}
	s.cache.invalidate()

	s.logger.Info("created draft", "draft_id", id, "grand_total", bill.Totals.GrandTotal)
	return bill, nil
}

// nextDraftID scans all known bills for ids matching D<n> and returns the
// max suffix plus one.
func (s *Service) nextDraftID(ctx context.Context) (string, error) {
	bills, err := s.store.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("scan draft ids: %w", err)
	}

	max := 0
	for _, bill := range bills {
		suffix := strings.TrimPrefix(bill.ID, draftIDPrefix)
		if suffix == bill.ID {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%d", draftIDPrefix, max+1), nil
}

// FinalizeDraft assigns a bill number to a DRAFT and makes it FINAL.
// Irreversible through this API; finalizing anything that is not currently a
// draft fails as not found.
func (s *Service) FinalizeDraft(ctx context.Context, draftID, cashierEmail string) (*model.Bill, error) {
	bill, err := s.store.Read(ctx, draftID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("draft %s: %w", draftID, common.ErrNotFound)
		}
		return nil, err
	}
	if bill.Status != model.StatusDraft {
		return nil, fmt.Errorf("draft %s: %w", draftID, common.ErrNotFound)
	}

	billNo, err := s.alloc.NextBillNo(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate bill number: %w", err)
	}

	now := s.clock.Now()
	bill.BillNo = billNo
	bill.Status = model.StatusFinal
	bill.FinalizedAt = &now
	bill.CashierEmail = cashierEmail
	bill.Rev++

	if err := s.store.Upsert(ctx, bill); err != nil {
		return nil, err
	}
	s.cache.invalidate()

	s.logger.Info("finalized bill", "draft_id", draftID, "bill_no", billNo, "cashier", cashierEmail)
	return bill, nil
}

// UpdateBill merges a patch into the stored record, then force-overwrites
// identity-sensitive fields back to their pre-patch values. Status checks
// belong to the caller; this method does not re-check that the bill is a
// draft.
func (s *Service) UpdateBill(ctx context.Context, key string, patch map[string]any) (*model.Bill, error) {
	existing, err := s.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	merged, err := mergePatch(existing, patch)
	if err != nil {
		return nil, err
	}
	merged.Rev = existing.Rev + 1

	if err := s.store.Upsert(ctx, merged); err != nil {
		return nil, err
	}
	s.cache.invalidate()

	s.logger.Info("updated bill", "key", key, "rev", merged.Rev)
	return merged, nil
}

func mergePatch(existing *model.Bill, patch map[string]any) (*model.Bill, error) {
	raw, err := json.Marshal(existing)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize bill: %v", common.ErrValidation, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: reload bill: %v", common.ErrValidation, err)
	}

	orig := make(map[string]any, len(identityFields))
	for _, f := range identityFields {
		if v, ok := doc[f]; ok {
			orig[f] = v
		}
	}

	for k, v := range patch {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	// Identity fields always revert to what was stored, patched or not.
	for _, f := range identityFields {
		if v, ok := orig[f]; ok {
			doc[f] = v
		} else {
			delete(doc, f)
		}
	}
	delete(doc, "rev")

	remarshaled, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: merge patch: %v", common.ErrValidation, err)
	}
	var merged model.Bill
	if err := json.Unmarshal(remarshaled, &merged); err != nil {
		return nil, fmt.Errorf("%w: malformed patch: %v", common.ErrValidation, err)
	}
	return &merged, nil
}

// MarkPrinted stamps the printed timestamp, independent of status.
func (s *Service) MarkPrinted(ctx context.Context, key string) (*model.Bill, error) {
	bill, err := s.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	bill.PrintedAt = &now
	bill.Rev++

	if err := s.store.Upsert(ctx, bill); err != nil {
		return nil, err
	}
	s.cache.invalidate()
	return bill, nil
}

// VoidBill marks the bill VOID and persists. The row stays in the ledger;
// purging it is a deliberate second call to ArchiveBill.
func (s *Service) VoidBill(ctx context.Context, key string) (*model.Bill, error) {
	bill, err := s.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	bill.Status = model.StatusVoid
	bill.Rev++

	if err := s.store.Upsert(ctx, bill); err != nil {
		return nil, err
	}
	s.cache.invalidate()

	s.logger.Info("voided bill", "key", key)
	return bill, nil
}

// ArchiveBill moves the record out of the live ledger into the archive.
func (s *Service) ArchiveBill(ctx context.Context, key string) error {
	if err := s.store.ArchiveAndRemove(ctx, key); err != nil {
		return err
	}
	s.cache.invalidate()
	return nil
}

// ReadBill resolves a single bill by either key. Single-record reads bypass
// the listing cache.
func (s *Service) ReadBill(ctx context.Context, key string) (*model.Bill, error) {
	return s.store.Read(ctx, key)
}

// ListBills returns all live bills, served from the short-TTL cache when a
// recent read exists. Results may be a few seconds stale; every successful
// mutation clears the cache.
func (s *Service) ListBills(ctx context.Context) ([]model.Bill, error) {
	now := s.clock.Now()
	if bills, ok := s.cache.get(now); ok {
		return bills, nil
	}

	bills, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.set(bills, now)
	return bills, nil
}

// ListArchived returns archived bills. Uncached; the archive is cold data.
func (s *Service) ListArchived(ctx context.Context) ([]model.Bill, error) {
	return s.store.ListArchived(ctx)
}
