// Package model defines the core domain entities for the billing ledger.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BillStatus is the lifecycle state of a bill.
type BillStatus string

// Bill lifecycle states. DRAFT bills are editable; FINAL and VOID are
// immutable except for the printed timestamp.
const (
	StatusDraft BillStatus = "DRAFT"
	StatusFinal BillStatus = "FINAL"
	StatusVoid  BillStatus = "VOID"
)

// Customer is a denormalized copy of the customer at billing time, not a
// reference into a customer table.
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// BillLine is a single billed item.
type BillLine struct {
	ItemID  string          `json:"itemId"`
	Name    string          `json:"name"`
	Variant string          `json:"variant,omitempty"`
	Qty     decimal.Decimal `json:"qty"`
	Rate    decimal.Decimal `json:"rate"`
	Amount  decimal.Decimal `json:"amount"`
}

// BillTotals is the fully itemized tax breakdown, in decimal currency units.
type BillTotals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	TaxableBase decimal.Decimal `json:"taxableBase"`
	CGST        decimal.Decimal `json:"cgst"`
	SGST        decimal.Decimal `json:"sgst"`
	IGST        decimal.Decimal `json:"igst"`
	RoundOff    decimal.Decimal `json:"roundOff"`
	GrandTotal  decimal.Decimal `json:"grandTotal"`
}

// PaymentSplit breaks a payment down by instrument.
type PaymentSplit struct {
	Cash decimal.Decimal `json:"cash"`
	Card decimal.Decimal `json:"card"`
	UPI  decimal.Decimal `json:"upi"`
}

// Bill is the central entity of the ledger. ID is the stable draft id
// assigned at creation (format "D<n>"); BillNo is assigned exactly once at
// finalization.
type Bill struct {
	ID           string        `json:"id,omitempty"`
	BillNo       string        `json:"billNo,omitempty"`
	Status       BillStatus    `json:"status"`
	Customer     Customer      `json:"customer"`
	Lines        []BillLine    `json:"lines"`
	Totals       BillTotals    `json:"totals"`
	PaymentMode  string        `json:"paymentMode"`
	Split        *PaymentSplit `json:"split,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	CashierEmail string        `json:"cashierEmail,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	FinalizedAt  *time.Time    `json:"finalizedAt,omitempty"`
	PrintedAt    *time.Time    `json:"printedAt,omitempty"`
	BillDate     time.Time     `json:"billDate"`

	// Rev is the optimistic-concurrency token carried inside the snapshot
	// column. Zero disables the conflict check.
	Rev int64 `json:"rev,omitempty"`
}

// Keys returns every key the bill is addressable by. A draft has one key;
// a finalized bill has two, both of which must resolve to the same row.
func (b *Bill) Keys() []string {
	keys := make([]string, 0, 2)
	if b.ID != "" {
		keys = append(keys, b.ID)
	}
	if b.BillNo != "" {
		keys = append(keys, b.BillNo)
	}
	return keys
}

// Editable reports whether the bill's content may still be changed.
func (b *Bill) Editable() bool {
	return b.Status == StatusDraft
}

// Validate checks the structural invariants the totals engine and ledger
// rely on. Arithmetic invariants are the totals engine's concern.
func (b *Bill) Validate() error {
	switch b.Status {
	case StatusDraft, StatusFinal, StatusVoid:
	default:
		return fmt.Errorf("unknown status %q", b.Status)
	}
	if b.ID == "" && b.BillNo == "" {
		return fmt.Errorf("bill has no addressable key")
	}
	for i, line := range b.Lines {
		if line.Qty.IsNegative() {
			return fmt.Errorf("line %d: negative quantity", i)
		}
		if line.Rate.IsNegative() {
			return fmt.Errorf("line %d: negative rate", i)
		}
	}
	return nil
}
