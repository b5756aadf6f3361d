// Package totals computes exact, auditable bill totals.
//
// All arithmetic runs in integer paise so repeated additions never drift;
// decimal currency values appear only at the package boundary.
package totals

import (
	"github.com/shopspring/decimal"

	"github.com/calmwaters/lotus/internal/model"
)

var hundred = decimal.NewFromInt(100)

// toPaise converts a decimal currency amount to integer paise, rounding to
// the nearest minor unit.
func toPaise(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// fromPaise converts integer paise back to a decimal currency amount.
func fromPaise(p int64) decimal.Decimal {
	return decimal.New(p, -2)
}

// lineAmountPaise is the per-line charge: the rate in paise times the
// quantity, rounded once per line. Rounding happens here, not on the sum,
// so the amount shown for each line always matches what gets summed.
func lineAmountPaise(line model.BillLine) int64 {
	return decimal.NewFromInt(toPaise(line.Rate)).Mul(line.Qty).Round(0).IntPart()
}

// LineAmount returns the display amount for a single line.
func LineAmount(line model.BillLine) decimal.Decimal {
	return fromPaise(lineAmountPaise(line))
}

// Compute derives the full tax breakdown for a set of lines.
//
// discountFlat is an absolute discount in currency units; discountPct is a
// percentage of the subtotal (10 means 10%). gstRate is a fraction (0.18 for
// 18% GST). interState selects IGST; otherwise the rate is split evenly into
// CGST and SGST. Negative quantities or rates are the caller's problem.
func Compute(lines []model.BillLine, discountFlat, discountPct, gstRate decimal.Decimal, interState bool) model.BillTotals {
	var subtotal int64
	for _, line := range lines {
		subtotal += lineAmountPaise(line)
	}

	discount := toPaise(discountFlat)
	if !discountPct.IsZero() {
		pct := decimal.NewFromInt(subtotal).Mul(discountPct).Div(hundred).Round(0).IntPart()
		discount += pct
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}

	base := subtotal - discount

	var cgst, sgst, igst int64
	whole := decimal.NewFromInt(base).Mul(gstRate).Round(0).IntPart()
	if interState {
		igst = whole
	} else {
		half := gstRate.Div(decimal.NewFromInt(2))
		cgst = decimal.NewFromInt(base).Mul(half).Round(0).IntPart()
		sgst = decimal.NewFromInt(base).Mul(half).Round(0).IntPart()
		// The two independently rounded halves can land one paisa off the
		// whole-rate tax. Fold the difference into SGST so the combined tax
		// is always reproducible from base times rate.
		if diff := whole - (cgst + sgst); diff != 0 {
			sgst += diff
		}
	}

	// Round-off is the hook for a future round-to-rupee policy; paise
	// arithmetic is already exact, so it stays zero.
	var roundOff int64

	grand := base + cgst + sgst + igst + roundOff

	return model.BillTotals{
		Subtotal:    fromPaise(subtotal),
		Discount:    fromPaise(discount),
		TaxableBase: fromPaise(base),
		CGST:        fromPaise(cgst),
		SGST:        fromPaise(sgst),
		IGST:        fromPaise(igst),
		RoundOff:    fromPaise(roundOff),
		GrandTotal:  fromPaise(grand),
	}
}
