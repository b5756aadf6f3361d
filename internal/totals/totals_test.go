package totals

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calmwaters/lotus/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func line(rate, qty string) model.BillLine {
	return model.BillLine{Rate: dec(rate), Qty: dec(qty)}
}

func TestCompute_IntraState(t *testing.T) {
	got := Compute([]model.BillLine{line("100", "2")}, decimal.Zero, dec("10"), dec("0.18"), false)

	assert.True(t, got.Subtotal.Equal(dec("200.00")), "subtotal = %s", got.Subtotal)
	assert.True(t, got.Discount.Equal(dec("20.00")), "discount = %s", got.Discount)
	assert.True(t, got.TaxableBase.Equal(dec("180.00")), "taxableBase = %s", got.TaxableBase)
	assert.True(t, got.CGST.Equal(dec("16.20")), "cgst = %s", got.CGST)
	assert.True(t, got.SGST.Equal(dec("16.20")), "sgst = %s", got.SGST)
	assert.True(t, got.IGST.IsZero(), "igst = %s", got.IGST)
	assert.True(t, got.GrandTotal.Equal(dec("212.40")), "grandTotal = %s", got.GrandTotal)
}

func TestCompute_InterState(t *testing.T) {
	got := Compute([]model.BillLine{line("100", "2")}, decimal.Zero, dec("10"), dec("0.18"), true)

	assert.True(t, got.IGST.Equal(dec("32.40")), "igst = %s", got.IGST)
	assert.True(t, got.CGST.IsZero(), "cgst = %s", got.CGST)
	assert.True(t, got.SGST.IsZero(), "sgst = %s", got.SGST)
	assert.True(t, got.GrandTotal.Equal(dec("212.40")), "grandTotal = %s", got.GrandTotal)
}

func TestCompute_EmptyLines(t *testing.T) {
	got := Compute(nil, decimal.Zero, decimal.Zero, dec("0.18"), false)

	assert.True(t, got.Subtotal.IsZero())
	assert.True(t, got.GrandTotal.IsZero())
}

func TestCompute_ZeroRate(t *testing.T) {
	got := Compute([]model.BillLine{line("99.99", "3")}, decimal.Zero, decimal.Zero, decimal.Zero, false)

	assert.True(t, got.CGST.IsZero())
	assert.True(t, got.SGST.IsZero())
	assert.True(t, got.IGST.IsZero())
	assert.True(t, got.GrandTotal.Equal(got.TaxableBase))
}

func TestCompute_DiscountClamped(t *testing.T) {
	tests := []struct {
		name string
		flat string
		pct  string
		want string
	}{
		{name: "flat exceeds subtotal", flat: "500", pct: "0", want: "200.00"},
		{name: "negative flat clamps to zero", flat: "-50", pct: "0", want: "0.00"},
		{name: "pct plus flat exceeds subtotal", flat: "150", pct: "50", want: "200.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute([]model.BillLine{line("100", "2")}, dec(tt.flat), dec(tt.pct), dec("0.18"), false)
			assert.True(t, got.Discount.Equal(dec(tt.want)), "discount = %s, want %s", got.Discount, tt.want)
			assert.False(t, got.TaxableBase.IsNegative())
		})
	}
}

func TestCompute_PerLineRounding(t *testing.T) {
	// 33.333 rounds to 33.33 per line; three lines sum to 99.99, not the
	// 100.00 a sum-then-round approach would produce.
	lines := []model.BillLine{
		line("33.333", "1"),
		line("33.333", "1"),
		line("33.333", "1"),
	}
	got := Compute(lines, decimal.Zero, decimal.Zero, decimal.Zero, false)

	assert.True(t, got.Subtotal.Equal(dec("99.99")), "subtotal = %s", got.Subtotal)
}

func TestLineAmount_MatchesSubtotal(t *testing.T) {
	lines := []model.BillLine{
		line("19.99", "3"),
		line("7.77", "1.5"),
		line("450", "2"),
	}
	got := Compute(lines, decimal.Zero, decimal.Zero, dec("0.18"), false)

	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(LineAmount(l))
	}
	assert.True(t, got.Subtotal.Equal(sum), "subtotal %s != line sum %s", got.Subtotal, sum)
}

func TestCompute_TaxNeutrality(t *testing.T) {
	// Intra-state CGST+SGST must equal inter-state IGST for the same inputs.
	rng := rand.New(rand.NewSource(42))
	rates := []string{"0.05", "0.12", "0.18", "0.28"}

	for i := 0; i < 500; i++ {
		lines := make([]model.BillLine, 1+rng.Intn(6))
		for j := range lines {
			lines[j] = model.BillLine{
				Rate: decimal.New(int64(rng.Intn(1000000)), -2),
				Qty:  decimal.NewFromInt(int64(1 + rng.Intn(9))),
			}
		}
		flat := decimal.New(int64(rng.Intn(10000)), -2)
		pct := decimal.NewFromInt(int64(rng.Intn(30)))
		rate := dec(rates[rng.Intn(len(rates))])

		intra := Compute(lines, flat, pct, rate, false)
		inter := Compute(lines, flat, pct, rate, true)

		require.True(t, intra.CGST.Add(intra.SGST).Equal(inter.IGST),
			"cgst %s + sgst %s != igst %s (rate %s)", intra.CGST, intra.SGST, inter.IGST, rate)
		require.True(t, intra.GrandTotal.Equal(inter.GrandTotal))
	}
}

func TestCompute_Exactness(t *testing.T) {
	// grandTotal must equal taxableBase + cgst + sgst + igst + roundOff with
	// no drift, for randomized line sets.
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		lines := make([]model.BillLine, rng.Intn(8))
		for j := range lines {
			lines[j] = model.BillLine{
				Rate: decimal.New(int64(rng.Intn(5000000)), -3),
				Qty:  decimal.New(int64(1+rng.Intn(400)), -1),
			}
		}
		got := Compute(lines, decimal.New(int64(rng.Intn(5000)), -2), decimal.NewFromInt(int64(rng.Intn(50))), dec("0.18"), rng.Intn(2) == 0)

		sum := got.TaxableBase.Add(got.CGST).Add(got.SGST).Add(got.IGST).Add(got.RoundOff)
		require.True(t, got.GrandTotal.Equal(sum), "grandTotal %s != %s", got.GrandTotal, sum)
		require.False(t, got.Discount.IsNegative())
		require.True(t, got.Discount.LessThanOrEqual(got.Subtotal))
	}
}
