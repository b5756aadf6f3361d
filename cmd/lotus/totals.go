package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/calmwaters/lotus/internal/totals"
)

// totalsCmd computes a quote without touching the ledger: same engine, no
// persistence.
func totalsCmd() *cobra.Command {
	var (
		linesFile    string
		discountFlat string
		discountPct  string
		gstRate      string
		interState   bool
	)

	cmd := &cobra.Command{
		Use:   "totals",
		Short: "Compute a tax breakdown for a set of lines",
		RunE: func(_ *cobra.Command, _ []string) error {
			lines, err := loadLines(linesFile)
			if err != nil {
				return err
			}

			flat, err := decimal.NewFromString(discountFlat)
			if err != nil {
				return fmt.Errorf("invalid --discount: %w", err)
			}
			pct, err := decimal.NewFromString(discountPct)
			if err != nil {
				return fmt.Errorf("invalid --discount-pct: %w", err)
			}
			rate, err := decimal.NewFromString(gstRate)
			if err != nil {
				return fmt.Errorf("invalid --gst-rate: %w", err)
			}

			t := totals.Compute(lines, flat, pct, rate, interState)

			fmt.Printf("Subtotal:     %s\n", t.Subtotal.StringFixed(2))
			fmt.Printf("Discount:     %s\n", t.Discount.StringFixed(2))
			fmt.Printf("Taxable base: %s\n", t.TaxableBase.StringFixed(2))
			if interState {
				fmt.Printf("IGST:         %s\n", t.IGST.StringFixed(2))
			} else {
				fmt.Printf("CGST:         %s\n", t.CGST.StringFixed(2))
				fmt.Printf("SGST:         %s\n", t.SGST.StringFixed(2))
			}
			fmt.Printf("Grand total:  %s\n", t.GrandTotal.StringFixed(2))
			return nil
		},
	}

	cmd.Flags().StringVar(&linesFile, "lines", "", "JSON file with bill lines (required)")
	cmd.Flags().StringVar(&discountFlat, "discount", "0", "flat discount in currency units")
	cmd.Flags().StringVar(&discountPct, "discount-pct", "0", "percentage discount on the subtotal")
	cmd.Flags().StringVar(&gstRate, "gst-rate", "0.18", "GST rate as a fraction")
	cmd.Flags().BoolVar(&interState, "inter-state", false, "inter-state supply (IGST)")
	_ = cmd.MarkFlagRequired("lines")

	return cmd
}
