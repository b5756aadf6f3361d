package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/calmwaters/lotus/internal/billing"
	"github.com/calmwaters/lotus/internal/common"
	"github.com/calmwaters/lotus/internal/model"
)

func billsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bills",
		Short: "Manage bills in the ledger",
		Long:  `Create, inspect, finalize, void, and archive bills.`,
	}

	cmd.AddCommand(listBillsCmd())
	cmd.AddCommand(showBillCmd())
	cmd.AddCommand(createBillCmd())
	cmd.AddCommand(updateBillCmd())
	cmd.AddCommand(finalizeBillCmd())
	cmd.AddCommand(printBillCmd())
	cmd.AddCommand(voidBillCmd())
	cmd.AddCommand(archiveBillCmd())

	return cmd
}

func listBillsCmd() *cobra.Command {
	var archived bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all bills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			svc, err := initBilling(ctx)
			if err != nil {
				return err
			}

			var bills []model.Bill
			if archived {
				bills, err = svc.ListArchived(ctx)
			} else {
				bills, err = svc.ListBills(ctx)
			}
			if err != nil {
				return fmt.Errorf("failed to list bills: %w", err)
			}

			if len(bills) == 0 {
				fmt.Println("No bills found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintln(w, "ID\tBill No\tStatus\tDate\tCustomer\tTotal")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				strings.Repeat("-", 4), strings.Repeat("-", 8), strings.Repeat("-", 6),
				strings.Repeat("-", 10), strings.Repeat("-", 20), strings.Repeat("-", 10))

			for _, bill := range bills {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					bill.ID, bill.BillNo, bill.Status,
					bill.BillDate.Format("2006-01-02"),
					bill.Customer.Name,
					bill.Totals.GrandTotal.StringFixed(2))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&archived, "archived", false, "list archived bills instead of live ones")
	return cmd
}

func showBillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <draft-id-or-bill-no>",
		Short: "Show one bill with its full tax breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := initBilling(ctx)
			if err != nil {
				return err
			}

			bill, err := svc.ReadBill(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to read bill: %w", err)
			}

			printBill(bill)
			return nil
		},
	}
}

func printBill(bill *model.Bill) {
	fmt.Printf("Bill %s", bill.ID)
	if bill.BillNo != "" {
		fmt.Printf(" (%s)", bill.BillNo)
	}
	fmt.Printf("  [%s]\n", bill.Status)
	fmt.Printf("Date: %s  Customer: %s  %s\n",
		bill.BillDate.Format("2006-01-02"), bill.Customer.Name, bill.Customer.Phone)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Item\tQty\tRate\tAmount")
	for _, line := range bill.Lines {
		name := line.Name
		if line.Variant != "" {
			name = fmt.Sprintf("%s (%s)", name, line.Variant)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, line.Qty, line.Rate.StringFixed(2), line.Amount.StringFixed(2))
	}
	w.Flush()

	t := bill.Totals
	fmt.Printf("Subtotal: %s  Discount: %s  Taxable: %s\n",
		t.Subtotal.StringFixed(2), t.Discount.StringFixed(2), t.TaxableBase.StringFixed(2))
	if !t.IGST.IsZero() {
		fmt.Printf("IGST: %s\n", t.IGST.StringFixed(2))
	} else {
		fmt.Printf("CGST: %s  SGST: %s\n", t.CGST.StringFixed(2), t.SGST.StringFixed(2))
	}
	fmt.Printf("Grand Total: %s  (%s)\n", t.GrandTotal.StringFixed(2), bill.PaymentMode)
}

func createBillCmd() *cobra.Command {
	var (
		linesFile    string
		customerName string
		phone        string
		email        string
		discountFlat string
		discountPct  string
		gstRate      string
		interState   bool
		paymentMode  string
		notes        string
		billDate     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new draft bill",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			lines, err := loadLines(linesFile)
			if err != nil {
				return err
			}

			in := billing.DraftInput{
				Customer:    model.Customer{Name: customerName, Phone: phone, Email: email},
				Lines:       lines,
				InterState:  interState,
				PaymentMode: paymentMode,
				Notes:       notes,
			}
			if in.DiscountFlat, err = decimal.NewFromString(discountFlat); err != nil {
				return fmt.Errorf("invalid --discount: %w", err)
			}
			if in.DiscountPct, err = decimal.NewFromString(discountPct); err != nil {
				return fmt.Errorf("invalid --discount-pct: %w", err)
			}
			if in.GSTRate, err = decimal.NewFromString(gstRate); err != nil {
				return fmt.Errorf("invalid --gst-rate: %w", err)
			}
			if billDate != "" {
				if in.BillDate, err = time.Parse("2006-01-02", billDate); err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}

			svc, err := initBilling(ctx)
			if err != nil {
				return err
			}

			bill, err := svc.CreateDraft(ctx, in)
			if err != nil {
				return fmt.Errorf("failed to create draft: %w", err)
			}

			fmt.Printf("Created draft %s\n", bill.ID)
			printBill(bill)
			return nil
		},
	}

	cmd.Flags().StringVar(&linesFile, "lines", "", "JSON file with bill lines (required)")
	cmd.Flags().StringVar(&customerName, "customer", "", "customer name")
	cmd.Flags().StringVar(&phone, "phone", "", "customer phone")
	cmd.Flags().StringVar(&email, "email", "", "customer email")
	cmd.Flags().StringVar(&discountFlat, "discount", "0", "flat discount in currency units")
	cmd.Flags().StringVar(&discountPct, "discount-pct", "0", "percentage discount on the subtotal")
	cmd.Flags().StringVar(&gstRate, "gst-rate", "0.18", "GST rate as a fraction")
	cmd.Flags().BoolVar(&interState, "inter-state", false, "inter-state supply (IGST instead of CGST+SGST)")
	cmd.Flags().StringVar(&paymentMode, "payment-mode", "CASH", "payment mode")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&billDate, "date", "", "bill date (YYYY-MM-DD, default today)")
	_ = cmd.MarkFlagRequired("lines")

	return cmd
}

func updateBillCmd() *cobra.Command {
	var patchFile string

	cmd := &cobra.Command{
		Use:   "update <draft-id>",
		Short: "Merge a patch into a draft bill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := initBilling(ctx)
			if err != nil {
				return err
			}

			// The state machine trusts its caller on lifecycle rules, so the
			// draft-only check happens here.
			existing, err := svc.ReadBill(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to read bill: %w", err)
			}
			if !existing.Editable() {
				return fmt.Errorf("bill %s is %s: %w", args[0], existing.Status, common.ErrInvalidTransition)
			}

			patch, err := loadPatch(patchFile)
			if err != nil {
				return err
			}

			bill, err := svc.UpdateBill(ctx, args[0], patch)
			if err != nil {
				return fmt.Errorf("failed to update bill: %w", err)
			}

			printBill(bill)
			return nil
		},
	}

	cmd.Flags().StringVar(&patchFile, "patch", "", "JSON file with fields to merge (required)")
	_ = cmd.MarkFlagRequired("patch")
	return cmd
}

func finalizeBillCmd() *cobra.Command {
	var cashier string

	cmd := &cobra.Command{
		Use:   "finalize <draft-id>",
		Short: "Finalize a draft, assigning its bill number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := initBilling(ctx)
			if err != nil {
				return err
			}

			bill, err := svc.FinalizeDraft(ctx, args[0], cashier)
			if err != nil {
				return fmt.Errorf("failed to finalize: %w", err)
			}

			fmt.Printf("Finalized %s as %s\n", bill.ID, bill.BillNo)
			return nil
		},
	}

	cmd.Flags().StringVar(&cashier, "cashier", "", "cashier email (required)")
	_ = cmd.MarkFlagRequired("cashier")
	return cmd
}

func printBillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print <draft-id-or-bill-no>",
		Short: "Mark a bill as printed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := initBilling(ctx)
			if err != nil {
				return err
			}

			bill, err := svc.MarkPrinted(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to mark printed: %w", err)
			}

			fmt.Printf("Marked %s printed at %s\n", args[0], bill.PrintedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func voidBillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "void <draft-id-or-bill-no>",
		Short: "Void a bill (the row stays until archived)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := initBilling(ctx)
			if err != nil {
				return err
			}

			if _, err := svc.VoidBill(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to void: %w", err)
			}

			fmt.Printf("Voided %s\n", args[0])
			return nil
		},
	}
}

func archiveBillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <draft-id-or-bill-no>",
		Short: "Move a bill out of the live ledger into the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := initBilling(ctx)
			if err != nil {
				return err
			}

			if err := svc.ArchiveBill(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to archive: %w", err)
			}

			fmt.Printf("Archived %s\n", args[0])
			return nil
		},
	}
}
