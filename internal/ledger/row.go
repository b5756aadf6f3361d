// Package ledger persists bills in a remote spreadsheet, using a secondary
// index table to turn full-table scans into direct row reads.
package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/calmwaters/lotus/internal/common"
	"github.com/calmwaters/lotus/internal/model"
)

// Ledger and archive rows share one fixed layout. The snapshot column holds
// the complete serialized record so fields the fixed columns don't cover
// still survive round-trips.
const (
	colID = iota
	colBillNo
	colStatus
	colBillDate
	colCustomerName
	colCustomerPhone
	colGrandTotal
	colPaymentMode
	colCashierEmail
	colSnapshot

	rowWidth = colSnapshot + 1
)

const (
	lastCol      = "J"
	billDateFmt  = "2006-01-02"
	firstDataRow = 2
)

var ledgerHeader = []any{
	"Draft ID", "Bill No", "Status", "Bill Date", "Customer", "Phone",
	"Grand Total", "Payment Mode", "Cashier", "Snapshot",
}

func cellString(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func cellInt(row []any, i int) (int, bool) {
	if i >= len(row) || row[i] == nil {
		return 0, false
	}
	switch v := row[i].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// billToRow builds the flat row representation of a bill.
func billToRow(bill *model.Bill) ([]any, error) {
	snapshot, err := json.Marshal(bill)
	if err != nil {
		return nil, fmt.Errorf("serialize snapshot: %w", err)
	}

	row := make([]any, rowWidth)
	row[colID] = bill.ID
	row[colBillNo] = bill.BillNo
	row[colStatus] = string(bill.Status)
	row[colBillDate] = bill.BillDate.Format(billDateFmt)
	row[colCustomerName] = bill.Customer.Name
	row[colCustomerPhone] = bill.Customer.Phone
	row[colGrandTotal] = bill.Totals.GrandTotal.String()
	row[colPaymentMode] = bill.PaymentMode
	row[colCashierEmail] = bill.CashierEmail
	row[colSnapshot] = string(snapshot)
	return row, nil
}

// rowToBill parses a row, preferring the snapshot column and falling back to
// a best-effort record from the fixed columns when the snapshot is missing
// or malformed. The ledger's own date column wins when the snapshot carries
// no date.
func rowToBill(row []any) (*model.Bill, error) {
	if len(row) == 0 {
		return nil, fmt.Errorf("empty row: %w", common.ErrRowMalformed)
	}

	var bill model.Bill
	snapshot := cellString(row, colSnapshot)
	if snapshot != "" && json.Unmarshal([]byte(snapshot), &bill) == nil {
		if bill.BillDate.IsZero() {
			bill.BillDate = parseBillDate(cellString(row, colBillDate))
		}
		return &bill, nil
	}

	bill = model.Bill{
		ID:           cellString(row, colID),
		BillNo:       cellString(row, colBillNo),
		Status:       model.BillStatus(cellString(row, colStatus)),
		PaymentMode:  cellString(row, colPaymentMode),
		CashierEmail: cellString(row, colCashierEmail),
		BillDate:     parseBillDate(cellString(row, colBillDate)),
	}
	bill.Customer.Name = cellString(row, colCustomerName)
	bill.Customer.Phone = cellString(row, colCustomerPhone)
	if total, err := decimal.NewFromString(cellString(row, colGrandTotal)); err == nil {
		bill.Totals.GrandTotal = total
	}
	if bill.ID == "" && bill.BillNo == "" {
		return nil, fmt.Errorf("row has no keys and no snapshot: %w", common.ErrRowMalformed)
	}
	return &bill, nil
}

func parseBillDate(s string) time.Time {
	if t, err := time.Parse(billDateFmt, s); err == nil {
		return t
	}
	return time.Time{}
}

// rowKeys returns every key stored in the row, snapshot first so stale
// fixed-column keys are also collected for index cleanup.
func rowKeys(row []any) []string {
	seen := make(map[string]bool, 4)
	keys := make([]string, 0, 4)
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	if bill, err := rowToBill(row); err == nil {
		add(bill.ID)
		add(bill.BillNo)
	}
	add(cellString(row, colID))
	add(cellString(row, colBillNo))
	return keys
}

// rowFromRange extracts the starting row number from an A1 range like
// "Bills!A7:J7", which is how the store reports an append destination.
func rowFromRange(rng string) (int, error) {
	_, cells, found := strings.Cut(rng, "!")
	if !found {
		return 0, fmt.Errorf("range %q has no cell reference", rng)
	}
	start, _, _ := strings.Cut(cells, ":")
	i := 0
	for i < len(start) && start[i] >= 'A' && start[i] <= 'Z' {
		i++
	}
	n, err := strconv.Atoi(start[i:])
	if err != nil {
		return 0, fmt.Errorf("range %q has no row number", rng)
	}
	return n, nil
}
