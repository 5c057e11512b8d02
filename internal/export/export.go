package export

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"seedledger/internal/domain"
)

// Sheet names in workbook order.
const (
	SummarySheet  = "Summary"
	StockSheet    = "Stock"
	SalesSheet    = "Sales"
	ExpensesSheet = "Expenses"
)

// Ledger is everything written into one workbook.
type Ledger struct {
	Stats    domain.Stats
	Batches  []domain.StockBatch
	Sales    []domain.Sale
	Expenses []domain.Expense
}

// Write renders the ledger as an xlsx workbook.
func Write(w io.Writer, ledger Ledger) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), SummarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	for _, name := range []string{StockSheet, SalesSheet, ExpensesSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	summary := [][]any{
		{"metric", "value"},
		{"total_collection", money(ledger.Stats.TotalCollection)},
		{"total_sales_value", money(ledger.Stats.TotalSalesValue)},
		{"stock_purchased_value", money(ledger.Stats.StockPurchasedValue)},
		{"home_expenses", money(ledger.Stats.HomeExpenses)},
		{"collection_rate_percent", money(ledger.Stats.CollectionRate)},
		{"computed_at", ledger.Stats.ComputedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	if err := writeRows(f, SummarySheet, summary); err != nil {
		return err
	}

	stock := [][]any{{
		"id", "supplier_name", "seed_name", "lot_no", "arrival_date", "total_packets_initial",
		"total_weight_initial_g", "packets_available", "cost_per_packet", "total_stock_value",
	}}
	for _, b := range ledger.Batches {
		stock = append(stock, []any{
			b.ID, b.SupplierName, b.SeedName, b.LotNo, b.ArrivalDate.Format(domain.DateLayout), b.TotalPacketsInitial,
			b.TotalWeightInitial, b.PacketsAvailable, money(b.CostPerPacket), money(b.TotalStockValue),
		})
	}
	if err := writeRows(f, StockSheet, stock); err != nil {
		return err
	}

	sales := [][]any{{
		"id", "sale_date", "customer_name", "seed_name", "lot_no", "packets_sold",
		"total_amount_due", "amount_paid", "due", "profit", "is_fully_paid",
	}}
	for _, s := range ledger.Sales {
		sales = append(sales, []any{
			s.ID, s.SaleDate.Format(domain.DateLayout), s.CustomerName, s.SeedName, s.LotNo, s.PacketsSold,
			money(s.TotalAmountDue), money(s.AmountPaid), money(s.Due), money(s.Profit), s.IsFullyPaid,
		})
	}
	if err := writeRows(f, SalesSheet, sales); err != nil {
		return err
	}

	expenses := [][]any{{"id", "expense_date", "category", "amount", "description"}}
	for _, e := range ledger.Expenses {
		expenses = append(expenses, []any{
			e.ID, e.ExpenseDate.Format(domain.DateLayout), e.Category, money(e.Amount), e.Description,
		})
	}
	if err := writeRows(f, ExpensesSheet, expenses); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// Spreadsheet cells are floats; values are rounded to cents first.
func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
