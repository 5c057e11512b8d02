package service

import (
	"context"
	"io"

	"seedledger/internal/export"
)

// exportSalesLimit bounds the sales sheet; the dashboard list keeps its own cap.
const exportSalesLimit = 10000

// ExportLedger writes the current ledgers and totals as an xlsx workbook.
func (s *Service) ExportLedger(ctx context.Context, w io.Writer) error {
	stats, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	batches, err := s.repo.ListBatches(ctx)
	if err != nil {
		return err
	}
	sales, err := s.repo.ListSales(ctx, exportSalesLimit)
	if err != nil {
		return err
	}
	expenses, err := s.repo.ListExpenses(ctx)
	if err != nil {
		return err
	}

	return export.Write(w, export.Ledger{
		Stats:    stats,
		Batches:  batches,
		Sales:    sales,
		Expenses: expenses,
	})
}
