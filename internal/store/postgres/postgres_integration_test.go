package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"seedledger/internal/domain"
	"seedledger/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("SEEDLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SEEDLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedBatch(t *testing.T, s *Store, packets int) *domain.StockBatch {
	t.Helper()
	ctx := context.Background()
	lot := fmt.Sprintf("LOT-IT-%d", time.Now().UnixNano())
	cost := decimal.NewFromInt(50)
	batch, err := s.CreateBatch(ctx, domain.StockBatch{
		SupplierName:        "Integration Supplier",
		SeedName:            "Tomato",
		LotNo:               lot,
		TotalPacketsInitial: packets,
		TotalWeightInitial:  packets * domain.UnitWeightGrams,
		PacketsAvailable:    packets,
		CostPerPacket:       cost,
		TotalStockValue:     cost.Mul(decimal.NewFromInt(int64(packets))),
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE stock_batch_id = $1`, batch.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_batches WHERE id = $1`, batch.ID)
	})
	return batch
}

func sellOnce(ctx context.Context, s *Store, batchID string, qty int) error {
	return s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.ReserveAndDecrement(ctx, batchID, qty); err != nil {
			return err
		}
		_, err := tx.InsertSale(ctx, domain.Sale{
			CustomerName:   "Integration Customer",
			StockBatchID:   batchID,
			PacketsSold:    qty,
			TotalAmountDue: decimal.NewFromInt(200),
			AmountPaid:     decimal.NewFromInt(200),
			Profit:         decimal.NewFromInt(50),
		})
		return err
	})
}

func TestConcurrentSalesSerializeOnBatchRow(t *testing.T) {
	s := openTestStore(t)
	batch := seedBatch(t, s, 5)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = sellOnce(context.Background(), s, batch.ID, 3)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one sale to succeed, got %d", succeeded)
	}

	got, err := s.GetBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.PacketsAvailable != 2 {
		t.Fatalf("expected 2 packets left, got %d", got.PacketsAvailable)
	}
}

func TestDeleteSaleRestocksAndUnblocksBatchDelete(t *testing.T) {
	s := openTestStore(t)
	batch := seedBatch(t, s, 10)
	ctx := context.Background()

	if err := sellOnce(ctx, s, batch.ID, 4); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if err := s.DeleteBatch(ctx, batch.ID); !errors.Is(err, store.ErrBatchInUse) {
		t.Fatalf("expected ErrBatchInUse, got %v", err)
	}

	sales, err := s.ListSales(ctx, domain.RecentSalesLimit)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	var saleID string
	for _, sale := range sales {
		if sale.StockBatchID == batch.ID {
			saleID = sale.ID
		}
	}
	if saleID == "" {
		t.Fatalf("sale for batch %s not listed", batch.ID)
	}

	paid, err := s.ApplyPayment(ctx, saleID, decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if !paid.AmountPaid.Equal(decimal.NewFromInt(225)) || paid.Due.IsPositive() {
		t.Fatalf("unexpected payment result: paid=%s due=%s", paid.AmountPaid, paid.Due)
	}

	if err := s.DeleteSale(ctx, saleID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	got, err := s.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.PacketsAvailable != 10 {
		t.Fatalf("expected restock to 10, got %d", got.PacketsAvailable)
	}
	if err := s.DeleteBatch(ctx, batch.ID); err != nil {
		t.Fatalf("delete batch: %v", err)
	}
}
