package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"seedledger/internal/domain"
	"seedledger/internal/metrics"
	"seedledger/internal/store"
)

// RecordSale validates the request, reserves stock and persists the sale in a
// single transaction scope. On any failure nothing is decremented.
//
// A request carrying an idempotency key that was already committed returns the
// stored sale with Duplicate set and moves no stock.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	sale, err := s.prepareSale(req)
	if err != nil {
		s.metrics.ObserveSale(metrics.SaleRejected, 0)
		return domain.SaleResponse{}, err
	}

	if sale.IdempotencyKey != "" {
		if existing, err := s.replay(ctx, sale.IdempotencyKey); existing != nil || err != nil {
			return s.duplicateResponse(existing, err)
		}

		release, err := s.guard.Acquire(ctx, sale.IdempotencyKey)
		if err != nil {
			// The unique index on idempotency_key still rejects the second insert.
			s.log.Warn("sale guard unavailable; relying on store constraint",
				zap.String("idempotency_key", sale.IdempotencyKey), zap.Error(err))
		} else {
			defer release()
			if existing, err := s.replay(ctx, sale.IdempotencyKey); existing != nil || err != nil {
				return s.duplicateResponse(existing, err)
			}
		}
	}

	var committed *domain.Sale
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		batch, err := tx.ReserveAndDecrement(ctx, sale.StockBatchID, sale.PacketsSold)
		if err != nil {
			return err
		}
		cost := batch.CostPerPacket.Mul(decimal.NewFromInt(int64(sale.PacketsSold)))
		sale.Profit = sale.AmountPaid.Sub(cost)

		inserted, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		inserted.SeedName = batch.SeedName
		inserted.LotNo = batch.LotNo
		committed = inserted
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSale) && sale.IdempotencyKey != "" {
			existing, findErr := s.replay(ctx, sale.IdempotencyKey)
			return s.duplicateResponse(existing, findErr)
		}
		s.metrics.ObserveSale(saleOutcome(err), 0)
		s.log.Info("sale aborted",
			zap.String("stock_batch_id", sale.StockBatchID),
			zap.Int("packets", sale.PacketsSold),
			zap.Error(err),
		)
		return domain.SaleResponse{}, err
	}

	s.metrics.ObserveSale(metrics.SaleCommitted, committed.PacketsSold)
	s.invalidateStats(ctx, "sale_create")
	s.audit("sale_create", "sale", committed.ID,
		zap.String("stock_batch_id", committed.StockBatchID),
		zap.Int("packets", committed.PacketsSold),
		zap.String("amount_paid", committed.AmountPaid.StringFixed(2)),
		zap.String("profit", committed.Profit.StringFixed(2)),
	)
	return domain.SaleResponse{Sale: *committed}, nil
}

func (s *Service) prepareSale(req domain.SaleCreateRequest) (domain.Sale, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.Sale{}, err
	}
	customer, err := requireText("customer_name", req.CustomerName)
	if err != nil {
		return domain.Sale{}, err
	}
	batchID, err := requireText("stock_batch_id", req.StockBatchID)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := requireNonNegative("amount_paid", req.AmountPaid); err != nil {
		return domain.Sale{}, err
	}
	totalDue := req.AmountPaid
	if req.TotalAmountDue != nil {
		if err := requireNonNegative("total_amount_due", *req.TotalAmountDue); err != nil {
			return domain.Sale{}, err
		}
		totalDue = *req.TotalAmountDue
	}
	now := s.now()
	saleDate, err := parseDate("sale_date", req.SaleDate, now)
	if err != nil {
		return domain.Sale{}, err
	}

	return domain.Sale{
		CustomerName:   customer,
		StockBatchID:   batchID,
		PacketsSold:    req.PacketsSold,
		SaleDate:       saleDate,
		TotalAmountDue: totalDue,
		AmountPaid:     req.AmountPaid,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		CreatedAt:      now,
	}, nil
}

// replay returns the committed sale for key, or (nil, nil) when there is none.
func (s *Service) replay(ctx context.Context, key string) (*domain.Sale, error) {
	existing, err := s.repo.FindSaleByIdempotency(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return existing, nil
}

func (s *Service) duplicateResponse(existing *domain.Sale, err error) (domain.SaleResponse, error) {
	if err != nil {
		s.metrics.ObserveSale(metrics.SaleFailed, 0)
		return domain.SaleResponse{}, err
	}
	if existing == nil {
		s.metrics.ObserveSale(metrics.SaleFailed, 0)
		return domain.SaleResponse{}, store.ErrDuplicateSale
	}
	s.metrics.ObserveSale(metrics.SaleDuplicate, 0)
	s.log.Info("sale replayed", zap.String("sale_id", existing.ID), zap.String("idempotency_key", existing.IdempotencyKey))
	return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
}

func saleOutcome(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return metrics.SaleInsufficientStock
	case errors.Is(err, store.ErrNotFound):
		return metrics.SaleNotFound
	case errors.Is(err, store.ErrInvalidInput):
		return metrics.SaleRejected
	}
	return metrics.SaleFailed
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, domain.RecentSalesLimit)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// UpdateSale edits customer and amounts. Profit is a fact recorded at sale time
// and is not recomputed.
func (s *Service) UpdateSale(ctx context.Context, id string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.Sale{}, err
	}
	if req.CustomerName != nil {
		v, err := requireText("customer_name", *req.CustomerName)
		if err != nil {
			return domain.Sale{}, err
		}
		req.CustomerName = &v
	}
	if req.TotalAmountDue != nil {
		if err := requireNonNegative("total_amount_due", *req.TotalAmountDue); err != nil {
			return domain.Sale{}, err
		}
	}
	if req.AmountPaid != nil {
		if err := requireNonNegative("amount_paid", *req.AmountPaid); err != nil {
			return domain.Sale{}, err
		}
	}

	updated, err := s.repo.UpdateSale(ctx, strings.TrimSpace(id), req)
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateStats(ctx, "sale_update")
	s.audit("sale_update", "sale", updated.ID,
		zap.String("total_amount_due", updated.TotalAmountDue.StringFixed(2)),
		zap.String("amount_paid", updated.AmountPaid.StringFixed(2)),
	)
	return *updated, nil
}

// DeleteSale removes a sale and restocks its batch.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}
	s.invalidateStats(ctx, "sale_delete")
	s.audit("sale_delete", "sale", id)
	return nil
}
