package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"seedledger/internal/domain"
	"seedledger/internal/store"
)

func (s *Service) CreateBatch(ctx context.Context, req domain.StockBatchCreateRequest) (domain.StockBatch, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.StockBatch{}, err
	}

	supplier, err := requireText("supplier_name", req.SupplierName)
	if err != nil {
		return domain.StockBatch{}, err
	}
	seedName, err := requireText("seed_name", req.SeedName)
	if err != nil {
		return domain.StockBatch{}, err
	}
	lotNo, err := requireText("lot_no", req.LotNo)
	if err != nil {
		return domain.StockBatch{}, err
	}
	if err := requirePositive("cost_per_packet", req.CostPerPacket); err != nil {
		return domain.StockBatch{}, err
	}
	now := s.now()
	arrival, err := parseDate("arrival_date", req.ArrivalDate, now)
	if err != nil {
		return domain.StockBatch{}, err
	}

	packets := req.TotalPacketsInitial
	batch := domain.StockBatch{
		SupplierName:        supplier,
		SeedName:            seedName,
		LotNo:               lotNo,
		ArrivalDate:         dateOnly(arrival),
		TotalPacketsInitial: packets,
		TotalWeightInitial:  packets * domain.UnitWeightGrams,
		PacketsAvailable:    packets,
		CostPerPacket:       req.CostPerPacket,
		TotalStockValue:     req.CostPerPacket.Mul(decimal.NewFromInt(int64(packets))),
		CreatedAt:           now,
	}

	created, err := s.repo.CreateBatch(ctx, batch)
	if err != nil {
		return domain.StockBatch{}, err
	}

	s.invalidateStats(ctx, "batch_create")
	s.audit("batch_create", "stock_batch", created.ID,
		zap.String("lot_no", created.LotNo),
		zap.Int("packets", created.TotalPacketsInitial),
		zap.String("cost_per_packet", created.CostPerPacket.StringFixed(2)),
	)
	return *created, nil
}

func (s *Service) ListBatches(ctx context.Context) ([]domain.StockBatch, error) {
	return s.repo.ListBatches(ctx)
}

func (s *Service) GetBatch(ctx context.Context, id string) (domain.StockBatch, error) {
	batch, err := s.repo.GetBatch(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.StockBatch{}, err
	}
	return *batch, nil
}

// UpdateBatch applies an administrative correction. total_stock_value and the
// profit of recorded sales stay as they were.
func (s *Service) UpdateBatch(ctx context.Context, id string, req domain.StockBatchUpdateRequest) (domain.StockBatch, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.StockBatch{}, err
	}

	var patch store.BatchPatch
	if req.SupplierName != nil {
		v, err := requireText("supplier_name", *req.SupplierName)
		if err != nil {
			return domain.StockBatch{}, err
		}
		patch.SupplierName = &v
	}
	if req.SeedName != nil {
		v, err := requireText("seed_name", *req.SeedName)
		if err != nil {
			return domain.StockBatch{}, err
		}
		patch.SeedName = &v
	}
	if req.LotNo != nil {
		v, err := requireText("lot_no", *req.LotNo)
		if err != nil {
			return domain.StockBatch{}, err
		}
		patch.LotNo = &v
	}
	if req.ArrivalDate != nil {
		arrival, err := parseDate("arrival_date", *req.ArrivalDate, s.now())
		if err != nil {
			return domain.StockBatch{}, err
		}
		arrival = dateOnly(arrival)
		patch.ArrivalDate = &arrival
	}
	if req.CostPerPacket != nil {
		if err := requirePositive("cost_per_packet", *req.CostPerPacket); err != nil {
			return domain.StockBatch{}, err
		}
		patch.CostPerPacket = req.CostPerPacket
	}
	patch.TotalPacketsInitial = req.TotalPacketsInitial
	patch.PacketsAvailable = req.PacketsAvailable

	updated, err := s.repo.UpdateBatch(ctx, strings.TrimSpace(id), patch)
	if err != nil {
		return domain.StockBatch{}, err
	}

	s.invalidateStats(ctx, "batch_update")
	s.audit("batch_update", "stock_batch", updated.ID,
		zap.String("lot_no", updated.LotNo),
		zap.Int("packets_available", updated.PacketsAvailable),
	)
	return *updated, nil
}

func (s *Service) DeleteBatch(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteBatch(ctx, id); err != nil {
		return err
	}
	s.invalidateStats(ctx, "batch_delete")
	s.audit("batch_delete", "stock_batch", id)
	return nil
}
