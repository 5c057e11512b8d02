package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"seedledger/internal/domain"
)

// ApplyPayment adds a positive amount to a sale. Over-payment is accepted and
// shows up as a negative due.
func (s *Service) ApplyPayment(ctx context.Context, saleID string, req domain.PaymentRequest) (domain.Sale, error) {
	if err := requirePositive("amount", req.Amount); err != nil {
		return domain.Sale{}, err
	}

	sale, err := s.repo.ApplyPayment(ctx, strings.TrimSpace(saleID), req.Amount)
	if err != nil {
		return domain.Sale{}, err
	}

	s.metrics.ObservePayment()
	s.invalidateStats(ctx, "payment")
	s.audit("payment", "sale", sale.ID,
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("amount_paid", sale.AmountPaid.StringFixed(2)),
		zap.Bool("is_fully_paid", sale.IsFullyPaid),
	)
	return *sale, nil
}

// Settle pays the outstanding remainder. A sale that is already fully paid is
// returned unchanged.
func (s *Service) Settle(ctx context.Context, saleID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	current, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if current.IsFullyPaid {
		return *current, nil
	}

	sale, err := s.repo.SettleSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}

	s.metrics.ObservePayment()
	s.invalidateStats(ctx, "settle")
	s.audit("settle", "sale", sale.ID, zap.String("amount_paid", sale.AmountPaid.StringFixed(2)))
	return *sale, nil
}
