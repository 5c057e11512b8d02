package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"seedledger/internal/domain"
	"seedledger/internal/store"
)

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.Expense{}, err
	}
	category, err := requireText("category", req.Category)
	if err != nil {
		return domain.Expense{}, err
	}
	if err := requirePositive("amount", req.Amount); err != nil {
		return domain.Expense{}, err
	}
	now := s.now()
	date, err := parseDate("expense_date", req.ExpenseDate, now)
	if err != nil {
		return domain.Expense{}, err
	}

	created, err := s.repo.CreateExpense(ctx, domain.Expense{
		Category:    category,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		ExpenseDate: date,
		CreatedAt:   now,
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.invalidateStats(ctx, "expense_create")
	s.audit("expense_create", "expense", created.ID,
		zap.String("category", created.Category),
		zap.String("amount", created.Amount.StringFixed(2)),
	)
	return *created, nil
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	return s.repo.ListExpenses(ctx)
}

func (s *Service) UpdateExpense(ctx context.Context, id string, req domain.ExpenseUpdateRequest) (domain.Expense, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.Expense{}, err
	}

	var patch store.ExpensePatch
	if req.Category != nil {
		v, err := requireText("category", *req.Category)
		if err != nil {
			return domain.Expense{}, err
		}
		patch.Category = &v
	}
	if req.Amount != nil {
		if err := requirePositive("amount", *req.Amount); err != nil {
			return domain.Expense{}, err
		}
		patch.Amount = req.Amount
	}
	if req.Description != nil {
		v := strings.TrimSpace(*req.Description)
		patch.Description = &v
	}
	if req.ExpenseDate != nil {
		date, err := parseDate("expense_date", *req.ExpenseDate, s.now())
		if err != nil {
			return domain.Expense{}, err
		}
		patch.ExpenseDate = &date
	}

	updated, err := s.repo.UpdateExpense(ctx, strings.TrimSpace(id), patch)
	if err != nil {
		return domain.Expense{}, err
	}

	s.invalidateStats(ctx, "expense_update")
	s.audit("expense_update", "expense", updated.ID, zap.String("amount", updated.Amount.StringFixed(2)))
	return *updated, nil
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteExpense(ctx, id); err != nil {
		return err
	}
	s.invalidateStats(ctx, "expense_delete")
	s.audit("expense_delete", "expense", id)
	return nil
}
