package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

// ListExpenses returns expenses dated between start and end, both inclusive
// calendar days. Either bound defaults to today.
func (s *Service) ListExpenses(ctx context.Context, start string, end string) ([]domain.Expense, error) {
	if _, err := s.authorize(ctx, OpManageExpenses); err != nil {
		return nil, err
	}

	from, err := parseDay(start, s.now())
	if err != nil {
		return nil, err
	}
	to, err := parseDay(end, s.now())
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, invalid("start_date must not be after end_date")
	}
	return s.repo.ListExpenses(ctx, from, to.Add(24*time.Hour))
}

func (s *Service) GetExpense(ctx context.Context, id string) (domain.Expense, error) {
	if _, err := s.authorize(ctx, OpManageExpenses); err != nil {
		return domain.Expense{}, err
	}
	expense, err := s.repo.GetExpense(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Expense{}, err
	}
	return *expense, nil
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	actor, err := s.authorize(ctx, OpManageExpenses)
	if err != nil {
		return domain.Expense{}, err
	}

	now := s.now()
	date, err := parseExpenseDate(req.Date, now)
	if err != nil {
		return domain.Expense{}, err
	}
	expense := domain.Expense{
		ID:          xid.New("exp"),
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
		Date:        date,
		RecordedBy:  actor.Username,
		CreatedAt:   now,
	}
	if err := validateExpense(expense); err != nil {
		return domain.Expense{}, err
	}

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertExpense(ctx, expense)
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, "expense_create", "expense", expense.ID, fmt.Sprintf("category=%s,amount=%s", expense.Category, expense.Amount))
	return expense, nil
}

func (s *Service) UpdateExpense(ctx context.Context, id string, req domain.ExpenseUpdateRequest) (domain.Expense, error) {
	if _, err := s.authorize(ctx, OpManageExpenses); err != nil {
		return domain.Expense{}, err
	}

	id = strings.TrimSpace(id)
	var updated domain.Expense
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		expense, err := tx.LockExpense(ctx, id)
		if err != nil {
			return err
		}
		if req.Category != nil {
			expense.Category = strings.TrimSpace(*req.Category)
		}
		if req.Description != nil {
			expense.Description = strings.TrimSpace(*req.Description)
		}
		if req.Amount != nil {
			expense.Amount = *req.Amount
		}
		if req.Date != nil {
			date, err := parseExpenseDate(*req.Date, expense.Date)
			if err != nil {
				return err
			}
			expense.Date = date
		}
		if err := validateExpense(*expense); err != nil {
			return err
		}
		if err := tx.UpdateExpense(ctx, *expense); err != nil {
			return err
		}
		updated = *expense
		return nil
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, "expense_update", "expense", updated.ID, fmt.Sprintf("category=%s,amount=%s", updated.Category, updated.Amount))
	return updated, nil
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, OpManageExpenses); err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		return tx.DeleteExpense(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "expense_delete", "expense", id, "")
	return nil
}

func validateExpense(expense domain.Expense) error {
	if expense.Category == "" {
		return invalid("category is required")
	}
	if !expense.Amount.IsPositive() {
		return invalid("amount must be greater than zero")
	}
	if !expense.Amount.Equal(domain.RoundMoney(expense.Amount)) {
		return invalid("amount must have at most two decimal places")
	}
	return nil
}

// parseExpenseDate accepts RFC 3339 timestamps or bare YYYY-MM-DD days.
func parseExpenseDate(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse("2006-01-02", raw); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, invalid("date must be RFC 3339 or YYYY-MM-DD")
}
