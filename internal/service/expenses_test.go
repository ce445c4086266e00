package service

import (
	"errors"
	"testing"
	"time"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
)

func TestExpenseLifecycleAndDateFilter(t *testing.T) {
	svc, _ := newTestService(t)

	today, err := svc.CreateExpense(cashierCtx, domain.ExpenseCreateRequest{Category: "transport", Amount: dec("15000")})
	if err != nil {
		t.Fatalf("create expense failed: %v", err)
	}
	if !today.Date.Equal(testNow) || today.RecordedBy != "cashier" {
		t.Fatalf("expected expense dated now by cashier, got %+v", today)
	}
	older, err := svc.CreateExpense(adminCtx, domain.ExpenseCreateRequest{Category: "rent", Amount: dec("200000"), Date: "2026-03-10"})
	if err != nil {
		t.Fatalf("create expense failed: %v", err)
	}

	defaults, err := svc.ListExpenses(cashierCtx, "", "")
	if err != nil {
		t.Fatalf("list expenses failed: %v", err)
	}
	if len(defaults) != 1 || defaults[0].ID != today.ID {
		t.Fatalf("expected only today's expense by default, got %+v", defaults)
	}

	ranged, err := svc.ListExpenses(cashierCtx, "2026-03-10", "2026-03-14")
	if err != nil {
		t.Fatalf("list expenses failed: %v", err)
	}
	if len(ranged) != 2 || ranged[0].ID != today.ID || ranged[1].ID != older.ID {
		t.Fatalf("expected both expenses newest first, got %+v", ranged)
	}
	if _, err := svc.ListExpenses(cashierCtx, "2026-03-14", "2026-03-10"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected reversed range to be rejected, got %v", err)
	}

	amount := dec("18000")
	moved := "2026-03-13T18:00:00Z"
	updated, err := svc.UpdateExpense(cashierCtx, today.ID, domain.ExpenseUpdateRequest{Amount: &amount, Date: &moved})
	if err != nil {
		t.Fatalf("update expense failed: %v", err)
	}
	if !updated.Amount.Equal(amount) || !updated.Date.Equal(time.Date(2026, 3, 13, 18, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expense after update %+v", updated)
	}

	if err := svc.DeleteExpense(adminCtx, older.ID); err != nil {
		t.Fatalf("delete expense failed: %v", err)
	}
	if _, err := svc.GetExpense(adminCtx, older.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted expense to be gone, got %v", err)
	}
}

func TestExpenseValidationAndRoles(t *testing.T) {
	svc, _ := newTestService(t)

	cases := map[string]domain.ExpenseCreateRequest{
		"no category":  {Amount: dec("100")},
		"zero amount":  {Category: "misc", Amount: dec("0")},
		"negative":     {Category: "misc", Amount: dec("-5")},
		"three places": {Category: "misc", Amount: dec("10.005")},
		"bad date":     {Category: "misc", Amount: dec("100"), Date: "14/03/2026"},
	}
	for name, req := range cases {
		if _, err := svc.CreateExpense(cashierCtx, req); !errors.Is(err, store.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}

	if _, err := svc.CreateExpense(staffCtx, domain.ExpenseCreateRequest{Category: "misc", Amount: dec("100")}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected staff to be forbidden, got %v", err)
	}
}
