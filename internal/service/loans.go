package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

func (s *Service) ListLoans(ctx context.Context, limit int) ([]domain.Sale, error) {
	if _, err := s.authorize(ctx, OpViewSales); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListLoans(ctx, limit)
}

// PayLoan applies a payment against the outstanding balance of a sale.
// Overpayment is rejected, never clamped.
func (s *Service) PayLoan(ctx context.Context, saleID string, req domain.PayLoanRequest) (domain.Sale, error) {
	actor, err := s.authorize(ctx, OpPayLoan)
	if err != nil {
		return domain.Sale{}, err
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		return domain.Sale{}, err
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = defaultPaymentMethod
	}
	if method == domain.PaymentMethodRefund {
		return domain.Sale{}, invalid("payment_method %q is reserved", method)
	}

	saleID = strings.TrimSpace(saleID)
	var updated domain.Sale
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status == domain.SaleStatusRefunded {
			return fmt.Errorf("%w: sale %s was refunded", store.ErrStateConflict, sale.ID)
		}
		remaining := sale.Remaining()
		if amount.GreaterThan(remaining) {
			return fmt.Errorf("%w: %w: amount %s exceeds remaining %s", store.ErrOverpayment, store.ErrValidation, amount, remaining)
		}

		sale.ApplyPayment(amount)
		sale.Version++
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, domain.Payment{
			ID:        xid.New("pay"),
			SaleID:    sale.ID,
			Amount:    amount,
			Method:    method,
			CashierID: actor.Username,
			CreatedAt: s.now(),
		}); err != nil {
			return err
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "loan_pay", "sale", updated.ID, fmt.Sprintf("amount=%s,paid=%s,status=%s", amount, updated.PaidAmount, updated.PaymentStatus))
	return updated, nil
}

// parseAmount accepts a positive decimal with at most two fractional digits.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, invalid("amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalid("amount %q is not a valid decimal", raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, invalid("amount must be greater than zero")
	}
	if !amount.Equal(domain.RoundMoney(amount)) {
		return decimal.Zero, invalid("amount must have at most two decimal places")
	}
	return amount, nil
}
