package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

const defaultPaymentMethod = "cash"

// ConfirmOrder turns a pending or updated order into a sale. Batches are
// locked and checked before anything is written.
func (s *Service) ConfirmOrder(ctx context.Context, orderID string, req domain.ConfirmOrderRequest) (domain.Sale, error) {
	actor, err := s.authorize(ctx, OpConfirmOrder)
	if err != nil {
		return domain.Sale{}, err
	}

	if req.PaidAmount.IsNegative() {
		return domain.Sale{}, invalid("paid_amount must not be negative")
	}
	paid := domain.RoundMoney(req.PaidAmount)
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = defaultPaymentMethod
	}
	if method == domain.PaymentMethodRefund {
		return domain.Sale{}, invalid("payment_method %q is reserved", method)
	}

	orderID = strings.TrimSpace(orderID)
	var sale domain.Sale
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(order.Status, domain.OrderStatusConfirmed) {
			return fmt.Errorf("%w: %w: order is %s", store.ErrInvalidOrderState, store.ErrStateConflict, order.Status)
		}

		source := req.Items
		if len(source) == 0 {
			source = order.Items
		}
		lines, err := normalizeOrderItems(source, true)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.BatchID == "" {
				return invalid("batch_id is required for product %s", line.ProductID)
			}
		}

		batches, err := lockLineBatches(ctx, tx, lines)
		if err != nil {
			return err
		}

		total := decimal.Zero
		for _, line := range lines {
			batch := batches[line.BatchID]
			total = total.Add(batch.PriceFor(order.OrderType).Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		total = domain.RoundMoney(total)
		final := domain.ApplyDiscount(total, order.DiscountPercent)
		if paid.GreaterThan(final) {
			return fmt.Errorf("%w: %w: paid %s exceeds final amount %s", store.ErrOverpayment, store.ErrValidation, paid, final)
		}

		now := s.now()
		sale = domain.Sale{
			ID:            xid.New("sale"),
			OrderID:       order.ID,
			CustomerID:    order.CustomerID,
			UserID:        actor.Username,
			SaleType:      order.OrderType,
			TotalAmount:   total,
			PaidAmount:    paid,
			FinalAmount:   final,
			Status:        domain.SaleStatusConfirmed,
			PaymentStatus: domain.PaymentStatusFor(paid, final),
			IsLoan:        paid.LessThan(final),
			RefundTotal:   decimal.Zero,
			Date:          now,
			Version:       1,
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}

		items := make([]domain.SaleItem, 0, len(lines))
		for _, line := range lines {
			batch := batches[line.BatchID]
			batch.Quantity -= line.Quantity
			batch.Version++
			batch.UpdatedAt = now
			if err := tx.UpdateBatch(ctx, *batch); err != nil {
				return err
			}

			item := domain.SaleItem{
				ID:           xid.New("saleitem"),
				SaleID:       sale.ID,
				ProductID:    line.ProductID,
				BatchID:      ptr(batch.ID),
				Quantity:     line.Quantity,
				PricePerUnit: batch.PriceFor(order.OrderType),
			}
			if err := tx.InsertSaleItem(ctx, item); err != nil {
				return err
			}
			items = append(items, item)

			if err := tx.InsertStockEntry(ctx, domain.StockEntry{
				ID:         xid.New("stock"),
				ProductID:  line.ProductID,
				BatchID:    ptr(batch.ID),
				EntryType:  domain.StockEntrySold,
				Quantity:   line.Quantity,
				RecordedBy: actor.Username,
				Reference:  sale.ID,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}

		if paid.IsPositive() {
			if err := tx.InsertPayment(ctx, domain.Payment{
				ID:        xid.New("pay"),
				SaleID:    sale.ID,
				Amount:    paid,
				Method:    method,
				CashierID: actor.Username,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		order.Status = domain.OrderStatusConfirmed
		order.SaleID = sale.ID
		order.Items = lines
		order.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, *order); err != nil {
			return err
		}

		sale.Items = items
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.stockChanged(ctx)
	s.logAudit(ctx, "order_confirm", "sale", sale.ID, fmt.Sprintf("order=%s,final=%s,paid=%s,loan=%t", sale.OrderID, sale.FinalAmount, sale.PaidAmount, sale.IsLoan))
	return sale, nil
}

// lockLineBatches locks batches in ascending id order.
func lockLineBatches(ctx context.Context, tx store.Tx, lines []domain.OrderItem) (map[string]*domain.ProductBatch, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.BatchID)
	}
	sort.Strings(ids)

	batches := make(map[string]*domain.ProductBatch, len(ids))
	for _, id := range ids {
		if _, seen := batches[id]; seen {
			continue
		}
		batch, err := tx.LockBatch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("batch %s: %w", id, err)
		}
		batches[id] = batch
	}

	for _, line := range lines {
		batch := batches[line.BatchID]
		if batch.ProductID != line.ProductID {
			return nil, fmt.Errorf("%w: batch %s does not belong to product %s", store.ErrNotFound, line.BatchID, line.ProductID)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1 for batch %s", store.ErrValidation, batch.BatchCode)
		}
		if line.Quantity > batch.Quantity {
			return nil, fmt.Errorf("%w: batch %s has %d, requested %d", store.ErrInsufficientStock, batch.BatchCode, batch.Quantity, line.Quantity)
		}
	}
	return batches, nil
}
