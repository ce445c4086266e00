package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

// RefundSale reverses a whole sale and records a negative payment.
func (s *Service) RefundSale(ctx context.Context, saleID string, req domain.RefundSaleRequest) (domain.SaleResponse, error) {
	actor, err := s.authorize(ctx, OpRefundSale)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	reason := strings.TrimSpace(req.Reason)
	saleID = strings.TrimSpace(saleID)
	var resp domain.SaleResponse
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}

		now := s.now()
		if now.After(sale.Date.Add(s.refundWindow)) {
			return fmt.Errorf("%w: sale %s is older than %d days", store.ErrRefundWindowExpired, sale.ID, int(s.refundWindow/(24*time.Hour)))
		}
		if sale.Status == domain.SaleStatusRefunded {
			return fmt.Errorf("%w: %s", store.ErrAlreadyRefunded, sale.ID)
		}
		if !sale.PaidAmount.IsPositive() {
			return fmt.Errorf("%w: %s", store.ErrNothingPaid, sale.ID)
		}

		items, err := tx.ListSaleItems(ctx, sale.ID)
		if err != nil {
			return err
		}
		existing, err := tx.ListRefunds(ctx, sale.ID)
		if err != nil {
			return err
		}
		returned := returnedBySaleItem(existing, "")

		refunds := make([]domain.Refund, 0, len(items))
		for _, item := range items {
			qty := item.Quantity - returned[item.ID]
			if qty <= 0 {
				continue
			}

			batchID, err := moveRefundStock(ctx, tx, domain.StockEntry{
				ProductID:  item.ProductID,
				EntryType:  domain.StockEntryAdded,
				Quantity:   qty,
				RecordedBy: actor.Username,
				Reference:  sale.ID,
			}, item.BatchID, now)
			if err != nil {
				return err
			}

			refund := domain.Refund{
				ID:           xid.New("refund"),
				SaleID:       sale.ID,
				SaleItemID:   item.ID,
				ProductID:    item.ProductID,
				BatchID:      batchID,
				Quantity:     qty,
				RefundAmount: domain.RoundMoney(item.PricePerUnit.Mul(decimal.NewFromInt(int64(qty)))),
				RefundedBy:   actor.Username,
				Reason:       reason,
				CreatedAt:    now,
			}
			if err := tx.InsertRefund(ctx, refund); err != nil {
				return err
			}
			refunds = append(refunds, refund)
		}

		sale.Status = domain.SaleStatusRefunded
		sale.PaymentStatus = domain.PaymentStatusRefunded
		sale.RefundTotal = sale.PaidAmount
		sale.Version++
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}

		reversal := domain.Payment{
			ID:        xid.New("pay"),
			SaleID:    sale.ID,
			Amount:    sale.PaidAmount.Neg(),
			Method:    domain.PaymentMethodRefund,
			CashierID: actor.Username,
			CreatedAt: now,
		}
		if err := tx.InsertPayment(ctx, reversal); err != nil {
			return err
		}

		sale.Items = items
		resp = domain.SaleResponse{Sale: *sale, Payments: []domain.Payment{reversal}, Refunds: refunds}
		return nil
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.stockChanged(ctx)
	s.logAudit(ctx, "sale_refund", "sale", resp.Sale.ID, fmt.Sprintf("refund_total=%s,lines=%d,reason=%s", resp.Sale.RefundTotal, len(resp.Refunds), reason))
	return resp, nil
}

func (s *Service) CreateRefund(ctx context.Context, req domain.RefundCreateRequest) (domain.Refund, error) {
	actor, err := s.authorize(ctx, OpManageRefunds)
	if err != nil {
		return domain.Refund{}, err
	}

	if req.Quantity < 1 {
		return domain.Refund{}, invalid("quantity must be at least 1")
	}
	if req.RefundAmount.IsNegative() {
		return domain.Refund{}, invalid("refund_amount must not be negative")
	}

	var refund domain.Refund
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		sale, err := lockOpenSale(ctx, tx, strings.TrimSpace(req.SaleID))
		if err != nil {
			return err
		}
		item, err := findSaleItem(ctx, tx, sale.ID, strings.TrimSpace(req.SaleItemID))
		if err != nil {
			return err
		}
		existing, err := tx.ListRefunds(ctx, sale.ID)
		if err != nil {
			return err
		}
		if left := item.Quantity - returnedBySaleItem(existing, "")[item.ID]; req.Quantity > left {
			return invalid("only %d units of sale item %s can still be refunded", left, item.ID)
		}

		amount := domain.RoundMoney(req.RefundAmount)
		if amount.IsZero() {
			amount = domain.RoundMoney(item.PricePerUnit.Mul(decimal.NewFromInt(int64(req.Quantity))))
		}
		if err := adjustRefundTotal(sale, amount); err != nil {
			return err
		}

		now := s.now()
		batchID, err := moveRefundStock(ctx, tx, domain.StockEntry{
			ProductID:  item.ProductID,
			EntryType:  domain.StockEntryAdded,
			Quantity:   req.Quantity,
			RecordedBy: actor.Username,
			Reference:  sale.ID,
		}, item.BatchID, now)
		if err != nil {
			return err
		}

		refund = domain.Refund{
			ID:           xid.New("refund"),
			SaleID:       sale.ID,
			SaleItemID:   item.ID,
			ProductID:    item.ProductID,
			BatchID:      batchID,
			Quantity:     req.Quantity,
			RefundAmount: amount,
			RefundedBy:   actor.Username,
			Reason:       strings.TrimSpace(req.Reason),
			CreatedAt:    now,
		}
		if err := tx.InsertRefund(ctx, refund); err != nil {
			return err
		}
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return domain.Refund{}, err
	}

	s.stockChanged(ctx)
	s.logAudit(ctx, "refund_create", "refund", refund.ID, fmt.Sprintf("sale=%s,item=%s,qty=%d,amount=%s", refund.SaleID, refund.SaleItemID, refund.Quantity, refund.RefundAmount))
	return refund, nil
}

func (s *Service) UpdateRefund(ctx context.Context, id string, req domain.RefundUpdateRequest) (domain.Refund, error) {
	actor, err := s.authorize(ctx, OpManageRefunds)
	if err != nil {
		return domain.Refund{}, err
	}

	if req.Quantity != nil && *req.Quantity < 1 {
		return domain.Refund{}, invalid("quantity must be at least 1")
	}
	if req.RefundAmount != nil && req.RefundAmount.IsNegative() {
		return domain.Refund{}, invalid("refund_amount must not be negative")
	}

	id = strings.TrimSpace(id)
	var updated domain.Refund
	delta := 0
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		refund, err := tx.LockRefund(ctx, id)
		if err != nil {
			return err
		}
		sale, err := lockOpenSale(ctx, tx, refund.SaleID)
		if err != nil {
			return err
		}

		next := *refund
		if req.Reason != nil {
			next.Reason = strings.TrimSpace(*req.Reason)
		}
		if req.RefundAmount != nil {
			next.RefundAmount = domain.RoundMoney(*req.RefundAmount)
		}
		if err := adjustRefundTotal(sale, next.RefundAmount.Sub(refund.RefundAmount)); err != nil {
			return err
		}

		now := s.now()
		if req.Quantity != nil && *req.Quantity != refund.Quantity {
			next.Quantity = *req.Quantity
			delta = next.Quantity - refund.Quantity

			if refund.SaleItemID != "" {
				item, err := findSaleItem(ctx, tx, sale.ID, refund.SaleItemID)
				if err != nil {
					return err
				}
				existing, err := tx.ListRefunds(ctx, sale.ID)
				if err != nil {
					return err
				}
				if left := item.Quantity - returnedBySaleItem(existing, refund.ID)[item.ID]; next.Quantity > left {
					return invalid("only %d units of sale item %s can be refunded", left, item.ID)
				}
			}

			entry := domain.StockEntry{
				ProductID:  refund.ProductID,
				EntryType:  domain.StockEntryAdded,
				Quantity:   delta,
				RecordedBy: actor.Username,
				Reference:  sale.ID,
			}
			if delta < 0 {
				entry.EntryType = domain.StockEntrySold
				entry.Quantity = -delta
			}
			next.BatchID, err = moveRefundStock(ctx, tx, entry, refund.BatchID, now)
			if err != nil {
				return err
			}
		}

		if err := tx.UpdateRefund(ctx, next); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Refund{}, err
	}

	if delta != 0 {
		s.stockChanged(ctx)
	}
	s.logAudit(ctx, "refund_update", "refund", updated.ID, fmt.Sprintf("qty=%d,amount=%s", updated.Quantity, updated.RefundAmount))
	return updated, nil
}

func (s *Service) DeleteRefund(ctx context.Context, id string) error {
	actor, err := s.authorize(ctx, OpManageRefunds)
	if err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	var removed domain.Refund
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		refund, err := tx.LockRefund(ctx, id)
		if err != nil {
			return err
		}
		sale, err := lockOpenSale(ctx, tx, refund.SaleID)
		if err != nil {
			return err
		}
		if err := adjustRefundTotal(sale, refund.RefundAmount.Neg()); err != nil {
			return err
		}

		now := s.now()
		if _, err := moveRefundStock(ctx, tx, domain.StockEntry{
			ProductID:  refund.ProductID,
			EntryType:  domain.StockEntrySold,
			Quantity:   refund.Quantity,
			RecordedBy: actor.Username,
			Reference:  sale.ID,
		}, refund.BatchID, now); err != nil {
			return err
		}
		if err := tx.DeleteRefund(ctx, refund.ID); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		removed = *refund
		return nil
	})
	if err != nil {
		return err
	}

	s.stockChanged(ctx)
	s.logAudit(ctx, "refund_delete", "refund", removed.ID, fmt.Sprintf("sale=%s,qty=%d,amount=%s", removed.SaleID, removed.Quantity, removed.RefundAmount))
	return nil
}

func lockOpenSale(ctx context.Context, tx store.Tx, saleID string) (*domain.Sale, error) {
	sale, err := tx.LockSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status == domain.SaleStatusRefunded {
		return nil, fmt.Errorf("%w: %s", store.ErrAlreadyRefunded, sale.ID)
	}
	return sale, nil
}

// adjustRefundTotal keeps the refund total within [0, paid].
func adjustRefundTotal(sale *domain.Sale, delta decimal.Decimal) error {
	next := domain.RoundMoney(sale.RefundTotal.Add(delta))
	if next.IsNegative() {
		return invalid("refund total of sale %s would go negative", sale.ID)
	}
	if next.GreaterThan(sale.PaidAmount) {
		return invalid("refund total %s would exceed paid amount %s", next, sale.PaidAmount)
	}
	sale.RefundTotal = next
	sale.Version++
	return nil
}

func findSaleItem(ctx context.Context, tx store.Tx, saleID string, itemID string) (domain.SaleItem, error) {
	items, err := tx.ListSaleItems(ctx, saleID)
	if err != nil {
		return domain.SaleItem{}, err
	}
	for _, item := range items {
		if item.ID == itemID {
			return item, nil
		}
	}
	return domain.SaleItem{}, fmt.Errorf("sale item %s: %w", itemID, store.ErrNotFound)
}

// returnedBySaleItem sums refunded units per sale item, skipping the refund
// named by exclude.
func returnedBySaleItem(refunds []domain.Refund, exclude string) map[string]int {
	out := make(map[string]int, len(refunds))
	for _, refund := range refunds {
		if refund.ID == exclude || refund.SaleItemID == "" {
			continue
		}
		out[refund.SaleItemID] += refund.Quantity
	}
	return out
}

// moveRefundStock applies a refund movement and writes its ledger row.
// Nothing moves for a product deleted since the sale.
func moveRefundStock(ctx context.Context, tx store.Tx, entry domain.StockEntry, batchID *string, now time.Time) (*string, error) {
	var moved bool
	var err error
	if entry.EntryType == domain.StockEntrySold {
		entry.BatchID, moved, err = debitStock(ctx, tx, entry.ProductID, batchID, entry.Quantity, now)
	} else {
		entry.BatchID, moved, err = restoreStock(ctx, tx, entry.ProductID, batchID, entry.Quantity, now)
	}
	if err != nil || !moved {
		return entry.BatchID, err
	}

	entry.ID = xid.New("stock")
	entry.CreatedAt = now
	return entry.BatchID, tx.InsertStockEntry(ctx, entry)
}

// restoreStock puts qty back on the batch, or on the product's loose stock
// when the batch no longer exists.
func restoreStock(ctx context.Context, tx store.Tx, productID string, batchID *string, qty int, now time.Time) (*string, bool, error) {
	if batchID != nil {
		batch, err := tx.LockBatch(ctx, *batchID)
		switch {
		case err == nil:
			batch.Quantity += qty
			batch.Version++
			batch.UpdatedAt = now
			if err := tx.UpdateBatch(ctx, *batch); err != nil {
				return nil, false, err
			}
			return ptr(batch.ID), true, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, err
		}
	}

	product, err := tx.LockProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return nil, true, tx.UpdateProductLooseQuantity(ctx, product.ID, product.LooseQuantity+qty)
}

// debitStock is the checked inverse of restoreStock.
func debitStock(ctx context.Context, tx store.Tx, productID string, batchID *string, qty int, now time.Time) (*string, bool, error) {
	if batchID != nil {
		batch, err := tx.LockBatch(ctx, *batchID)
		switch {
		case err == nil:
			if qty > batch.Quantity {
				return nil, false, fmt.Errorf("%w: batch %s has %d, need %d", store.ErrInsufficientStock, batch.BatchCode, batch.Quantity, qty)
			}
			batch.Quantity -= qty
			batch.Version++
			batch.UpdatedAt = now
			if err := tx.UpdateBatch(ctx, *batch); err != nil {
				return nil, false, err
			}
			return ptr(batch.ID), true, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, err
		}
	}

	product, err := tx.LockProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if qty > product.LooseQuantity {
		return nil, false, fmt.Errorf("%w: product %s has %d loose units, need %d", store.ErrInsufficientStock, product.ID, product.LooseQuantity, qty)
	}
	return nil, true, tx.UpdateProductLooseQuantity(ctx, product.ID, product.LooseQuantity-qty)
}
