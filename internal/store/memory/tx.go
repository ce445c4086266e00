package memory

import (
	"context"
	"slices"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
)

// memTx mutates a staged copy of the store state. Writers are serialized by
// Store.writeMu, so the Lock* methods are plain reads here.
type memTx struct {
	st *state
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.st.products[product.ID]; exists {
		return store.ErrValidation
	}
	product.Batches = nil
	t.st.products[product.ID] = product
	return nil
}

func (t *memTx) LockProduct(_ context.Context, id string) (*domain.Product, error) {
	product, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (t *memTx) UpdateProductLooseQuantity(_ context.Context, id string, qty int) error {
	product, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	product.LooseQuantity = qty
	t.st.products[id] = product
	return nil
}

func (t *memTx) DeleteProduct(_ context.Context, id string) error {
	if _, ok := t.st.products[id]; !ok {
		return store.ErrNotFound
	}
	for batchID, batch := range t.st.batches {
		if batch.ProductID == id {
			t.detachBatch(batchID)
			delete(t.st.batches, batchID)
		}
	}
	delete(t.st.products, id)
	return nil
}

func (t *memTx) LockBatch(_ context.Context, id string) (*domain.ProductBatch, error) {
	batch, ok := t.st.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &batch, nil
}

func (t *memTx) LockBatchesForProduct(_ context.Context, productID string) ([]domain.ProductBatch, error) {
	return batchesFor(t.st, productID), nil
}

func (t *memTx) BatchCodeExists(_ context.Context, productID string, code string) (bool, error) {
	for _, batch := range t.st.batches {
		if batch.ProductID == productID && batch.BatchCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertBatch(_ context.Context, batch domain.ProductBatch) error {
	if _, ok := t.st.products[batch.ProductID]; !ok {
		return store.ErrNotFound
	}
	for _, existing := range t.st.batches {
		if existing.ProductID == batch.ProductID && existing.BatchCode == batch.BatchCode {
			return store.ErrDuplicateBatchCode
		}
	}
	if batch.Quantity < 0 {
		return store.ErrInsufficientStock
	}
	t.st.batches[batch.ID] = batch
	return nil
}

func (t *memTx) UpdateBatch(_ context.Context, batch domain.ProductBatch) error {
	current, ok := t.st.batches[batch.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != batch.Version-1 {
		return store.ErrConflict
	}
	if batch.Quantity < 0 {
		return store.ErrInsufficientStock
	}
	for id, existing := range t.st.batches {
		if id != batch.ID && existing.ProductID == batch.ProductID && existing.BatchCode == batch.BatchCode {
			return store.ErrDuplicateBatchCode
		}
	}
	t.st.batches[batch.ID] = batch
	return nil
}

func (t *memTx) DeleteBatch(_ context.Context, id string) error {
	if _, ok := t.st.batches[id]; !ok {
		return store.ErrNotFound
	}
	t.detachBatch(id)
	delete(t.st.batches, id)
	return nil
}

// detachBatch nulls batch references the way ON DELETE SET NULL does.
func (t *memTx) detachBatch(batchID string) {
	for saleID, items := range t.st.saleItems {
		var changed []domain.SaleItem
		for i, item := range items {
			if item.BatchID != nil && *item.BatchID == batchID {
				if changed == nil {
					changed = slices.Clone(items)
				}
				changed[i].BatchID = nil
			}
		}
		if changed != nil {
			t.st.saleItems[saleID] = changed
		}
	}
	for id, refund := range t.st.refunds {
		if refund.BatchID != nil && *refund.BatchID == batchID {
			refund.BatchID = nil
			t.st.refunds[id] = refund
		}
	}
}

func (t *memTx) InsertOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.st.orders[order.ID]; exists {
		return store.ErrValidation
	}
	order.Items = slices.Clone(order.Items)
	t.st.orders[order.ID] = order
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (*domain.Order, error) {
	order, ok := t.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Items = slices.Clone(order.Items)
	return &order, nil
}

func (t *memTx) UpdateOrder(_ context.Context, order domain.Order) error {
	if _, ok := t.st.orders[order.ID]; !ok {
		return store.ErrNotFound
	}
	order.Items = slices.Clone(order.Items)
	t.st.orders[order.ID] = order
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, id string) error {
	if _, ok := t.st.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.orders, id)
	return nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.st.sales[sale.ID]; exists {
		return store.ErrValidation
	}
	for _, existing := range t.st.sales {
		if existing.OrderID == sale.OrderID {
			return store.ErrStateConflict
		}
	}
	sale.Items = nil
	t.st.sales[sale.ID] = sale
	return nil
}

func (t *memTx) LockSale(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.Sale) error {
	current, ok := t.st.sales[sale.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != sale.Version-1 {
		return store.ErrConflict
	}
	sale.Items = nil
	t.st.sales[sale.ID] = sale
	return nil
}

func (t *memTx) InsertSaleItem(_ context.Context, item domain.SaleItem) error {
	if _, ok := t.st.sales[item.SaleID]; !ok {
		return store.ErrNotFound
	}
	items := slices.Clone(t.st.saleItems[item.SaleID])
	t.st.saleItems[item.SaleID] = append(items, item)
	return nil
}

func (t *memTx) ListSaleItems(_ context.Context, saleID string) ([]domain.SaleItem, error) {
	return slices.Clone(t.st.saleItems[saleID]), nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	if _, ok := t.st.sales[payment.SaleID]; !ok {
		return store.ErrNotFound
	}
	payments := slices.Clone(t.st.payments[payment.SaleID])
	t.st.payments[payment.SaleID] = append(payments, payment)
	return nil
}

func (t *memTx) InsertStockEntry(_ context.Context, entry domain.StockEntry) error {
	t.st.stockEntries = append(t.st.stockEntries, entry)
	return nil
}

func (t *memTx) InsertRefund(_ context.Context, refund domain.Refund) error {
	if _, ok := t.st.sales[refund.SaleID]; !ok {
		return store.ErrNotFound
	}
	t.st.refunds[refund.ID] = refund
	return nil
}

func (t *memTx) LockRefund(_ context.Context, id string) (*domain.Refund, error) {
	refund, ok := t.st.refunds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &refund, nil
}

func (t *memTx) UpdateRefund(_ context.Context, refund domain.Refund) error {
	if _, ok := t.st.refunds[refund.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.refunds[refund.ID] = refund
	return nil
}

func (t *memTx) DeleteRefund(_ context.Context, id string) error {
	if _, ok := t.st.refunds[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.refunds, id)
	return nil
}

func (t *memTx) ListRefunds(_ context.Context, saleID string) ([]domain.Refund, error) {
	return refundsFor(t.st, saleID), nil
}

func (t *memTx) InsertCustomer(_ context.Context, customer domain.Customer) error {
	if _, exists := t.st.customers[customer.ID]; exists {
		return store.ErrValidation
	}
	t.st.customers[customer.ID] = customer
	return nil
}

func (t *memTx) LockCustomer(_ context.Context, id string) (*domain.Customer, error) {
	customer, ok := t.st.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (t *memTx) UpdateCustomer(_ context.Context, customer domain.Customer) error {
	if _, ok := t.st.customers[customer.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.customers[customer.ID] = customer
	return nil
}

func (t *memTx) DeleteCustomer(_ context.Context, id string) error {
	if _, ok := t.st.customers[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.customers, id)
	return nil
}

func (t *memTx) InsertExpense(_ context.Context, expense domain.Expense) error {
	if _, exists := t.st.expenses[expense.ID]; exists {
		return store.ErrValidation
	}
	t.st.expenses[expense.ID] = expense
	return nil
}

func (t *memTx) LockExpense(_ context.Context, id string) (*domain.Expense, error) {
	expense, ok := t.st.expenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &expense, nil
}

func (t *memTx) UpdateExpense(_ context.Context, expense domain.Expense) error {
	if _, ok := t.st.expenses[expense.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.expenses[expense.ID] = expense
	return nil
}

func (t *memTx) DeleteExpense(_ context.Context, id string) error {
	if _, ok := t.st.expenses[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.expenses, id)
	return nil
}
