package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
)

// pgTx implements store.Tx on top of one serializable transaction. Lock*
// methods use SELECT ... FOR UPDATE.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (id, name, category, threshold, loose_quantity, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, product.ID, product.Name, product.Category, product.Threshold, product.LooseQuantity, product.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
	}
	return err
}

func (t *pgTx) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(t.tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (t *pgTx) UpdateProductLooseQuantity(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET loose_quantity = $2 WHERE id = $1
	`, id, qty)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *pgTx) DeleteProduct(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *pgTx) LockBatch(ctx context.Context, id string) (*domain.ProductBatch, error) {
	batch, err := scanBatch(t.tx.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM product_batches
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &batch, nil
}

func (t *pgTx) LockBatchesForProduct(ctx context.Context, productID string) ([]domain.ProductBatch, error) {
	return queryBatches(ctx, t.tx, `
		SELECT `+batchColumns+`
		FROM product_batches
		WHERE product_id = $1
		ORDER BY id
		FOR UPDATE
	`, productID)
}

func (t *pgTx) BatchCodeExists(ctx context.Context, productID string, code string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM product_batches WHERE product_id = $1 AND batch_code = $2)
	`, productID, code).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertBatch(ctx context.Context, batch domain.ProductBatch) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO product_batches (
			id, product_id, batch_code, quantity, buying_price, selling_price, wholesale_price,
			expiry_date, recorded_by, version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, batch.ID, batch.ProductID, batch.BatchCode, batch.Quantity,
		money(batch.BuyingPrice), money(batch.SellingPrice), money(batch.WholesalePrice),
		nullDate(batch.ExpiryDate), batch.RecordedBy, batch.Version, batch.CreatedAt, batch.UpdatedAt)
	return batchWriteError(err, batch.BatchCode)
}

func (t *pgTx) UpdateBatch(ctx context.Context, batch domain.ProductBatch) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE product_batches
		SET batch_code = $3, quantity = $4, buying_price = $5, selling_price = $6, wholesale_price = $7,
			expiry_date = $8, version = $9, updated_at = $10
		WHERE id = $1 AND version = $2
	`, batch.ID, batch.Version-1, batch.BatchCode, batch.Quantity,
		money(batch.BuyingPrice), money(batch.SellingPrice), money(batch.WholesalePrice),
		nullDate(batch.ExpiryDate), batch.Version, batch.UpdatedAt)
	if err != nil {
		return batchWriteError(err, batch.BatchCode)
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("%w: batch %s changed underneath", store.ErrConflict, batch.ID)
	}
	return nil
}

func (t *pgTx) DeleteBatch(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM product_batches WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func batchWriteError(err error, code string) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s", store.ErrDuplicateBatchCode, code)
	case isCheckViolation(err):
		return fmt.Errorf("%w: %v", store.ErrInsufficientStock, err)
	default:
		return err
	}
}

func (t *pgTx) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, customer_id, order_type, discount_percent, status, notes,
			reject_reason, rejected_by, sale_id, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, order.ID, order.UserID, order.CustomerID, string(order.OrderType), order.DiscountPercent, string(order.Status),
		order.Notes, order.RejectReason, order.RejectedBy, order.SaleID, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return err
	}
	return t.replaceOrderItems(ctx, order.ID, order.Items)
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateOrder(ctx context.Context, order domain.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET customer_id = $2, order_type = $3, discount_percent = $4, status = $5, notes = $6,
			reject_reason = $7, rejected_by = $8, sale_id = $9, updated_at = $10
		WHERE id = $1
	`, order.ID, order.CustomerID, string(order.OrderType), order.DiscountPercent, string(order.Status), order.Notes,
		order.RejectReason, order.RejectedBy, order.SaleID, order.UpdatedAt)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return t.replaceOrderItems(ctx, order.ID, order.Items)
}

func (t *pgTx) replaceOrderItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	for i, item := range items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, batch_id, quantity)
			VALUES ($1,$2,$3,$4,$5)
		`, orderID, i+1, item.ProductID, item.BatchID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, order_id, customer_id, user_id, sale_type, total_amount, paid_amount, final_amount,
			status, payment_status, is_loan, refund_total, sale_date, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.OrderID, sale.CustomerID, sale.UserID, string(sale.SaleType),
		money(sale.TotalAmount), money(sale.PaidAmount), money(sale.FinalAmount),
		string(sale.Status), string(sale.PaymentStatus), sale.IsLoan, money(sale.RefundTotal), sale.Date, sale.Version)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: order %s already has a sale", store.ErrStateConflict, sale.OrderID)
	}
	return err
}

func (t *pgTx) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(t.tx.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &sale, nil
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET paid_amount = $3, status = $4, payment_status = $5, is_loan = $6, refund_total = $7, version = $8
		WHERE id = $1 AND version = $2
	`, sale.ID, sale.Version-1, money(sale.PaidAmount), string(sale.Status), string(sale.PaymentStatus),
		sale.IsLoan, money(sale.RefundTotal), sale.Version)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("%w: sale %s changed underneath", store.ErrConflict, sale.ID)
	}
	return nil
}

func (t *pgTx) InsertSaleItem(ctx context.Context, item domain.SaleItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_items (id, sale_id, product_id, batch_id, quantity, price_per_unit)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.SaleID, item.ProductID, nullString(item.BatchID), item.Quantity, money(item.PricePerUnit))
	return err
}

func (t *pgTx) ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	return listSaleItems(ctx, t.tx, saleID)
}

func (t *pgTx) InsertPayment(ctx context.Context, payment domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (id, sale_id, amount, method, cashier_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, payment.ID, payment.SaleID, money(payment.Amount), payment.Method, payment.CashierID, payment.CreatedAt)
	return err
}

func (t *pgTx) InsertStockEntry(ctx context.Context, entry domain.StockEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_entries (id, product_id, batch_id, entry_type, quantity, recorded_by, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ProductID, nullString(entry.BatchID), string(entry.EntryType), entry.Quantity,
		entry.RecordedBy, entry.Reference, entry.CreatedAt)
	return err
}

func (t *pgTx) InsertRefund(ctx context.Context, refund domain.Refund) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, refund.ID, refund.SaleID, refund.SaleItemID, refund.ProductID, nullString(refund.BatchID),
		refund.Quantity, money(refund.RefundAmount), refund.RefundedBy, refund.Reason, refund.CreatedAt)
	return err
}

func (t *pgTx) LockRefund(ctx context.Context, id string) (*domain.Refund, error) {
	refund, err := scanRefund(t.tx.QueryRowContext(ctx, `
		SELECT `+refundColumns+`
		FROM refunds
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &refund, nil
}

func (t *pgTx) UpdateRefund(ctx context.Context, refund domain.Refund) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE refunds
		SET batch_id = $2, quantity = $3, refund_amount = $4, reason = $5
		WHERE id = $1
	`, refund.ID, nullString(refund.BatchID), refund.Quantity, money(refund.RefundAmount), refund.Reason)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *pgTx) DeleteRefund(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM refunds WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *pgTx) ListRefunds(ctx context.Context, saleID string) ([]domain.Refund, error) {
	return listRefunds(ctx, t.tx, saleID)
}
