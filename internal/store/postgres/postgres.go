package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

type Options struct {
	// LockTimeout bounds how long a statement waits for a row lock before the
	// transaction is retried.
	LockTimeout   time.Duration
	RetryAttempts int
}

type Store struct {
	db            *sql.DB
	lockTimeout   time.Duration
	retryAttempts int
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 3 * time.Second
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 3
	}
	return &Store{db: db, lockTimeout: opts.LockTimeout, retryAttempts: opts.RetryAttempts}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx runs fn in a serializable transaction. Serialization failures,
// deadlocks and lock timeouts roll back and retry fn from scratch; once the
// attempts run out the caller gets ErrConflict. Any other error is returned
// as is.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == s.retryAttempts {
			break
		}

		log.Printf("[postgres] WARN: transaction attempt %d/%d hit contention: %v", attempt, s.retryAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 25 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, err)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return err
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.ProductBatch, error) {
	return queryBatches(ctx, s.db, `
		SELECT `+batchColumns+`
		FROM product_batches
		WHERE $1 = '' OR product_id = $1
		ORDER BY expiry_date NULLS LAST, id
	`, productID)
}

func (s *Store) ListOrders(ctx context.Context, status domain.OrderStatus, userID string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR user_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, string(status), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachOrderItems(ctx, s.db, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, s.db, id, false)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	items, err := listSaleItems(ctx, s.db, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	return querySales(ctx, s.db, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE $1 = '' OR user_id = $1
		ORDER BY sale_date DESC, id DESC
		LIMIT $2
	`, filter.UserID, filter.Limit)
}

func (s *Store) ListLoans(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}
	return querySales(ctx, s.db, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE is_loan = true
			AND status <> 'refunded'
			AND payment_status <> 'paid'
		ORDER BY sale_date DESC, id DESC
		LIMIT $1
	`, limit)
}

func (s *Store) ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	return listSaleItems(ctx, s.db, saleID)
}

func (s *Store) ListPayments(ctx context.Context, saleID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, amount, method, cashier_id, created_at
		FROM payments
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var payment domain.Payment
		if err := rows.Scan(&payment.ID, &payment.SaleID, &payment.Amount, &payment.Method, &payment.CashierID, &payment.CreatedAt); err != nil {
			return nil, err
		}
		payment.CreatedAt = payment.CreatedAt.UTC()
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) ListRefunds(ctx context.Context, saleID string) ([]domain.Refund, error) {
	return listRefunds(ctx, s.db, saleID)
}

func (s *Store) ListStockEntries(ctx context.Context, filter domain.StockEntryFilter) ([]domain.StockEntry, error) {
	if filter.Limit < 1 {
		filter.Limit = 200
	}

	var from, to any
	if !filter.From.IsZero() {
		from = filter.From
	}
	if !filter.To.IsZero() {
		to = filter.To
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, batch_id, entry_type, quantity, recorded_by, reference, created_at
		FROM stock_entries
		WHERE ($1 = '' OR product_id = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, filter.ProductID, from, to, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockEntry, 0, filter.Limit)
	for rows.Next() {
		var entry domain.StockEntry
		var batchID sql.NullString
		var entryType string
		if err := rows.Scan(&entry.ID, &entry.ProductID, &batchID, &entryType, &entry.Quantity, &entry.RecordedBy, &entry.Reference, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.BatchID = stringPtr(batchID)
		entry.EntryType = domain.StockEntryType(entryType)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrValidation)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// EnsureUsers inserts any of the given accounts that do not exist yet.
func (s *Store) EnsureUsers(ctx context.Context, users []domain.UserAccount) error {
	for _, user := range users {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO app_users (username, password, role, active, created_at, updated_at)
			VALUES ($1,$2,$3,$4,now(),now())
			ON CONFLICT (username) DO NOTHING
		`, user.Username, user.Password, user.Role, user.Active); err != nil {
			return err
		}
	}
	return nil
}

const (
	productColumns = `id, name, category, threshold, loose_quantity, created_at`
	batchColumns   = `id, product_id, batch_code, quantity, buying_price, selling_price, wholesale_price, expiry_date, recorded_by, version, created_at, updated_at`
	orderColumns   = `id, user_id, customer_id, order_type, discount_percent, status, notes, reject_reason, rejected_by, sale_id, created_at, updated_at`
	saleColumns    = `id, order_id, customer_id, user_id, sale_type, total_amount, paid_amount, final_amount, status, payment_status, is_loan, refund_total, sale_date, version`
	refundColumns  = `id, sale_id, sale_item_id, product_id, batch_id, quantity, refund_amount, refunded_by, reason, created_at`
)

func scanProduct(row scanner) (domain.Product, error) {
	var product domain.Product
	if err := row.Scan(&product.ID, &product.Name, &product.Category, &product.Threshold, &product.LooseQuantity, &product.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return product, nil
}

func scanBatch(row scanner) (domain.ProductBatch, error) {
	var batch domain.ProductBatch
	var expiry sql.NullTime
	if err := row.Scan(
		&batch.ID, &batch.ProductID, &batch.BatchCode, &batch.Quantity,
		&batch.BuyingPrice, &batch.SellingPrice, &batch.WholesalePrice,
		&expiry, &batch.RecordedBy, &batch.Version, &batch.CreatedAt, &batch.UpdatedAt,
	); err != nil {
		return domain.ProductBatch{}, err
	}
	if expiry.Valid {
		day := nowDateUTC(expiry.Time)
		batch.ExpiryDate = &day
	}
	batch.CreatedAt = batch.CreatedAt.UTC()
	batch.UpdatedAt = batch.UpdatedAt.UTC()
	return batch, nil
}

func queryBatches(ctx context.Context, q querier, query string, args ...any) ([]domain.ProductBatch, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.ProductBatch, 0, 16)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func scanOrder(row scanner) (domain.Order, error) {
	var order domain.Order
	var orderType, status string
	if err := row.Scan(
		&order.ID, &order.UserID, &order.CustomerID, &orderType, &order.DiscountPercent, &status,
		&order.Notes, &order.RejectReason, &order.RejectedBy, &order.SaleID, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.OrderType = domain.OrderType(orderType)
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func getOrder(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	orders := []domain.Order{order}
	if err := attachOrderItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func attachOrderItems(ctx context.Context, q querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids = append(ids, order.ID)
		index[order.ID] = i
		orders[i].Items = make([]domain.OrderItem, 0, 4)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, batch_id, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.BatchID, &item.Quantity); err != nil {
			return err
		}
		at := index[orderID]
		orders[at].Items = append(orders[at].Items, item)
	}
	return rows.Err()
}

func scanSale(row scanner) (domain.Sale, error) {
	var sale domain.Sale
	var saleType, status, paymentStatus string
	if err := row.Scan(
		&sale.ID, &sale.OrderID, &sale.CustomerID, &sale.UserID, &saleType,
		&sale.TotalAmount, &sale.PaidAmount, &sale.FinalAmount, &status, &paymentStatus,
		&sale.IsLoan, &sale.RefundTotal, &sale.Date, &sale.Version,
	); err != nil {
		return domain.Sale{}, err
	}
	sale.SaleType = domain.OrderType(saleType)
	sale.Status = domain.SaleStatus(status)
	sale.PaymentStatus = domain.PaymentStatus(paymentStatus)
	sale.Date = sale.Date.UTC()
	return sale, nil
}

func querySales(ctx context.Context, q querier, query string, args ...any) ([]domain.Sale, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func listSaleItems(ctx context.Context, q querier, saleID string) ([]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, batch_id, quantity, price_per_unit
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		var batchID sql.NullString
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &batchID, &item.Quantity, &item.PricePerUnit); err != nil {
			return nil, err
		}
		item.BatchID = stringPtr(batchID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanRefund(row scanner) (domain.Refund, error) {
	var refund domain.Refund
	var batchID sql.NullString
	if err := row.Scan(
		&refund.ID, &refund.SaleID, &refund.SaleItemID, &refund.ProductID, &batchID,
		&refund.Quantity, &refund.RefundAmount, &refund.RefundedBy, &refund.Reason, &refund.CreatedAt,
	); err != nil {
		return domain.Refund{}, err
	}
	refund.BatchID = stringPtr(batchID)
	refund.CreatedAt = refund.CreatedAt.UTC()
	return refund, nil
}

func listRefunds(ctx context.Context, q querier, saleID string) ([]domain.Refund, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+refundColumns+`
		FROM refunds
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0, 4)
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refunds, nil
}

// isRetryable reports contention errors that a fresh attempt can clear:
// serialization_failure, deadlock_detected and lock_not_available.
func isRetryable(err error) bool {
	if errors.Is(err, store.ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func expectOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}

func nullString(val *string) any {
	if val == nil {
		return nil
	}
	return *val
}

func stringPtr(val sql.NullString) *string {
	if !val.Valid {
		return nil
	}
	out := val.String
	return &out
}

func money(val decimal.Decimal) decimal.Decimal {
	return domain.RoundMoney(val)
}
