package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		threshold INTEGER NOT NULL DEFAULT 0,
		loose_quantity INTEGER NOT NULL DEFAULT 0 CHECK (loose_quantity >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS product_batches (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		batch_code TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		buying_price NUMERIC(14,2) NOT NULL DEFAULT 0,
		selling_price NUMERIC(14,2) NOT NULL DEFAULT 0,
		wholesale_price NUMERIC(14,2) NOT NULL DEFAULT 0,
		expiry_date DATE,
		recorded_by TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (product_id, batch_code)
	)`,
	`CREATE INDEX IF NOT EXISTS product_batches_expiry_idx ON product_batches (expiry_date)`,
	`CREATE TABLE IF NOT EXISTS stock_entries (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		batch_id TEXT,
		entry_type TEXT NOT NULL CHECK (entry_type IN ('added', 'deleted', 'sold')),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		recorded_by TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS stock_entries_product_created_idx ON stock_entries (product_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		order_type TEXT NOT NULL CHECK (order_type IN ('retail', 'wholesale')),
		discount_percent NUMERIC(5,2) NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'rejected', 'updated')),
		notes TEXT NOT NULL DEFAULT '',
		reject_reason TEXT NOT NULL DEFAULT '',
		rejected_by TEXT NOT NULL DEFAULT '',
		sale_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS orders_status_created_idx ON orders (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		batch_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		PRIMARY KEY (order_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		sale_type TEXT NOT NULL,
		total_amount NUMERIC(14,2) NOT NULL,
		paid_amount NUMERIC(14,2) NOT NULL CHECK (paid_amount >= 0),
		final_amount NUMERIC(14,2) NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('confirmed', 'refunded')),
		payment_status TEXT NOT NULL CHECK (payment_status IN ('unpaid', 'partial', 'paid', 'refunded')),
		is_loan BOOLEAN NOT NULL DEFAULT false,
		refund_total NUMERIC(14,2) NOT NULL DEFAULT 0,
		sale_date TIMESTAMPTZ NOT NULL DEFAULT now(),
		version BIGINT NOT NULL DEFAULT 1,
		CHECK (paid_amount <= final_amount)
	)`,
	`CREATE INDEX IF NOT EXISTS sales_user_date_idx ON sales (user_id, sale_date DESC)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		batch_id TEXT REFERENCES product_batches(id) ON DELETE SET NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price_per_unit NUMERIC(14,2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		amount NUMERIC(14,2) NOT NULL,
		method TEXT NOT NULL,
		cashier_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		sale_item_id TEXT NOT NULL DEFAULT '',
		product_id TEXT NOT NULL,
		batch_id TEXT REFERENCES product_batches(id) ON DELETE SET NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		refund_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		refunded_by TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS sales_customer_idx ON sales (customer_id) WHERE customer_id <> ''`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		expense_date TIMESTAMPTZ NOT NULL,
		recorded_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS expenses_date_idx ON expenses (expense_date DESC)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_created_idx ON audit_logs (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
