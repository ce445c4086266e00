package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/charlzpiarro/update/internal/domain"
)

const (
	customerColumns = `id, name, phone, email, address, created_at, updated_at`
	expenseColumns  = `id, category, description, amount, expense_date, recorded_by, created_at`
)

func scanCustomer(row scanner) (domain.Customer, error) {
	var customer domain.Customer
	if err := row.Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Email, &customer.Address, &customer.CreatedAt, &customer.UpdatedAt); err != nil {
		return domain.Customer{}, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	customer.UpdatedAt = customer.UpdatedAt.UTC()
	return customer, nil
}

func scanExpense(row scanner) (domain.Expense, error) {
	var expense domain.Expense
	if err := row.Scan(&expense.ID, &expense.Category, &expense.Description, &expense.Amount, &expense.Date, &expense.RecordedBy, &expense.CreatedAt); err != nil {
		return domain.Expense{}, err
	}
	expense.Date = expense.Date.UTC()
	expense.CreatedAt = expense.CreatedAt.UTC()
	return expense, nil
}

func (s *Store) ListCustomers(ctx context.Context, filter domain.CustomerFilter) ([]domain.Customer, error) {
	if filter.Limit < 1 {
		filter.Limit = 200
	}
	orderBy := `name, id`
	if filter.OrderBy == domain.CustomerOrderByCreated {
		orderBy = `created_at DESC, name, id`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE $1 = ''
			OR name ILIKE '%' || $1 || '%'
			OR phone ILIKE '%' || $1 || '%'
			OR email ILIKE '%' || $1 || '%'
		ORDER BY `+orderBy+`
		LIMIT $2
	`, filter.Search, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 16)
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	customer, err := scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}

func (s *Store) ListCustomerPurchases(ctx context.Context, customerID string) ([]domain.CustomerPurchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.product_id, si.batch_id, si.quantity, si.price_per_unit, s.sale_date, s.status
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE s.customer_id = $1
		ORDER BY s.sale_date DESC, si.id
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.CustomerPurchase, 0, 8)
	for rows.Next() {
		var purchase domain.CustomerPurchase
		var batchID sql.NullString
		var status string
		if err := rows.Scan(&purchase.ID, &purchase.SaleID, &purchase.ProductID, &batchID, &purchase.Quantity, &purchase.PricePerUnit, &purchase.SaleDate, &status); err != nil {
			return nil, err
		}
		purchase.BatchID = stringPtr(batchID)
		purchase.SaleDate = purchase.SaleDate.UTC()
		purchase.SaleStatus = domain.SaleStatus(status)
		purchases = append(purchases, purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}

func (s *Store) ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+expenseColumns+`
		FROM expenses
		WHERE expense_date >= $1
			AND expense_date < $2
		ORDER BY expense_date DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 16)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) GetExpense(ctx context.Context, id string) (*domain.Expense, error) {
	expense, err := scanExpense(s.db.QueryRowContext(ctx, `
		SELECT `+expenseColumns+`
		FROM expenses
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &expense, nil
}

func (t *pgTx) InsertCustomer(ctx context.Context, customer domain.Customer) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.CreatedAt, customer.UpdatedAt)
	return err
}

func (t *pgTx) LockCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	customer, err := scanCustomer(t.tx.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}

func (t *pgTx) UpdateCustomer(ctx context.Context, customer domain.Customer) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, address = $5, updated_at = $6
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *pgTx) DeleteCustomer(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *pgTx) InsertExpense(ctx context.Context, expense domain.Expense) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.Category, expense.Description, money(expense.Amount), expense.Date, expense.RecordedBy, expense.CreatedAt)
	return err
}

func (t *pgTx) LockExpense(ctx context.Context, id string) (*domain.Expense, error) {
	expense, err := scanExpense(t.tx.QueryRowContext(ctx, `
		SELECT `+expenseColumns+`
		FROM expenses
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &expense, nil
}

func (t *pgTx) UpdateExpense(ctx context.Context, expense domain.Expense) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE expenses
		SET category = $2, description = $3, amount = $4, expense_date = $5
		WHERE id = $1
	`, expense.ID, expense.Category, expense.Description, money(expense.Amount), expense.Date)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *pgTx) DeleteExpense(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
