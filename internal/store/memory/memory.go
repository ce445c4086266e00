package memory

import (
	"context"
	"log"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
)

// state holds every transactional table. RunInTx works on a clone and swaps
// it in on success, so a failed unit of work leaves nothing behind.
type state struct {
	products     map[string]domain.Product
	batches      map[string]domain.ProductBatch
	orders       map[string]domain.Order
	sales        map[string]domain.Sale
	saleItems    map[string][]domain.SaleItem
	payments     map[string][]domain.Payment
	refunds      map[string]domain.Refund
	stockEntries []domain.StockEntry
	customers    map[string]domain.Customer
	expenses     map[string]domain.Expense
}

func newState() *state {
	return &state{
		products:     make(map[string]domain.Product),
		batches:      make(map[string]domain.ProductBatch),
		orders:       make(map[string]domain.Order),
		sales:        make(map[string]domain.Sale),
		saleItems:    make(map[string][]domain.SaleItem),
		payments:     make(map[string][]domain.Payment),
		refunds:      make(map[string]domain.Refund),
		stockEntries: make([]domain.StockEntry, 0, 64),
		customers:    make(map[string]domain.Customer),
		expenses:     make(map[string]domain.Expense),
	}
}

func (st *state) clone() *state {
	return &state{
		products:     maps.Clone(st.products),
		batches:      maps.Clone(st.batches),
		orders:       maps.Clone(st.orders),
		sales:        maps.Clone(st.sales),
		saleItems:    maps.Clone(st.saleItems),
		payments:     maps.Clone(st.payments),
		refunds:      maps.Clone(st.refunds),
		stockEntries: slices.Clone(st.stockEntries),
		customers:    maps.Clone(st.customers),
		expenses:     maps.Clone(st.expenses),
	}
}

type Store struct {
	writeMu         sync.Mutex
	mu              sync.RWMutex
	st              *state
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		st:              newState(),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
// SEED_STAFF_PASSWORD; unset values fall back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users and a small catalogue with one
// batch per product.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	expiry := now.AddDate(1, 0, 0)
	catalogue := []struct {
		id, name, category string
		threshold          int
		buying, selling    int64
		wholesale          int64
		qty                int
	}{
		{"prod-sukari", "Sukari 1kg", "grocery", 10, 2800, 3200, 3000, 120},
		{"prod-mchele", "Mchele 5kg", "grocery", 5, 13000, 15000, 14200, 40},
		{"prod-mafuta", "Mafuta ya Kupikia 1L", "grocery", 8, 5200, 6000, 5700, 60},
		{"prod-sabuni", "Sabuni ya Kufulia", "household", 12, 900, 1200, 1050, 200},
		{"prod-maziwa", "Maziwa UHT 500ml", "dairy", 20, 1400, 1800, 1650, 90},
	}
	for _, item := range catalogue {
		s.st.products[item.id] = domain.Product{
			ID:        item.id,
			Name:      item.name,
			Category:  item.category,
			Threshold: item.threshold,
			CreatedAt: now,
		}
		batchID := "batch-" + item.id[len("prod-"):] + "-01"
		exp := expiry
		s.st.batches[batchID] = domain.ProductBatch{
			ID:             batchID,
			ProductID:      item.id,
			BatchCode:      "SEED-01",
			Quantity:       item.qty,
			BuyingPrice:    decimal.NewFromInt(item.buying),
			SellingPrice:   decimal.NewFromInt(item.selling),
			WholesalePrice: decimal.NewFromInt(item.wholesale),
			ExpiryDate:     &exp,
			RecordedBy:     "system",
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.st.stockEntries = append(s.st.stockEntries, domain.StockEntry{
			ID:         "stock-seed-" + item.id,
			ProductID:  item.id,
			BatchID:    &batchID,
			EntryType:  domain.StockEntryAdded,
			Quantity:   item.qty,
			RecordedBy: "system",
			Reference:  "seed",
			CreatedAt:  now,
		})
	}
	return s
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	staged := s.st.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{st: staged}); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = staged
	s.mu.Unlock()
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.st.products))
	for _, product := range s.st.products {
		products = append(products, product)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Category == products[j].Category {
			return products[i].Name < products[j].Name
		}
		return products[i].Category < products[j].Category
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.ProductBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return batchesFor(s.st, productID), nil
}

func (s *Store) ListOrders(_ context.Context, status domain.OrderStatus, userID string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.st.orders))
	for _, order := range s.st.orders {
		if status != "" && order.Status != status {
			continue
		}
		if userID != "" && order.UserID != userID {
			continue
		}
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return truncate(orders, limit), nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Items = slices.Clone(order.Items)
	return &order, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Items = slices.Clone(s.st.saleItems[id])
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectSales(func(sale domain.Sale) bool {
		return filter.UserID == "" || sale.UserID == filter.UserID
	}, filter.Limit), nil
}

func (s *Store) ListLoans(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectSales(domain.Sale.Outstanding, limit), nil
}

func (s *Store) collectSales(keep func(domain.Sale) bool, limit int) []domain.Sale {
	sales := make([]domain.Sale, 0, len(s.st.sales))
	for _, sale := range s.st.sales {
		if keep(sale) {
			sales = append(sales, sale)
		}
	}
	sort.Slice(sales, func(i, j int) bool {
		return sales[i].Date.After(sales[j].Date)
	})
	return truncate(sales, limit)
}

func (s *Store) ListSaleItems(_ context.Context, saleID string) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.saleItems[saleID]), nil
}

func (s *Store) ListPayments(_ context.Context, saleID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.payments[saleID]), nil
}

func (s *Store) ListRefunds(_ context.Context, saleID string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return refundsFor(s.st, saleID), nil
}

func (s *Store) ListStockEntries(_ context.Context, filter domain.StockEntryFilter) ([]domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.StockEntry, 0, len(s.st.stockEntries))
	for i := len(s.st.stockEntries) - 1; i >= 0; i-- {
		entry := s.st.stockEntries[i]
		if filter.ProductID != "" && entry.ProductID != filter.ProductID {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		entries = append(entries, entry)
	}
	return truncate(entries, filter.Limit), nil
}

func (s *Store) ListCustomers(_ context.Context, filter domain.CustomerFilter) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	customers := make([]domain.Customer, 0, len(s.st.customers))
	for _, customer := range s.st.customers {
		if search != "" &&
			!strings.Contains(strings.ToLower(customer.Name), search) &&
			!strings.Contains(strings.ToLower(customer.Phone), search) &&
			!strings.Contains(strings.ToLower(customer.Email), search) {
			continue
		}
		customers = append(customers, customer)
	}
	sort.Slice(customers, func(i, j int) bool {
		if filter.OrderBy == domain.CustomerOrderByCreated && !customers[i].CreatedAt.Equal(customers[j].CreatedAt) {
			return customers[i].CreatedAt.After(customers[j].CreatedAt)
		}
		if customers[i].Name == customers[j].Name {
			return customers[i].ID < customers[j].ID
		}
		return customers[i].Name < customers[j].Name
	})
	return truncate(customers, filter.Limit), nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.st.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomerPurchases(_ context.Context, customerID string) ([]domain.CustomerPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.CustomerPurchase, 0, 8)
	for _, sale := range s.st.sales {
		if sale.CustomerID != customerID {
			continue
		}
		for _, item := range s.st.saleItems[sale.ID] {
			purchases = append(purchases, domain.CustomerPurchase{
				SaleItem:   item,
				SaleDate:   sale.Date,
				SaleStatus: sale.Status,
			})
		}
	}
	sort.Slice(purchases, func(i, j int) bool {
		if purchases[i].SaleDate.Equal(purchases[j].SaleDate) {
			return purchases[i].ID < purchases[j].ID
		}
		return purchases[i].SaleDate.After(purchases[j].SaleDate)
	})
	return purchases, nil
}

func (s *Store) ListExpenses(_ context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, 16)
	for _, expense := range s.st.expenses {
		if expense.Date.Before(from) || !expense.Date.Before(to) {
			continue
		}
		expenses = append(expenses, expense)
	}
	sort.Slice(expenses, func(i, j int) bool {
		if expenses[i].Date.Equal(expenses[j].Date) {
			return expenses[i].ID > expenses[j].ID
		}
		return expenses[i].Date.After(expenses[j].Date)
	})
	return expenses, nil
}

func (s *Store) GetExpense(_ context.Context, id string) (*domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expense, ok := s.st.expenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &expense, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return truncate(logs, limit), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func batchesFor(st *state, productID string) []domain.ProductBatch {
	batches := make([]domain.ProductBatch, 0, 4)
	for _, batch := range st.batches {
		if productID == "" || batch.ProductID == productID {
			batches = append(batches, batch)
		}
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].ID < batches[j].ID
	})
	return batches
}

func refundsFor(st *state, saleID string) []domain.Refund {
	refunds := make([]domain.Refund, 0, 4)
	for _, refund := range st.refunds {
		if refund.SaleID == saleID {
			refunds = append(refunds, refund)
		}
	}
	sort.Slice(refunds, func(i, j int) bool {
		if refunds[i].CreatedAt.Equal(refunds[j].CreatedAt) {
			return refunds[i].ID < refunds[j].ID
		}
		return refunds[i].CreatedAt.Before(refunds[j].CreatedAt)
	})
	return refunds
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
