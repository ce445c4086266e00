package store

import (
	"context"
	"errors"
	"time"

	"github.com/charlzpiarro/update/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrForbidden           = errors.New("forbidden")
	ErrStateConflict       = errors.New("illegal state transition")
	ErrInvalidOrderState   = errors.New("order is not awaiting confirmation")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrDuplicateBatchCode  = errors.New("batch code already exists for product")
	ErrRefundWindowExpired = errors.New("refund window expired")
	ErrAlreadyRefunded     = errors.New("sale already refunded")
	ErrNothingPaid         = errors.New("sale was not paid")
	ErrOverpayment         = errors.New("payment exceeds remaining balance")
	ErrConflict            = errors.New("concurrent update conflict")
)

// Repository is the read side plus the transaction entry point. Every
// state-changing operation goes through RunInTx so reads and writes of batch
// quantities and sale counters happen under one lock scope.
type Repository interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListBatches(ctx context.Context, productID string) ([]domain.ProductBatch, error)
	ListOrders(ctx context.Context, status domain.OrderStatus, userID string, limit int) ([]domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	ListLoans(ctx context.Context, limit int) ([]domain.Sale, error)
	ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error)
	ListPayments(ctx context.Context, saleID string) ([]domain.Payment, error)
	ListRefunds(ctx context.Context, saleID string) ([]domain.Refund, error)
	ListStockEntries(ctx context.Context, filter domain.StockEntryFilter) ([]domain.StockEntry, error)
	ListCustomers(ctx context.Context, filter domain.CustomerFilter) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomerPurchases(ctx context.Context, customerID string) ([]domain.CustomerPurchase, error)
	// ListExpenses returns expenses dated in [from, to), newest first.
	ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error)
	GetExpense(ctx context.Context, id string) (*domain.Expense, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is a unit of work. The Lock* getters take row locks that are held until
// the surrounding RunInTx commits or rolls back.
type Tx interface {
	InsertProduct(ctx context.Context, product domain.Product) error
	LockProduct(ctx context.Context, id string) (*domain.Product, error)
	UpdateProductLooseQuantity(ctx context.Context, id string, qty int) error
	DeleteProduct(ctx context.Context, id string) error

	LockBatch(ctx context.Context, id string) (*domain.ProductBatch, error)
	LockBatchesForProduct(ctx context.Context, productID string) ([]domain.ProductBatch, error)
	BatchCodeExists(ctx context.Context, productID string, code string) (bool, error)
	InsertBatch(ctx context.Context, batch domain.ProductBatch) error
	// UpdateBatch persists batch if its stored version still equals
	// batch.Version-1; otherwise it returns ErrConflict.
	UpdateBatch(ctx context.Context, batch domain.ProductBatch) error
	DeleteBatch(ctx context.Context, id string) error

	InsertOrder(ctx context.Context, order domain.Order) error
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) error
	DeleteOrder(ctx context.Context, id string) error

	InsertSale(ctx context.Context, sale domain.Sale) error
	LockSale(ctx context.Context, id string) (*domain.Sale, error)
	// UpdateSale follows the same version contract as UpdateBatch.
	UpdateSale(ctx context.Context, sale domain.Sale) error
	InsertSaleItem(ctx context.Context, item domain.SaleItem) error
	ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error)

	InsertPayment(ctx context.Context, payment domain.Payment) error
	InsertStockEntry(ctx context.Context, entry domain.StockEntry) error

	InsertRefund(ctx context.Context, refund domain.Refund) error
	LockRefund(ctx context.Context, id string) (*domain.Refund, error)
	UpdateRefund(ctx context.Context, refund domain.Refund) error
	DeleteRefund(ctx context.Context, id string) error
	ListRefunds(ctx context.Context, saleID string) ([]domain.Refund, error)

	InsertCustomer(ctx context.Context, customer domain.Customer) error
	LockCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) error
	DeleteCustomer(ctx context.Context, id string) error

	InsertExpense(ctx context.Context, expense domain.Expense) error
	LockExpense(ctx context.Context, id string) (*domain.Expense, error)
	UpdateExpense(ctx context.Context, expense domain.Expense) error
	DeleteExpense(ctx context.Context, id string) error
}

// KindOf maps an error to a stable machine-readable kind.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "authorization"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrDuplicateBatchCode):
		return "duplicate_batch_code"
	case errors.Is(err, ErrRefundWindowExpired):
		return "refund_window_expired"
	case errors.Is(err, ErrAlreadyRefunded):
		return "already_refunded"
	case errors.Is(err, ErrNothingPaid):
		return "nothing_paid"
	case errors.Is(err, ErrOverpayment):
		return "overpayment"
	case errors.Is(err, ErrInvalidOrderState):
		return "invalid_order_state"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
