package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	Threshold     int            `json:"threshold"`
	LooseQuantity int            `json:"loose_quantity"`
	CreatedAt     time.Time      `json:"created_at"`
	Batches       []ProductBatch `json:"batches,omitempty"`
}

// TotalStock is derived from the batch table plus any un-batched remainder.
func (p Product) TotalStock(batches []ProductBatch) int {
	total := p.LooseQuantity
	for _, batch := range batches {
		if batch.ProductID == p.ID {
			total += batch.Quantity
		}
	}
	return total
}

type ProductCreateRequest struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	Threshold int    `json:"threshold"`
}

type ProductBatch struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	BatchCode      string          `json:"batch_code"`
	Quantity       int             `json:"quantity"`
	BuyingPrice    decimal.Decimal `json:"buying_price"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`
	RecordedBy     string          `json:"recorded_by"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PriceFor returns the unit price a sale of the given type snapshots.
func (b ProductBatch) PriceFor(orderType OrderType) decimal.Decimal {
	if orderType == OrderTypeWholesale && b.WholesalePrice.IsPositive() {
		return b.WholesalePrice
	}
	return b.SellingPrice
}

type BatchCreateRequest struct {
	BatchCode      string          `json:"batch_code"`
	Quantity       int             `json:"quantity"`
	BuyingPrice    decimal.Decimal `json:"buying_price"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	ExpiryDate     string          `json:"expiry_date,omitempty"`
}

type BatchUpdateRequest struct {
	BatchCode      *string          `json:"batch_code,omitempty"`
	Quantity       *int             `json:"quantity,omitempty"`
	BuyingPrice    *decimal.Decimal `json:"buying_price,omitempty"`
	SellingPrice   *decimal.Decimal `json:"selling_price,omitempty"`
	WholesalePrice *decimal.Decimal `json:"wholesale_price,omitempty"`
	ExpiryDate     *string          `json:"expiry_date,omitempty"`
}

type StockEntryType string

const (
	StockEntryAdded   StockEntryType = "added"
	StockEntryDeleted StockEntryType = "deleted"
	StockEntrySold    StockEntryType = "sold"
)

// StockEntry is an immutable ledger row. Quantity is the magnitude of the
// movement; EntryType carries the direction.
type StockEntry struct {
	ID         string         `json:"id"`
	ProductID  string         `json:"product_id"`
	BatchID    *string        `json:"batch_id,omitempty"`
	EntryType  StockEntryType `json:"entry_type"`
	Quantity   int            `json:"quantity"`
	RecordedBy string         `json:"recorded_by"`
	Reference  string         `json:"reference,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Delta is the signed effect of the entry on stock on hand.
func (e StockEntry) Delta() int {
	switch e.EntryType {
	case StockEntrySold, StockEntryDeleted:
		return -e.Quantity
	default:
		return e.Quantity
	}
}

type StockEntryFilter struct {
	ProductID string
	From      time.Time
	To        time.Time
	Limit     int
}

type OrderType string

const (
	OrderTypeRetail    OrderType = "retail"
	OrderTypeWholesale OrderType = "wholesale"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeRetail || t == OrderTypeWholesale
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	BatchID   string `json:"batch_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	CustomerID      string          `json:"customer_id,omitempty"`
	OrderType       OrderType       `json:"order_type"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Status          OrderStatus     `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	RejectReason    string          `json:"reject_reason,omitempty"`
	RejectedBy      string          `json:"rejected_by,omitempty"`
	SaleID          string          `json:"sale_id,omitempty"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderCreateRequest struct {
	CustomerID      string          `json:"customer_id,omitempty"`
	OrderType       OrderType       `json:"order_type"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Notes           string          `json:"notes"`
	Items           []OrderItem     `json:"items"`
}

type OrderUpdateRequest struct {
	CustomerID      *string          `json:"customer_id,omitempty"`
	OrderType       *OrderType       `json:"order_type,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	Items           []OrderItem      `json:"items,omitempty"`
}

type RejectOrderRequest struct {
	Reason string `json:"reason"`
}

type ConfirmOrderRequest struct {
	Items         []OrderItem     `json:"items,omitempty"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaymentMethod string          `json:"payment_method"`
}

type SaleStatus string

const (
	SaleStatusConfirmed SaleStatus = "confirmed"
	SaleStatusRefunded  SaleStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPartial  PaymentStatus = "partial"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type Sale struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	UserID        string          `json:"user_id"`
	SaleType      OrderType       `json:"sale_type"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	FinalAmount   decimal.Decimal `json:"final_amount"`
	Status        SaleStatus      `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	IsLoan        bool            `json:"is_loan"`
	RefundTotal   decimal.Decimal `json:"refund_total"`
	Date          time.Time       `json:"date"`
	Version       int64           `json:"version"`
	Items         []SaleItem      `json:"items,omitempty"`
}

// Outstanding reports whether the sale still counts as an open loan.
func (s Sale) Outstanding() bool {
	return s.IsLoan && s.Status != SaleStatusRefunded && s.PaymentStatus != PaymentStatusPaid
}

func (s Sale) Remaining() decimal.Decimal {
	return s.FinalAmount.Sub(s.PaidAmount)
}

type SaleItem struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	ProductID    string          `json:"product_id"`
	BatchID      *string         `json:"batch_id,omitempty"`
	Quantity     int             `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

func (i SaleItem) LineTotal() decimal.Decimal {
	return i.PricePerUnit.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type SaleFilter struct {
	UserID string
	Limit  int
}

type Payment struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	Amount    decimal.Decimal `json:"amount_paid"`
	Method    string          `json:"payment_method"`
	CashierID string          `json:"cashier"`
	CreatedAt time.Time       `json:"created_at"`
}

const PaymentMethodRefund = "refund"

type PayLoanRequest struct {
	Amount string `json:"amount"`
	Method string `json:"payment_method"`
}

type Refund struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	SaleItemID   string          `json:"sale_item_id"`
	ProductID    string          `json:"product_id"`
	BatchID      *string         `json:"batch_id,omitempty"`
	Quantity     int             `json:"quantity"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	RefundedBy   string          `json:"refunded_by"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type RefundSaleRequest struct {
	Reason string `json:"reason"`
}

type RefundCreateRequest struct {
	SaleID       string          `json:"sale_id"`
	SaleItemID   string          `json:"sale_item_id"`
	Quantity     int             `json:"quantity"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Reason       string          `json:"reason"`
}

type RefundUpdateRequest struct {
	Quantity     *int             `json:"quantity,omitempty"`
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty"`
	Reason       *string          `json:"reason,omitempty"`
}

type SaleResponse struct {
	Sale     Sale      `json:"sale"`
	Payments []Payment `json:"payments,omitempty"`
	Refunds  []Refund  `json:"refunds,omitempty"`
}

type ExpiringBatch struct {
	BatchID     string          `json:"batch_id"`
	BatchCode   string          `json:"batch_code"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	ExpiryDate  time.Time       `json:"expiry_date"`
	Quantity    int             `json:"quantity"`
	BuyingPrice decimal.Decimal `json:"buying_price"`
}

type LowStockProduct struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Threshold  int    `json:"threshold"`
	TotalStock int    `json:"total_stock"`
}

type InventorySummary struct {
	Date                string            `json:"date"`
	TotalStockQty       int               `json:"total_stock_qty"`
	ExpiredBatches      []ExpiringBatch   `json:"expired_batches"`
	SoonExpiringBatches []ExpiringBatch   `json:"soon_expiring_batches"`
	LowStockProducts    []LowStockProduct `json:"low_stock_products"`
	ExpiredLoss         decimal.Decimal   `json:"expired_loss"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Email   *string `json:"email,omitempty"`
	Address *string `json:"address,omitempty"`
}

// CustomerFilter searches name, phone and email case-insensitively.
type CustomerFilter struct {
	Search  string
	OrderBy string
	Limit   int
}

const (
	CustomerOrderByName    = "name"
	CustomerOrderByCreated = "created_at"
)

// CustomerPurchase is one sold line attributed to a customer.
type CustomerPurchase struct {
	SaleItem
	SaleDate   time.Time  `json:"sale_date"`
	SaleStatus SaleStatus `json:"sale_status"`
}

// Expense is a cash outflow that is not a stock purchase. It does not touch
// sales or the stock ledger.
type Expense struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	RecordedBy  string          `json:"recorded_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date,omitempty"`
}

type ExpenseUpdateRequest struct {
	Category    *string          `json:"category,omitempty"`
	Description *string          `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Date        *string          `json:"date,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

const (
	RoleCashier = "cashier"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"
)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
