package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/service"
	"github.com/charlzpiarro/update/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, service.Options{})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// call performs a request with optional bearer token, CSRF token and JSON body.
func call(t *testing.T, api *API, method string, path string, token string, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	var req *http.Request
	if reader != nil {
		req = httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (status %d)", err, rec.Code)
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d (body: %s)", status, rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]string](t, rec)
	if body["kind"] != kind {
		t.Fatalf("expected kind %q, got %q (%s)", kind, body["kind"], body["error"])
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := call(t, api, http.MethodGet, "/healthz", "", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	rec := call(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: "admin", Password: "admin123"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[domain.LoginResponse](t, rec)
	if body.AccessToken == "" || body.Role != domain.RoleAdmin {
		t.Fatalf("expected admin access token, got %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	rec := call(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := call(t, api, http.MethodGet, "/api/v1/products", "", "", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "staff", "staff123")

	rec := call(t, api, http.MethodGet, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		Products []domain.Product `json:"products"`
	}](t, rec)
	if len(body.Products) != 5 {
		t.Fatalf("expected 5 seeded products, got %d", len(body.Products))
	}
	for _, product := range body.Products {
		if len(product.Batches) != 1 {
			t.Fatalf("expected product %s to carry its batch", product.ID)
		}
	}
}

func TestOrderToSaleToRefundOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	staff := loginAs(t, api, "staff", "staff123")
	cashier := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, api, http.MethodPost, "/api/v1/orders", staff, csrf, domain.OrderCreateRequest{
		Items: []domain.OrderItem{{ProductID: "prod-sukari", BatchID: "batch-sukari-01", Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	order := decodeBody[struct {
		Order domain.Order `json:"order"`
	}](t, rec).Order

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/confirm", staff, csrf, map[string]string{"paid_amount": "6400"})
	expectError(t, rec, http.StatusForbidden, "authorization")

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/confirm", cashier, csrf, map[string]string{"paid_amount": "6400"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("confirm: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	sale := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec).Sale
	if sale.PaymentStatus != domain.PaymentStatusPaid || sale.FinalAmount.String() != "6400" {
		t.Fatalf("unexpected sale %+v", sale)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/confirm", cashier, csrf, nil)
	expectError(t, rec, http.StatusBadRequest, "invalid_order_state")

	rec = call(t, api, http.MethodGet, "/api/v1/sales/"+sale.ID, staff, "", nil)
	expectError(t, rec, http.StatusForbidden, "request")

	rec = call(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/refund", cashier, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refund: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	refunded := decodeBody[domain.SaleResponse](t, rec)
	if refunded.Sale.Status != domain.SaleStatusRefunded || len(refunded.Refunds) != 1 {
		t.Fatalf("unexpected refund response %+v", refunded)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/refund", cashier, csrf, nil)
	expectError(t, rec, http.StatusBadRequest, "already_refunded")

	rec = call(t, api, http.MethodGet, "/api/v1/products/prod-sukari", staff, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get product: expected 200, got %d", rec.Code)
	}
	product := decodeBody[struct {
		Product domain.Product `json:"product"`
	}](t, rec).Product
	if len(product.Batches) != 1 || product.Batches[0].Quantity != 120 {
		t.Fatalf("expected batch restored to 120, got %+v", product.Batches)
	}

	rec = call(t, api, http.MethodGet, "/api/v1/stock-entries?product_id=prod-sukari", staff, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stock entries: expected 200, got %d", rec.Code)
	}
	entries := decodeBody[struct {
		Entries []domain.StockEntry `json:"entries"`
	}](t, rec).Entries
	net := 0
	for _, entry := range entries {
		net += entry.Delta()
	}
	if net != 120 {
		t.Fatalf("expected ledger net 120, got %d", net)
	}
}

func TestPayLoanOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, api, http.MethodPost, "/api/v1/orders", cashier, csrf, domain.OrderCreateRequest{
		Items: []domain.OrderItem{{ProductID: "prod-sabuni", BatchID: "batch-sabuni-01", Quantity: 5}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	order := decodeBody[struct {
		Order domain.Order `json:"order"`
	}](t, rec).Order

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/confirm", cashier, csrf, map[string]string{"paid_amount": "1000"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("confirm: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	sale := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec).Sale

	rec = call(t, api, http.MethodPost, "/api/v1/loans/"+sale.ID+"/pay", cashier, csrf, domain.PayLoanRequest{Amount: "-5"})
	expectError(t, rec, http.StatusBadRequest, "validation")

	rec = call(t, api, http.MethodPost, "/api/v1/loans/"+sale.ID+"/pay", cashier, csrf, domain.PayLoanRequest{Amount: "5000.01"})
	expectError(t, rec, http.StatusBadRequest, "overpayment")

	rec = call(t, api, http.MethodPost, "/api/v1/loans/"+sale.ID+"/pay", cashier, csrf, domain.PayLoanRequest{Amount: "5000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pay loan: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	paid := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec).Sale
	if paid.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid status, got %s", paid.PaymentStatus)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/loans/sale-missing/pay", cashier, csrf, domain.PayLoanRequest{Amount: "1"})
	expectError(t, rec, http.StatusNotFound, "not_found")
}

func TestAdminOnlyRoutes(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")
	admin := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, api, http.MethodGet, "/api/v1/audit-logs", cashier, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier to be refused audit logs, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/products/prod-sukari/batches", cashier, csrf, domain.BatchCreateRequest{BatchCode: "LOT-9", Quantity: 5})
	expectError(t, rec, http.StatusForbidden, "authorization")

	rec = call(t, api, http.MethodPost, "/api/v1/products/prod-sukari/batches", admin, csrf, domain.BatchCreateRequest{BatchCode: "SEED-01", Quantity: 5})
	expectError(t, rec, http.StatusBadRequest, "duplicate_batch_code")

	rec = call(t, api, http.MethodPost, "/api/v1/users/cashiers", admin, csrf, domain.CashierCreateRequest{Username: "kasir2", Password: "pass1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodGet, "/api/v1/audit-logs", admin, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit logs: expected 200, got %d", rec.Code)
	}
}

func TestInventorySummaryEndpoint(t *testing.T) {
	api := newTestAPI(t)
	staff := loginAs(t, api, "staff", "staff123")

	rec := call(t, api, http.MethodGet, "/api/v1/inventory/summary", staff, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	summary := decodeBody[domain.InventorySummary](t, rec)
	if summary.TotalStockQty != 510 {
		t.Fatalf("expected seeded stock of 510, got %d", summary.TotalStockQty)
	}
}

func TestMeAndLogout(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, api, http.MethodGet, "/api/v1/auth/me", cashier, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	me := decodeBody[domain.Actor](t, rec)
	if me.Username != "cashier" || me.Role != domain.RoleCashier {
		t.Fatalf("unexpected actor %+v", me)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/auth/logout", cashier, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("logout without csrf: expected 403, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/auth/logout", cashier, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodGet, "/api/v1/auth/me", cashier, "", nil)
	expectError(t, rec, http.StatusUnauthorized, "request")

	fresh := loginAs(t, api, "cashier", "cashier123")
	rec = call(t, api, http.MethodGet, "/api/v1/auth/me", fresh, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("new session: expected 200, got %d", rec.Code)
	}
}

func TestCustomersOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	staff := loginAs(t, api, "staff", "staff123")
	cashier := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, api, http.MethodPost, "/api/v1/customers", staff, csrf, domain.CustomerCreateRequest{Name: "Juma", Email: "juma@"})
	expectError(t, rec, http.StatusBadRequest, "validation")

	rec = call(t, api, http.MethodPost, "/api/v1/customers", cashier, csrf, domain.CustomerCreateRequest{Name: "Juma"})
	expectError(t, rec, http.StatusForbidden, "authorization")

	rec = call(t, api, http.MethodPost, "/api/v1/customers", staff, csrf, domain.CustomerCreateRequest{Name: "Juma", Phone: "0712000111"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	customer := decodeBody[struct {
		Customer domain.Customer `json:"customer"`
	}](t, rec).Customer

	rec = call(t, api, http.MethodPost, "/api/v1/orders", staff, csrf, domain.OrderCreateRequest{
		CustomerID: "cust-missing",
		Items:      []domain.OrderItem{{ProductID: "prod-sukari", BatchID: "batch-sukari-01", Quantity: 1}},
	})
	expectError(t, rec, http.StatusBadRequest, "validation")

	rec = call(t, api, http.MethodPost, "/api/v1/orders", staff, csrf, domain.OrderCreateRequest{
		CustomerID: customer.ID,
		Items:      []domain.OrderItem{{ProductID: "prod-sukari", BatchID: "batch-sukari-01", Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	order := decodeBody[struct {
		Order domain.Order `json:"order"`
	}](t, rec).Order

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/confirm", cashier, csrf, map[string]string{"paid_amount": "6400"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("confirm: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodGet, "/api/v1/customers/"+customer.ID+"/purchases", cashier, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("purchases: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	purchases := decodeBody[struct {
		Purchases []domain.CustomerPurchase `json:"purchases"`
	}](t, rec).Purchases
	if len(purchases) != 1 || purchases[0].Quantity != 2 || purchases[0].ProductID != "prod-sukari" {
		t.Fatalf("unexpected purchases %+v", purchases)
	}

	rec = call(t, api, http.MethodGet, "/api/v1/customers?search=071", staff, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list customers: expected 200, got %d", rec.Code)
	}
	listed := decodeBody[struct {
		Customers []domain.Customer `json:"customers"`
	}](t, rec).Customers
	if len(listed) != 1 || listed[0].ID != customer.ID {
		t.Fatalf("unexpected customer search result %+v", listed)
	}

	rec = call(t, api, http.MethodGet, "/api/v1/customers/cust-missing/purchases", cashier, "", nil)
	expectError(t, rec, http.StatusNotFound, "not_found")
}

func TestExpensesOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	staff := loginAs(t, api, "staff", "staff123")
	cashier := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, api, http.MethodGet, "/api/v1/expenses", staff, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected staff to be refused expenses, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/expenses", cashier, csrf, map[string]string{"category": "transport", "amount": "0"})
	expectError(t, rec, http.StatusBadRequest, "validation")

	rec = call(t, api, http.MethodPost, "/api/v1/expenses", cashier, csrf, map[string]string{"category": "transport", "amount": "12500"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create expense: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	expense := decodeBody[struct {
		Expense domain.Expense `json:"expense"`
	}](t, rec).Expense

	rec = call(t, api, http.MethodGet, "/api/v1/expenses", cashier, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list expenses: expected 200, got %d", rec.Code)
	}
	listed := decodeBody[struct {
		Expenses []domain.Expense `json:"expenses"`
	}](t, rec).Expenses
	if len(listed) != 1 || listed[0].ID != expense.ID || listed[0].RecordedBy != "cashier" {
		t.Fatalf("unexpected expenses %+v", listed)
	}

	rec = call(t, api, http.MethodDelete, "/api/v1/expenses/"+expense.ID, cashier, csrf, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete expense: expected 204, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = call(t, api, http.MethodGet, "/api/v1/expenses/"+expense.ID, cashier, "", nil)
	expectError(t, rec, http.StatusNotFound, "not_found")
}
