package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/service"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/store/postgres"
)

func openStore(t *testing.T) *postgres.Store {
	t.Helper()
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := postgres.New(ctx, databaseURL, postgres.Options{LockTimeout: 2 * time.Second, RetryAttempts: 3})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func adminCtx() context.Context {
	return service.WithActor(context.Background(), domain.Actor{Username: "it-admin", Role: domain.RoleAdmin})
}

func seedBatch(t *testing.T, svc *service.Service, qty int) (domain.Product, domain.ProductBatch) {
	t.Helper()
	ctx := adminCtx()
	stamp := time.Now().UnixNano()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: fmt.Sprintf("IT product %d", stamp), Category: "it"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.DeleteProduct(adminCtx(), product.ID)
	})

	batch, err := svc.AddBatch(ctx, product.ID, domain.BatchCreateRequest{
		BatchCode:    fmt.Sprintf("IT-%d", stamp),
		Quantity:     qty,
		BuyingPrice:  decimal.NewFromInt(800),
		SellingPrice: decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("add batch: %v", err)
	}
	return product, batch
}

func createOrder(t *testing.T, svc *service.Service, product domain.Product, batch domain.ProductBatch, qty int) domain.Order {
	t.Helper()
	order, err := svc.CreateOrder(adminCtx(), domain.OrderCreateRequest{
		OrderType: domain.OrderTypeRetail,
		Items:     []domain.OrderItem{{ProductID: product.ID, BatchID: batch.ID, Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func batchQty(t *testing.T, s *postgres.Store, productID string, batchID string) int {
	t.Helper()
	batches, err := s.ListBatches(context.Background(), productID)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	for _, batch := range batches {
		if batch.ID == batchID {
			return batch.Quantity
		}
	}
	t.Fatalf("batch %s not found", batchID)
	return 0
}

func TestConfirmThenRefundRestoresBatch(t *testing.T) {
	s := openStore(t)
	svc := service.New(s, nil, service.Options{})
	product, batch := seedBatch(t, svc, 10)
	order := createOrder(t, svc, product, batch, 6)

	sale, err := svc.ConfirmOrder(adminCtx(), order.ID, domain.ConfirmOrderRequest{PaidAmount: decimal.NewFromInt(6000)})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := batchQty(t, s, product.ID, batch.ID); got != 4 {
		t.Fatalf("expected batch qty 4 after confirm, got %d", got)
	}

	resp, err := svc.RefundSale(adminCtx(), sale.ID, domain.RefundSaleRequest{Reason: "integration"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if resp.Sale.Status != domain.SaleStatusRefunded {
		t.Fatalf("expected refunded sale, got %s", resp.Sale.Status)
	}
	if got := batchQty(t, s, product.ID, batch.ID); got != 10 {
		t.Fatalf("expected batch qty 10 after refund, got %d", got)
	}

	entries, err := s.ListStockEntries(context.Background(), domain.StockEntryFilter{ProductID: product.ID, Limit: 10})
	if err != nil {
		t.Fatalf("list stock entries: %v", err)
	}
	net := 0
	for _, entry := range entries {
		net += entry.Delta()
	}
	if net != 10 {
		t.Fatalf("expected ledger net 10, got %d", net)
	}
}

func TestConcurrentConfirmationsNeverOversell(t *testing.T) {
	s := openStore(t)
	svc := service.New(s, nil, service.Options{})
	product, batch := seedBatch(t, svc, 10)
	first := createOrder(t, svc, product, batch, 6)
	second := createOrder(t, svc, product, batch, 6)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, order := range []domain.Order{first, second} {
		wg.Add(1)
		go func(i int, orderID string) {
			defer wg.Done()
			_, errs[i] = svc.ConfirmOrder(adminCtx(), orderID, domain.ConfirmOrderRequest{})
		}(i, order.ID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one confirmation to succeed, got %d", succeeded)
	}
	if got := batchQty(t, s, product.ID, batch.ID); got != 4 {
		t.Fatalf("expected batch qty 4, got %d", got)
	}
}
