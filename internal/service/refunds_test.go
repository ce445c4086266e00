package service

import (
	"errors"
	"testing"
	"time"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
)

func confirmSale(t *testing.T, svc *Service, batch domain.ProductBatch, qty int, paid string) domain.Sale {
	t.Helper()
	order := createOrder(t, svc, staffCtx, line(batch, qty))
	sale, err := svc.ConfirmOrder(cashierCtx, order.ID, domain.ConfirmOrderRequest{PaidAmount: dec(paid)})
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	return sale
}

func TestRefundSaleRestoresBatchAndLedger(t *testing.T) {
	svc, repo := newTestService(t)
	batch := addBatch(t, svc, "LOT-R", 10)
	sale := confirmSale(t, svc, batch, 6, "6000")

	resp, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{Reason: "damaged"})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	if got := batchQty(t, repo, batch.ProductID, batch.ID); got != 10 {
		t.Fatalf("expected batch restored to 10, got %d", got)
	}
	if net := ledgerNet(t, svc, batch.ProductID, batch.ID); net != 10 {
		t.Fatalf("expected ledger net 10, got %d", net)
	}
	entries, err := svc.ListStockEntries(adminCtx, batch.ProductID, "", "", 100)
	if err != nil {
		t.Fatalf("list stock entries failed: %v", err)
	}
	kinds := map[domain.StockEntryType]int{}
	for _, entry := range entries {
		if entry.Reference == sale.ID {
			kinds[entry.EntryType] += entry.Quantity
		}
	}
	if kinds[domain.StockEntrySold] != 6 || kinds[domain.StockEntryAdded] != 6 || len(kinds) != 2 {
		t.Fatalf("expected sold 6 and added 6 against the sale, got %v", kinds)
	}
	if resp.Sale.Status != domain.SaleStatusRefunded || resp.Sale.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded sale, got %s/%s", resp.Sale.Status, resp.Sale.PaymentStatus)
	}
	if !resp.Sale.RefundTotal.Equal(dec("6000")) {
		t.Fatalf("expected refund total 6000, got %s", resp.Sale.RefundTotal)
	}
	if len(resp.Refunds) != 1 || resp.Refunds[0].Quantity != 6 || resp.Refunds[0].Reason != "damaged" {
		t.Fatalf("unexpected refund rows %+v", resp.Refunds)
	}

	payments, err := repo.ListPayments(t.Context(), sale.ID)
	if err != nil {
		t.Fatalf("list payments failed: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected sale payment and reversal, got %d", len(payments))
	}
	reversal := payments[1]
	if reversal.Method != domain.PaymentMethodRefund || !reversal.Amount.Equal(dec("-6000")) {
		t.Fatalf("expected -6000 refund payment, got %s %s", reversal.Amount, reversal.Method)
	}
}

func TestRefundSaleTwiceIsRejected(t *testing.T) {
	svc, repo := newTestService(t)
	batch := addBatch(t, svc, "LOT-R2", 10)
	sale := confirmSale(t, svc, batch, 6, "6000")

	if _, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{}); err != nil {
		t.Fatalf("first refund failed: %v", err)
	}
	_, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{})
	if !errors.Is(err, store.ErrAlreadyRefunded) {
		t.Fatalf("expected already refunded, got %v", err)
	}
	if got := batchQty(t, repo, batch.ProductID, batch.ID); got != 10 {
		t.Fatalf("expected no double restore, got %d", got)
	}
}

func TestRefundSaleOutsideWindow(t *testing.T) {
	svc, repo := newTestService(t)
	batch := addBatch(t, svc, "LOT-R3", 10)
	sale := confirmSale(t, svc, batch, 6, "6000")

	svc.now = func() time.Time { return testNow.Add(DefaultRefundWindow + time.Minute) }
	_, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{})
	if !errors.Is(err, store.ErrRefundWindowExpired) {
		t.Fatalf("expected refund window expired, got %v", err)
	}
	if got := batchQty(t, repo, batch.ProductID, batch.ID); got != 4 {
		t.Fatalf("expected batch untouched at 4, got %d", got)
	}

	svc.now = func() time.Time { return testNow.Add(DefaultRefundWindow) }
	if _, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{}); err != nil {
		t.Fatalf("expected refund on the last day of the window to succeed, got %v", err)
	}
}

func TestRefundSaleWindowCheckedBeforeRefundedState(t *testing.T) {
	svc, _ := newTestService(t)
	batch := addBatch(t, svc, "LOT-R4", 10)
	sale := confirmSale(t, svc, batch, 2, "2000")
	if _, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{}); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	svc.now = func() time.Time { return testNow.AddDate(0, 3, 0) }
	_, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{})
	if !errors.Is(err, store.ErrRefundWindowExpired) {
		t.Fatalf("expected window error to win, got %v", err)
	}
}

func TestRefundSaleRequiresPayment(t *testing.T) {
	svc, _ := newTestService(t)
	batch := addBatch(t, svc, "LOT-R5", 10)
	sale := confirmSale(t, svc, batch, 3, "0")

	_, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{})
	if !errors.Is(err, store.ErrNothingPaid) {
		t.Fatalf("expected nothing paid, got %v", err)
	}
	if _, err := svc.RefundSale(staffCtx, sale.ID, domain.RefundSaleRequest{}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected staff to be forbidden, got %v", err)
	}
}

func TestPartialRefundLifecycle(t *testing.T) {
	svc, repo := newTestService(t)
	batch := addBatch(t, svc, "LOT-P", 10)
	sale := confirmSale(t, svc, batch, 6, "6000")
	itemID := sale.Items[0].ID

	refund, err := svc.CreateRefund(cashierCtx, domain.RefundCreateRequest{
		SaleID:     sale.ID,
		SaleItemID: itemID,
		Quantity:   2,
		Reason:     "wrong size",
	})
	if err != nil {
		t.Fatalf("create refund failed: %v", err)
	}
	if !refund.RefundAmount.Equal(dec("2000")) {
		t.Fatalf("expected default refund amount 2000, got %s", refund.RefundAmount)
	}
	if got := batchQty(t, repo, batch.ProductID, batch.ID); got != 6 {
		t.Fatalf("expected batch 6 after partial refund, got %d", got)
	}

	_, err = svc.CreateRefund(cashierCtx, domain.RefundCreateRequest{SaleID: sale.ID, SaleItemID: itemID, Quantity: 5})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error past refundable quantity, got %v", err)
	}

	one := 1
	amount := dec("1000")
	updated, err := svc.UpdateRefund(cashierCtx, refund.ID, domain.RefundUpdateRequest{Quantity: &one, RefundAmount: &amount})
	if err != nil {
		t.Fatalf("update refund failed: %v", err)
	}
	if updated.Quantity != 1 {
		t.Fatalf("expected quantity 1, got %d", updated.Quantity)
	}
	if got := batchQty(t, repo, batch.ProductID, batch.ID); got != 5 {
		t.Fatalf("expected batch 5 after shrinking refund, got %d", got)
	}
	current, err := repo.GetSale(t.Context(), sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if !current.RefundTotal.Equal(dec("1000")) {
		t.Fatalf("expected refund total 1000, got %s", current.RefundTotal)
	}

	if err := svc.DeleteRefund(cashierCtx, refund.ID); err != nil {
		t.Fatalf("delete refund failed: %v", err)
	}
	if got := batchQty(t, repo, batch.ProductID, batch.ID); got != 4 {
		t.Fatalf("expected batch back at 4, got %d", got)
	}

	resp, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{})
	if err != nil {
		t.Fatalf("full refund failed: %v", err)
	}
	if got := batchQty(t, repo, batch.ProductID, batch.ID); got != 10 {
		t.Fatalf("expected batch 10 after full refund, got %d", got)
	}
	if net := ledgerNet(t, svc, batch.ProductID, batch.ID); net != 10 {
		t.Fatalf("expected ledger net 10, got %d", net)
	}
	if !resp.Sale.RefundTotal.Equal(dec("6000")) {
		t.Fatalf("expected refund total 6000, got %s", resp.Sale.RefundTotal)
	}

	_, err = svc.CreateRefund(cashierCtx, domain.RefundCreateRequest{SaleID: sale.ID, SaleItemID: itemID, Quantity: 1})
	if !errors.Is(err, store.ErrAlreadyRefunded) {
		t.Fatalf("expected per-item refund on refunded sale to fail, got %v", err)
	}
}

func TestRefundSaleOnlyReturnsUnrefundedUnits(t *testing.T) {
	svc, repo := newTestService(t)
	batch := addBatch(t, svc, "LOT-P2", 10)
	sale := confirmSale(t, svc, batch, 6, "6000")

	if _, err := svc.CreateRefund(cashierCtx, domain.RefundCreateRequest{
		SaleID:     sale.ID,
		SaleItemID: sale.Items[0].ID,
		Quantity:   4,
	}); err != nil {
		t.Fatalf("create refund failed: %v", err)
	}

	resp, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if len(resp.Refunds) != 1 || resp.Refunds[0].Quantity != 2 {
		t.Fatalf("expected a single refund row of 2 units, got %+v", resp.Refunds)
	}
	if got := batchQty(t, repo, batch.ProductID, batch.ID); got != 10 {
		t.Fatalf("expected batch 10, got %d", got)
	}
}

func TestRefundAfterBatchDeletedCreditsLooseStock(t *testing.T) {
	svc, repo := newTestService(t)
	batch := addBatch(t, svc, "LOT-GONE", 10)
	sale := confirmSale(t, svc, batch, 3, "3000")

	if err := svc.DeleteBatch(adminCtx, batch.ProductID, batch.ID); err != nil {
		t.Fatalf("delete batch failed: %v", err)
	}
	resp, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if resp.Refunds[0].BatchID != nil {
		t.Fatalf("expected refund without batch, got %s", *resp.Refunds[0].BatchID)
	}

	product, err := repo.GetProduct(t.Context(), batch.ProductID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.LooseQuantity != 3 {
		t.Fatalf("expected 3 loose units, got %d", product.LooseQuantity)
	}
}

func TestDeleteProductRecordsLooseStock(t *testing.T) {
	svc, _ := newTestService(t)
	batch := addBatch(t, svc, "LOT-LOOSE", 10)
	sale := confirmSale(t, svc, batch, 3, "3000")

	if err := svc.DeleteBatch(adminCtx, batch.ProductID, batch.ID); err != nil {
		t.Fatalf("delete batch failed: %v", err)
	}
	if _, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{}); err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if err := svc.DeleteProduct(adminCtx, batch.ProductID); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}

	entries, err := svc.ListStockEntries(adminCtx, batch.ProductID, "", "", 1000)
	if err != nil {
		t.Fatalf("list stock entries failed: %v", err)
	}
	for _, entry := range entries {
		if entry.EntryType == domain.StockEntryDeleted && entry.BatchID == nil {
			if entry.Quantity != 3 {
				t.Fatalf("expected 3 loose units deleted, got %d", entry.Quantity)
			}
			return
		}
	}
	t.Fatalf("expected a deleted entry for loose stock, got %+v", entries)
}

func TestRefundAfterProductDeletedSkipsRestock(t *testing.T) {
	svc, _ := newTestService(t)
	batch := addBatch(t, svc, "LOT-DROP", 10)
	sale := confirmSale(t, svc, batch, 4, "4000")

	if err := svc.DeleteProduct(adminCtx, batch.ProductID); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}
	resp, err := svc.RefundSale(cashierCtx, sale.ID, domain.RefundSaleRequest{})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if resp.Sale.Status != domain.SaleStatusRefunded || len(resp.Refunds) != 1 || resp.Refunds[0].BatchID != nil {
		t.Fatalf("unexpected refund response %+v", resp)
	}

	entries, err := svc.ListStockEntries(adminCtx, batch.ProductID, "", "", 1000)
	if err != nil {
		t.Fatalf("list stock entries failed: %v", err)
	}
	for _, entry := range entries {
		if entry.Reference == sale.ID && entry.EntryType == domain.StockEntryAdded {
			t.Fatalf("expected no restock entry for a deleted product, got %+v", entry)
		}
	}
}
