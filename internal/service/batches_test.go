package service

import (
	"errors"
	"testing"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
)

func TestAddBatchWritesLedgerAndRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	batch := addBatch(t, svc, "LOT-1", 25)

	if batch.Version != 1 || batch.RecordedBy != "admin" {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if net := ledgerNet(t, svc, batch.ProductID, batch.ID); net != 25 {
		t.Fatalf("expected ledger net 25, got %d", net)
	}

	_, err := svc.AddBatch(adminCtx, "prod-sukari", domain.BatchCreateRequest{BatchCode: "LOT-1", Quantity: 5})
	if !errors.Is(err, store.ErrDuplicateBatchCode) {
		t.Fatalf("expected duplicate batch code, got %v", err)
	}
	if _, err := svc.AddBatch(adminCtx, "prod-mchele", domain.BatchCreateRequest{BatchCode: "LOT-1", Quantity: 5}); err != nil {
		t.Fatalf("expected same code on another product to be allowed, got %v", err)
	}

	invalidReqs := []domain.BatchCreateRequest{
		{BatchCode: "", Quantity: 5},
		{BatchCode: "LOT-2", Quantity: 0},
		{BatchCode: "LOT-2", Quantity: 5, SellingPrice: dec("-1")},
		{BatchCode: "LOT-2", Quantity: 5, ExpiryDate: "31/01/2027"},
	}
	for _, req := range invalidReqs {
		if _, err := svc.AddBatch(adminCtx, "prod-sukari", req); !errors.Is(err, store.ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", req, err)
		}
	}

	if _, err := svc.AddBatch(cashierCtx, "prod-sukari", domain.BatchCreateRequest{BatchCode: "LOT-3", Quantity: 5}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cashier to be forbidden, got %v", err)
	}
}

func TestEditBatchRecordsQuantityDelta(t *testing.T) {
	svc, repo := newTestService(t)
	batch := addBatch(t, svc, "LOT-E1", 10)

	up := 15
	edited, err := svc.EditBatch(adminCtx, batch.ProductID, batch.ID, domain.BatchUpdateRequest{Quantity: &up})
	if err != nil {
		t.Fatalf("edit batch failed: %v", err)
	}
	if edited.Version != 2 {
		t.Fatalf("expected version 2, got %d", edited.Version)
	}

	down := 12
	price := dec("1100")
	if _, err := svc.EditBatch(adminCtx, batch.ProductID, batch.ID, domain.BatchUpdateRequest{Quantity: &down, SellingPrice: &price}); err != nil {
		t.Fatalf("edit batch failed: %v", err)
	}

	entries, err := svc.ListStockEntries(adminCtx, batch.ProductID, "", "", 100)
	if err != nil {
		t.Fatalf("list stock entries failed: %v", err)
	}
	var edits []domain.StockEntry
	for _, entry := range entries {
		if entry.Reference == "batch-edit" {
			edits = append(edits, entry)
		}
	}
	if len(edits) != 2 {
		t.Fatalf("expected 2 batch-edit entries, got %d", len(edits))
	}
	if edits[0].EntryType != domain.StockEntryDeleted || edits[0].Quantity != 3 {
		t.Fatalf("expected newest entry deleted 3, got %s %d", edits[0].EntryType, edits[0].Quantity)
	}
	if edits[1].EntryType != domain.StockEntryAdded || edits[1].Quantity != 5 {
		t.Fatalf("expected oldest entry added 5, got %s %d", edits[1].EntryType, edits[1].Quantity)
	}
	if net := ledgerNet(t, svc, batch.ProductID, batch.ID); net != batchQty(t, repo, batch.ProductID, batch.ID) {
		t.Fatalf("expected ledger net to match batch quantity")
	}

	code := "SEED-01"
	if _, err := svc.EditBatch(adminCtx, batch.ProductID, batch.ID, domain.BatchUpdateRequest{BatchCode: &code}); !errors.Is(err, store.ErrDuplicateBatchCode) {
		t.Fatalf("expected rename onto existing code to fail, got %v", err)
	}
	if _, err := svc.EditBatch(adminCtx, "prod-mchele", batch.ID, domain.BatchUpdateRequest{Quantity: &up}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected batch under wrong product to be not found, got %v", err)
	}
}

func TestDeleteBatchAndProductWriteLedger(t *testing.T) {
	svc, repo := newTestService(t)
	batch := addBatch(t, svc, "LOT-X", 7)

	if err := svc.DeleteBatch(adminCtx, batch.ProductID, batch.ID); err != nil {
		t.Fatalf("delete batch failed: %v", err)
	}
	if net := ledgerNet(t, svc, batch.ProductID, batch.ID); net != 0 {
		t.Fatalf("expected ledger net 0 after delete, got %d", net)
	}

	if err := svc.DeleteProduct(adminCtx, "prod-mchele"); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}
	if _, err := repo.GetProduct(t.Context(), "prod-mchele"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected product gone, got %v", err)
	}
	if net := ledgerNet(t, svc, "prod-mchele", "batch-mchele-01"); net != 0 {
		t.Fatalf("expected seed batch ledger to net to 0, got %d", net)
	}
}

func TestCreateProductAndInventorySummary(t *testing.T) {
	svc, _ := newTestService(t)

	product, err := svc.CreateProduct(adminCtx, domain.ProductCreateRequest{Name: "Chumvi 1kg", Category: "grocery", Threshold: 5})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if _, err := svc.CreateProduct(adminCtx, domain.ProductCreateRequest{Name: " "}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected name to be required, got %v", err)
	}

	summary, err := svc.InventorySummary(staffCtx)
	if err != nil {
		t.Fatalf("inventory summary failed: %v", err)
	}
	found := false
	for _, low := range summary.LowStockProducts {
		if low.ProductID == product.ID && low.TotalStock == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected new empty product to be reported as low stock")
	}
	if summary.TotalStockQty != 120+40+60+200+90 {
		t.Fatalf("unexpected total stock %d", summary.TotalStockQty)
	}
}

func TestListStockEntriesDateFilter(t *testing.T) {
	svc, _ := newTestService(t)
	addBatch(t, svc, "LOT-F", 4)

	day := testNow.Format("2006-01-02")
	entries, err := svc.ListStockEntries(staffCtx, "prod-sukari", day, day, 100)
	if err != nil {
		t.Fatalf("list stock entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Reference != "batch-add" {
		t.Fatalf("expected only the batch-add entry for the day, got %d", len(entries))
	}

	if _, err := svc.ListStockEntries(staffCtx, "", "2026-03-15", "2026-03-14", 10); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected inverted range to be rejected, got %v", err)
	}
	if _, err := svc.ListStockEntries(staffCtx, "", "yesterday", "", 10); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected bad date to be rejected, got %v", err)
	}
}
