package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
)

func TestRunInTxRollsBackOnError(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.RunInTx(ctx, func(tx store.Tx) error {
		batch, err := tx.LockBatch(ctx, "batch-sukari-01")
		if err != nil {
			return err
		}
		batch.Quantity = 1
		batch.Version++
		if err := tx.UpdateBatch(ctx, *batch); err != nil {
			return err
		}
		if err := tx.InsertStockEntry(ctx, domain.StockEntry{ID: "stock-x", ProductID: "prod-sukari", EntryType: domain.StockEntrySold, Quantity: 119}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	batches, _ := repo.ListBatches(ctx, "prod-sukari")
	if len(batches) != 1 || batches[0].Quantity != 120 || batches[0].Version != 1 {
		t.Fatalf("expected batch untouched, got %+v", batches)
	}
	entries, _ := repo.ListStockEntries(ctx, domain.StockEntryFilter{ProductID: "prod-sukari"})
	if len(entries) != 1 {
		t.Fatalf("expected only the seed ledger entry, got %d", len(entries))
	}
}

func TestUpdateBatchVersionCheck(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	err := repo.RunInTx(ctx, func(tx store.Tx) error {
		batch, err := tx.LockBatch(ctx, "batch-mchele-01")
		if err != nil {
			return err
		}
		return tx.UpdateBatch(ctx, *batch)
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected stale version to conflict, got %v", err)
	}

	err = repo.RunInTx(ctx, func(tx store.Tx) error {
		batch, err := tx.LockBatch(ctx, "batch-mchele-01")
		if err != nil {
			return err
		}
		batch.Quantity = -1
		batch.Version++
		return tx.UpdateBatch(ctx, *batch)
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected negative quantity to be refused, got %v", err)
	}
}

func TestInsertSaleIsUniquePerOrder(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	err := repo.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertSale(ctx, domain.Sale{ID: "sale-1", OrderID: "order-1"}); err != nil {
			return err
		}
		return tx.InsertSale(ctx, domain.Sale{ID: "sale-2", OrderID: "order-1"})
	})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected second sale for order to conflict, got %v", err)
	}
	if _, err := repo.GetSale(ctx, "sale-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected rolled back sale to be absent, got %v", err)
	}
}

func TestDeleteBatchDetachesSaleItems(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	batchID := "batch-sabuni-01"

	err := repo.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertSale(ctx, domain.Sale{ID: "sale-1", OrderID: "order-1"}); err != nil {
			return err
		}
		if err := tx.InsertSaleItem(ctx, domain.SaleItem{ID: "item-1", SaleID: "sale-1", ProductID: "prod-sabuni", BatchID: &batchID, Quantity: 1}); err != nil {
			return err
		}
		return tx.DeleteBatch(ctx, batchID)
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	items, _ := repo.ListSaleItems(ctx, "sale-1")
	if len(items) != 1 || items[0].BatchID != nil {
		t.Fatalf("expected sale item batch reference cleared, got %+v", items)
	}
}
