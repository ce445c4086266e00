package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := s.authorize(ctx, OpViewInventory); err != nil {
		return nil, err
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	batches, err := s.repo.ListBatches(ctx, "")
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string][]domain.ProductBatch, len(products))
	for _, batch := range batches {
		byProduct[batch.ProductID] = append(byProduct[batch.ProductID], batch)
	}
	for i := range products {
		products[i].Batches = byProduct[products[i].ID]
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := s.authorize(ctx, OpViewInventory); err != nil {
		return domain.Product{}, err
	}

	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	batches, err := s.repo.ListBatches(ctx, product.ID)
	if err != nil {
		return domain.Product{}, err
	}
	product.Batches = batches
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := s.authorize(ctx, OpCreateProduct); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Product{}, invalid("name is required")
	}
	if req.Threshold < 0 {
		return domain.Product{}, invalid("threshold must not be negative")
	}

	product := domain.Product{
		ID:        xid.New("prod"),
		Name:      req.Name,
		Category:  req.Category,
		Threshold: req.Threshold,
		CreatedAt: s.now(),
	}
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.stockChanged(ctx)
	s.logAudit(ctx, "product_create", "product", product.ID, fmt.Sprintf("name=%s,category=%s,threshold=%d", product.Name, product.Category, product.Threshold))
	return product, nil
}

// DeleteProduct writes deleted ledger entries for whatever stock is left,
// batched or loose, before removing the product.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, err := s.authorize(ctx, OpDeleteProduct)
	if err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	removed := 0
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		product, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		batches, err := tx.LockBatchesForProduct(ctx, product.ID)
		if err != nil {
			return err
		}

		removed = 0
		now := s.now()
		for _, batch := range batches {
			if batch.Quantity <= 0 {
				continue
			}
			removed += batch.Quantity
			if err := tx.InsertStockEntry(ctx, domain.StockEntry{
				ID:         xid.New("stock"),
				ProductID:  product.ID,
				BatchID:    ptr(batch.ID),
				EntryType:  domain.StockEntryDeleted,
				Quantity:   batch.Quantity,
				RecordedBy: actor.Username,
				Reference:  "product-delete",
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}
		if product.LooseQuantity > 0 {
			removed += product.LooseQuantity
			if err := tx.InsertStockEntry(ctx, domain.StockEntry{
				ID:         xid.New("stock"),
				ProductID:  product.ID,
				EntryType:  domain.StockEntryDeleted,
				Quantity:   product.LooseQuantity,
				RecordedBy: actor.Username,
				Reference:  "product-delete",
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}
		return tx.DeleteProduct(ctx, product.ID)
	})
	if err != nil {
		return err
	}

	s.stockChanged(ctx)
	s.logAudit(ctx, "product_delete", "product", id, fmt.Sprintf("removed_qty=%d", removed))
	return nil
}
