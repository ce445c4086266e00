package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

func (s *Service) ListBatches(ctx context.Context, productID string) ([]domain.ProductBatch, error) {
	if _, err := s.authorize(ctx, OpViewInventory); err != nil {
		return nil, err
	}

	productID = strings.TrimSpace(productID)
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListBatches(ctx, productID)
}

func (s *Service) AddBatch(ctx context.Context, productID string, req domain.BatchCreateRequest) (domain.ProductBatch, error) {
	actor, err := s.authorize(ctx, OpAddBatch)
	if err != nil {
		return domain.ProductBatch{}, err
	}

	req.BatchCode = strings.TrimSpace(req.BatchCode)
	if req.BatchCode == "" {
		return domain.ProductBatch{}, invalid("batch_code is required")
	}
	if req.Quantity <= 0 {
		return domain.ProductBatch{}, invalid("quantity must be greater than zero")
	}
	if err := validatePrices(req.BuyingPrice, req.SellingPrice, req.WholesalePrice); err != nil {
		return domain.ProductBatch{}, err
	}
	expiry, err := parseExpiry(req.ExpiryDate)
	if err != nil {
		return domain.ProductBatch{}, err
	}

	now := s.now()
	batch := domain.ProductBatch{
		ID:             xid.New("batch"),
		ProductID:      strings.TrimSpace(productID),
		BatchCode:      req.BatchCode,
		Quantity:       req.Quantity,
		BuyingPrice:    domain.RoundMoney(req.BuyingPrice),
		SellingPrice:   domain.RoundMoney(req.SellingPrice),
		WholesalePrice: domain.RoundMoney(req.WholesalePrice),
		ExpiryDate:     expiry,
		RecordedBy:     actor.Username,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockProduct(ctx, batch.ProductID); err != nil {
			return err
		}
		exists, err := tx.BatchCodeExists(ctx, batch.ProductID, batch.BatchCode)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", store.ErrDuplicateBatchCode, batch.BatchCode)
		}
		if err := tx.InsertBatch(ctx, batch); err != nil {
			return err
		}
		return tx.InsertStockEntry(ctx, domain.StockEntry{
			ID:         xid.New("stock"),
			ProductID:  batch.ProductID,
			BatchID:    ptr(batch.ID),
			EntryType:  domain.StockEntryAdded,
			Quantity:   batch.Quantity,
			RecordedBy: actor.Username,
			Reference:  "batch-add",
			CreatedAt:  now,
		})
	})
	if err != nil {
		return domain.ProductBatch{}, err
	}

	s.stockChanged(ctx)
	s.logAudit(ctx, "batch_add", "batch", batch.ID, fmt.Sprintf("product=%s,code=%s,qty=%d", batch.ProductID, batch.BatchCode, batch.Quantity))
	return batch, nil
}

func (s *Service) DeleteBatch(ctx context.Context, productID string, batchID string) error {
	actor, err := s.authorize(ctx, OpDeleteBatch)
	if err != nil {
		return err
	}

	productID = strings.TrimSpace(productID)
	batchID = strings.TrimSpace(batchID)
	removed := 0
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		batch, err := lockProductBatch(ctx, tx, productID, batchID)
		if err != nil {
			return err
		}

		removed = batch.Quantity
		if batch.Quantity > 0 {
			if err := tx.InsertStockEntry(ctx, domain.StockEntry{
				ID:         xid.New("stock"),
				ProductID:  batch.ProductID,
				BatchID:    ptr(batch.ID),
				EntryType:  domain.StockEntryDeleted,
				Quantity:   batch.Quantity,
				RecordedBy: actor.Username,
				Reference:  "batch-delete",
				CreatedAt:  s.now(),
			}); err != nil {
				return err
			}
		}
		return tx.DeleteBatch(ctx, batch.ID)
	})
	if err != nil {
		return err
	}

	s.stockChanged(ctx)
	s.logAudit(ctx, "batch_delete", "batch", batchID, fmt.Sprintf("product=%s,removed_qty=%d", productID, removed))
	return nil
}

// EditBatch patches a batch. A quantity change is recorded in the ledger as
// added or deleted for the difference.
func (s *Service) EditBatch(ctx context.Context, productID string, batchID string, req domain.BatchUpdateRequest) (domain.ProductBatch, error) {
	actor, err := s.authorize(ctx, OpEditBatch)
	if err != nil {
		return domain.ProductBatch{}, err
	}

	if req.Quantity != nil && *req.Quantity < 0 {
		return domain.ProductBatch{}, invalid("quantity must not be negative")
	}
	var expiry *time.Time
	if req.ExpiryDate != nil {
		expiry, err = parseExpiry(*req.ExpiryDate)
		if err != nil {
			return domain.ProductBatch{}, err
		}
	}

	productID = strings.TrimSpace(productID)
	batchID = strings.TrimSpace(batchID)
	var updated domain.ProductBatch
	delta := 0
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		current, err := lockProductBatch(ctx, tx, productID, batchID)
		if err != nil {
			return err
		}

		next := *current
		if req.BatchCode != nil {
			code := strings.TrimSpace(*req.BatchCode)
			if code == "" {
				return invalid("batch_code must not be empty")
			}
			if code != current.BatchCode {
				exists, err := tx.BatchCodeExists(ctx, current.ProductID, code)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("%w: %s", store.ErrDuplicateBatchCode, code)
				}
			}
			next.BatchCode = code
		}
		if req.BuyingPrice != nil {
			next.BuyingPrice = domain.RoundMoney(*req.BuyingPrice)
		}
		if req.SellingPrice != nil {
			next.SellingPrice = domain.RoundMoney(*req.SellingPrice)
		}
		if req.WholesalePrice != nil {
			next.WholesalePrice = domain.RoundMoney(*req.WholesalePrice)
		}
		if err := validatePrices(next.BuyingPrice, next.SellingPrice, next.WholesalePrice); err != nil {
			return err
		}
		if req.ExpiryDate != nil {
			next.ExpiryDate = expiry
		}
		if req.Quantity != nil {
			next.Quantity = *req.Quantity
		}
		next.Version = current.Version + 1
		next.UpdatedAt = s.now()

		if err := tx.UpdateBatch(ctx, next); err != nil {
			return err
		}

		delta = next.Quantity - current.Quantity
		if delta != 0 {
			entryType := domain.StockEntryAdded
			qty := delta
			if delta < 0 {
				entryType = domain.StockEntryDeleted
				qty = -delta
			}
			if err := tx.InsertStockEntry(ctx, domain.StockEntry{
				ID:         xid.New("stock"),
				ProductID:  next.ProductID,
				BatchID:    ptr(next.ID),
				EntryType:  entryType,
				Quantity:   qty,
				RecordedBy: actor.Username,
				Reference:  "batch-edit",
				CreatedAt:  next.UpdatedAt,
			}); err != nil {
				return err
			}
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.ProductBatch{}, err
	}

	if delta != 0 {
		s.stockChanged(ctx)
	}
	s.logAudit(ctx, "batch_edit", "batch", updated.ID, fmt.Sprintf("code=%s,qty_delta=%d", updated.BatchCode, delta))
	return updated, nil
}

func lockProductBatch(ctx context.Context, tx store.Tx, productID string, batchID string) (*domain.ProductBatch, error) {
	batch, err := tx.LockBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.ProductID != productID {
		return nil, fmt.Errorf("%w: batch %s does not belong to product %s", store.ErrNotFound, batchID, productID)
	}
	return batch, nil
}

func validatePrices(prices ...decimal.Decimal) error {
	for _, price := range prices {
		if price.IsNegative() {
			return invalid("prices must not be negative")
		}
	}
	return nil
}
