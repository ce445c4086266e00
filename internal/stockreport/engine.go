package stockreport

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/charlzpiarro/update/internal/cache"
	"github.com/charlzpiarro/update/internal/domain"
)

const DefaultExpiryHorizon = 180 * 24 * time.Hour

// Source is the slice of the repository the summary is computed from.
type Source interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListBatches(ctx context.Context, productID string) ([]domain.ProductBatch, error)
}

type Engine struct {
	source   Source
	cache    cache.InventoryCache
	cacheTTL time.Duration
	horizon  time.Duration
}

func NewEngine(source Source, cacheStore cache.InventoryCache, cacheTTL time.Duration, horizon time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopInventoryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	if horizon <= 0 {
		horizon = DefaultExpiryHorizon
	}

	return &Engine{
		source:   source,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		horizon:  horizon,
	}
}

// Summary returns the inventory summary for the day containing now, served
// from cache when a fresh copy exists.
func (e *Engine) Summary(ctx context.Context, now time.Time) (domain.InventorySummary, error) {
	today := dateOf(now)
	gen, err := e.cache.Generation(ctx)
	cacheable := err == nil
	if err != nil {
		log.Printf("[stockreport] WARN: cache generation read failed: %v", err)
	}

	key := e.cacheKey(gen, today)
	if cacheable {
		if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			return *cached, nil
		} else if err != nil {
			log.Printf("[stockreport] WARN: cache read failed key=%s: %v", key, err)
		}
	}

	products, err := e.source.ListProducts(ctx)
	if err != nil {
		return domain.InventorySummary{}, err
	}
	batches, err := e.source.ListBatches(ctx, "")
	if err != nil {
		return domain.InventorySummary{}, err
	}

	summary := Build(products, batches, today, e.horizon)
	if cacheable {
		if err := e.cache.Set(ctx, key, &summary, e.cacheTTL); err != nil {
			log.Printf("[stockreport] WARN: cache write failed key=%s: %v", key, err)
		}
	}
	return summary, nil
}

// Invalidate moves the cache to a new generation. Summaries built from rows
// read before the bump land under the old generation and are never served.
// Called after every stock movement.
func (e *Engine) Invalidate(ctx context.Context) {
	if err := e.cache.BumpGeneration(ctx); err != nil {
		log.Printf("[stockreport] WARN: cache invalidate failed: %v", err)
	}
}

func (e *Engine) cacheKey(gen int64, today time.Time) string {
	return fmt.Sprintf("inventory:summary:%d:%s:%d", gen, today.Format("2006-01-02"), int(e.horizon.Hours()/24))
}

// Build computes the summary from raw rows. A batch is expired when its expiry
// date is before today and soon-expiring when it falls in [today, today+horizon).
// Only batches with stock on hand are reported.
func Build(products []domain.Product, batches []domain.ProductBatch, today time.Time, horizon time.Duration) domain.InventorySummary {
	today = dateOf(today)
	soonLimit := today.Add(horizon)

	names := make(map[string]string, len(products))
	for _, product := range products {
		names[product.ID] = product.Name
	}

	summary := domain.InventorySummary{
		Date:                today.Format("2006-01-02"),
		ExpiredBatches:      make([]domain.ExpiringBatch, 0),
		SoonExpiringBatches: make([]domain.ExpiringBatch, 0),
		LowStockProducts:    make([]domain.LowStockProduct, 0),
		ExpiredLoss:         decimal.Zero,
	}

	for _, batch := range batches {
		summary.TotalStockQty += batch.Quantity
		if batch.ExpiryDate == nil || batch.Quantity <= 0 {
			continue
		}
		expiry := dateOf(*batch.ExpiryDate)
		row := domain.ExpiringBatch{
			BatchID:     batch.ID,
			BatchCode:   batch.BatchCode,
			ProductID:   batch.ProductID,
			ProductName: names[batch.ProductID],
			ExpiryDate:  expiry,
			Quantity:    batch.Quantity,
			BuyingPrice: batch.BuyingPrice,
		}
		switch {
		case expiry.Before(today):
			summary.ExpiredBatches = append(summary.ExpiredBatches, row)
			summary.ExpiredLoss = summary.ExpiredLoss.Add(batch.BuyingPrice.Mul(decimal.NewFromInt(int64(batch.Quantity))))
		case expiry.Before(soonLimit):
			summary.SoonExpiringBatches = append(summary.SoonExpiringBatches, row)
		}
	}
	summary.ExpiredLoss = domain.RoundMoney(summary.ExpiredLoss)

	for _, product := range products {
		summary.TotalStockQty += product.LooseQuantity
		total := product.TotalStock(batches)
		if total <= product.Threshold {
			summary.LowStockProducts = append(summary.LowStockProducts, domain.LowStockProduct{
				ProductID:  product.ID,
				Name:       product.Name,
				Threshold:  product.Threshold,
				TotalStock: total,
			})
		}
	}

	sortByExpiry(summary.ExpiredBatches)
	sortByExpiry(summary.SoonExpiringBatches)
	sort.Slice(summary.LowStockProducts, func(i, j int) bool {
		return summary.LowStockProducts[i].TotalStock < summary.LowStockProducts[j].TotalStock
	})
	return summary
}

func sortByExpiry(rows []domain.ExpiringBatch) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ExpiryDate.Equal(rows[j].ExpiryDate) {
			return rows[i].BatchID < rows[j].BatchID
		}
		return rows[i].ExpiryDate.Before(rows[j].ExpiryDate)
	})
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
