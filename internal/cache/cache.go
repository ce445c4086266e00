package cache

import (
	"context"
	"time"

	"github.com/charlzpiarro/update/internal/domain"
)

// InventoryCache stores summaries under keys that embed a generation number.
// Bumping the generation orphans every summary built before the bump.
type InventoryCache interface {
	Get(ctx context.Context, key string) (*domain.InventorySummary, bool, error)
	Set(ctx context.Context, key string, value *domain.InventorySummary, ttl time.Duration) error
	Generation(ctx context.Context) (int64, error)
	BumpGeneration(ctx context.Context) error
}

type NoopInventoryCache struct{}

func (NoopInventoryCache) Get(_ context.Context, _ string) (*domain.InventorySummary, bool, error) {
	return nil, false, nil
}

func (NoopInventoryCache) Set(_ context.Context, _ string, _ *domain.InventorySummary, _ time.Duration) error {
	return nil
}

func (NoopInventoryCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopInventoryCache) BumpGeneration(_ context.Context) error {
	return nil
}
