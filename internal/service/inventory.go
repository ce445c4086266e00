package service

import (
	"context"
	"strings"
	"time"

	"github.com/charlzpiarro/update/internal/domain"
)

func (s *Service) InventorySummary(ctx context.Context) (domain.InventorySummary, error) {
	if _, err := s.authorize(ctx, OpViewInventory); err != nil {
		return domain.InventorySummary{}, err
	}
	return s.reports.Summary(ctx, s.now())
}

// ListStockEntries reads the ledger newest first. from and to are inclusive
// calendar days; either may be empty.
func (s *Service) ListStockEntries(ctx context.Context, productID string, from string, to string, limit int) ([]domain.StockEntry, error) {
	if _, err := s.authorize(ctx, OpViewStockLedger); err != nil {
		return nil, err
	}

	filter := domain.StockEntryFilter{
		ProductID: strings.TrimSpace(productID),
		Limit:     limit,
	}
	if filter.Limit < 1 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	if strings.TrimSpace(from) != "" {
		day, err := parseDay(from, s.now())
		if err != nil {
			return nil, err
		}
		filter.From = day
	}
	if strings.TrimSpace(to) != "" {
		day, err := parseDay(to, s.now())
		if err != nil {
			return nil, err
		}
		filter.To = day.Add(24 * time.Hour)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, invalid("from must not be after to")
	}
	return s.repo.ListStockEntries(ctx, filter)
}
