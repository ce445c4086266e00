package service

import (
	"context"
	"strings"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
)

// ListSales scopes cashiers to their own sales; admins see all of them.
func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	actor, err := s.authorize(ctx, OpViewSales)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	filter := domain.SaleFilter{Limit: limit}
	if !Allowed(OpViewAllSales, actor.Role) {
		filter.UserID = actor.Username
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleResponse, error) {
	actor, err := s.authorize(ctx, OpViewSales)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if sale.UserID != actor.Username && !Allowed(OpViewAllSales, actor.Role) {
		return domain.SaleResponse{}, store.ErrNotFound
	}

	payments, err := s.repo.ListPayments(ctx, sale.ID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	refunds, err := s.repo.ListRefunds(ctx, sale.ID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return domain.SaleResponse{Sale: *sale, Payments: payments, Refunds: refunds}, nil
}
