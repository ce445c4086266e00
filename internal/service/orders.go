package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	actor, err := s.authorize(ctx, OpCreateOrder)
	if err != nil {
		return domain.Order{}, err
	}

	if req.OrderType == "" {
		req.OrderType = domain.OrderTypeRetail
	}
	if !req.OrderType.Valid() {
		return domain.Order{}, invalid("order_type must be retail or wholesale")
	}
	if !domain.ValidDiscount(req.DiscountPercent) {
		return domain.Order{}, invalid("discount_percent must be between 0 and 100")
	}
	items, err := normalizeOrderItems(req.Items, true)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:              xid.New("order"),
		UserID:          actor.Username,
		CustomerID:      strings.TrimSpace(req.CustomerID),
		OrderType:       req.OrderType,
		DiscountPercent: req.DiscountPercent,
		Status:          domain.OrderStatusPending,
		Notes:           strings.TrimSpace(req.Notes),
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		if err := checkCustomer(ctx, tx, order.CustomerID); err != nil {
			return err
		}
		if err := checkOrderItems(ctx, tx, order.Items); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_create", "order", order.ID, fmt.Sprintf("type=%s,items=%d", order.OrderType, len(order.Items)))
	return order, nil
}

// ListOrders returns orders visible to the caller. Cashiers and admins see
// every order, anyone else only the orders they created.
func (s *Service) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	actor, err := s.authorize(ctx, OpViewOrders)
	if err != nil {
		return nil, err
	}

	filter := domain.OrderStatus(strings.ToLower(strings.TrimSpace(status)))
	if filter != "" && !filter.Valid() {
		return nil, invalid("unknown order status %q", status)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	userID := ""
	if !Allowed(OpViewAllOrders, actor.Role) {
		userID = actor.Username
	}
	return s.repo.ListOrders(ctx, filter, userID, limit)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	actor, err := s.authorize(ctx, OpViewOrders)
	if err != nil {
		return domain.Order{}, err
	}

	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != actor.Username && !Allowed(OpViewAllOrders, actor.Role) {
		return domain.Order{}, store.ErrNotFound
	}
	return *order, nil
}

func (s *Service) RejectOrder(ctx context.Context, id string, req domain.RejectOrderRequest) (domain.Order, error) {
	actor, err := s.authorize(ctx, OpRejectOrder)
	if err != nil {
		return domain.Order{}, err
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Order{}, invalid("reason is required")
	}

	order, err := s.transitionOrder(ctx, id, domain.OrderStatusRejected, func(order *domain.Order) {
		order.RejectReason = reason
		order.RejectedBy = actor.Username
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_reject", "order", order.ID, "reason="+reason)
	return order, nil
}

// ResendOrder hands a rejected order back for review. Only the status flips;
// the reject reason is kept for reference.
func (s *Service) ResendOrder(ctx context.Context, id string) (domain.Order, error) {
	if _, err := s.authorize(ctx, OpResendOrder); err != nil {
		return domain.Order{}, err
	}

	order, err := s.transitionOrder(ctx, id, domain.OrderStatusUpdated, nil)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_resend", "order", order.ID, "status=updated")
	return order, nil
}

func (s *Service) DeleteRejectedOrder(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, OpDeleteRejected); err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !domain.CanTransition(order.Status, domain.OrderDeleted) {
			return fmt.Errorf("%w: only rejected orders can be deleted, order is %s", store.ErrStateConflict, order.Status)
		}
		return tx.DeleteOrder(ctx, order.ID)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "order_delete_rejected", "order", id, "")
	return nil
}

func (s *Service) UpdateOrder(ctx context.Context, id string, req domain.OrderUpdateRequest) (domain.Order, error) {
	if _, err := s.authorize(ctx, OpUpdateOrder); err != nil {
		return domain.Order{}, err
	}
	return s.patchOrder(ctx, id, req, func(status domain.OrderStatus) bool {
		return status.Editable()
	})
}

func (s *Service) EditRejectedOrder(ctx context.Context, id string, req domain.OrderUpdateRequest) (domain.Order, error) {
	if _, err := s.authorize(ctx, OpEditRejectedOrder); err != nil {
		return domain.Order{}, err
	}
	return s.patchOrder(ctx, id, req, func(status domain.OrderStatus) bool {
		return status == domain.OrderStatusRejected
	})
}

func (s *Service) patchOrder(ctx context.Context, id string, req domain.OrderUpdateRequest, allowed func(domain.OrderStatus) bool) (domain.Order, error) {
	if req.OrderType != nil && !req.OrderType.Valid() {
		return domain.Order{}, invalid("order_type must be retail or wholesale")
	}
	if req.DiscountPercent != nil && !domain.ValidDiscount(*req.DiscountPercent) {
		return domain.Order{}, invalid("discount_percent must be between 0 and 100")
	}
	var items []domain.OrderItem
	if req.Items != nil {
		var err error
		items, err = normalizeOrderItems(req.Items, true)
		if err != nil {
			return domain.Order{}, err
		}
	}

	id = strings.TrimSpace(id)
	var updated domain.Order
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !allowed(order.Status) {
			return fmt.Errorf("%w: order %s cannot be edited", store.ErrStateConflict, order.Status)
		}

		if req.CustomerID != nil {
			order.CustomerID = strings.TrimSpace(*req.CustomerID)
			if err := checkCustomer(ctx, tx, order.CustomerID); err != nil {
				return err
			}
		}
		if req.OrderType != nil {
			order.OrderType = *req.OrderType
		}
		if req.DiscountPercent != nil {
			order.DiscountPercent = *req.DiscountPercent
		}
		if req.Notes != nil {
			order.Notes = strings.TrimSpace(*req.Notes)
		}
		if items != nil {
			if err := checkOrderItems(ctx, tx, items); err != nil {
				return err
			}
			order.Items = items
		}
		order.UpdatedAt = s.now()

		if err := tx.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		updated = *order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_update", "order", updated.ID, fmt.Sprintf("status=%s,items=%d", updated.Status, len(updated.Items)))
	return updated, nil
}

func (s *Service) transitionOrder(ctx context.Context, id string, next domain.OrderStatus, mutate func(*domain.Order)) (domain.Order, error) {
	id = strings.TrimSpace(id)
	var updated domain.Order
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !domain.CanTransition(order.Status, next) {
			return fmt.Errorf("%w: cannot move order from %s to %s", store.ErrStateConflict, order.Status, next)
		}

		order.Status = next
		order.UpdatedAt = s.now()
		if mutate != nil {
			mutate(order)
		}
		if err := tx.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		updated = *order
		return nil
	})
	return updated, err
}

// normalizeOrderItems merges lines naming the same product and batch.
func normalizeOrderItems(items []domain.OrderItem, requireAny bool) ([]domain.OrderItem, error) {
	if requireAny && len(items) == 0 {
		return nil, invalid("at least one item is required")
	}

	merged := make([]domain.OrderItem, 0, len(items))
	index := make(map[[2]string]int, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.BatchID = strings.TrimSpace(item.BatchID)
		if item.ProductID == "" {
			return nil, invalid("product_id is required on every item")
		}
		if item.Quantity < 1 {
			return nil, invalid("quantity must be at least 1 for product %s", item.ProductID)
		}

		key := [2]string{item.ProductID, item.BatchID}
		if at, ok := index[key]; ok {
			if item.Quantity > math.MaxInt-merged[at].Quantity {
				return nil, invalid("quantity too large for product %s", item.ProductID)
			}
			merged[at].Quantity += item.Quantity
			continue
		}
		index[key] = len(merged)
		merged = append(merged, item)
	}
	for _, item := range merged {
		if item.Quantity < 1 {
			return nil, invalid("quantity must be at least 1 for product %s", item.ProductID)
		}
	}
	return merged, nil
}

func checkOrderItems(ctx context.Context, tx store.Tx, items []domain.OrderItem) error {
	for _, item := range items {
		if _, err := tx.LockProduct(ctx, item.ProductID); err != nil {
			return fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		if item.BatchID == "" {
			continue
		}
		batch, err := tx.LockBatch(ctx, item.BatchID)
		if err != nil {
			return fmt.Errorf("batch %s: %w", item.BatchID, err)
		}
		if batch.ProductID != item.ProductID {
			return fmt.Errorf("%w: batch %s does not belong to product %s", store.ErrValidation, item.BatchID, item.ProductID)
		}
	}
	return nil
}
