package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

func (s *Service) ListCustomers(ctx context.Context, search string, orderBy string, limit int) ([]domain.Customer, error) {
	if _, err := s.authorize(ctx, OpManageCustomers); err != nil {
		return nil, err
	}

	orderBy = strings.TrimPrefix(strings.TrimSpace(orderBy), "-")
	switch orderBy {
	case "", domain.CustomerOrderByName:
		orderBy = domain.CustomerOrderByName
	case domain.CustomerOrderByCreated:
	default:
		return nil, invalid("ordering must be name or created_at")
	}
	if limit < 1 || limit > 500 {
		limit = 200
	}
	return s.repo.ListCustomers(ctx, domain.CustomerFilter{
		Search:  strings.TrimSpace(search),
		OrderBy: orderBy,
		Limit:   limit,
	})
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	if _, err := s.authorize(ctx, OpManageCustomers); err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := s.authorize(ctx, OpManageCustomers); err != nil {
		return domain.Customer{}, err
	}

	now := s.now()
	customer := domain.Customer{
		ID:        xid.New("cust"),
		Name:      strings.TrimSpace(req.Name),
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := validateCustomer(customer); err != nil {
		return domain.Customer{}, err
	}

	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertCustomer(ctx, customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", customer.ID, fmt.Sprintf("name=%s", customer.Name))
	return customer, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	if _, err := s.authorize(ctx, OpManageCustomers); err != nil {
		return domain.Customer{}, err
	}

	id = strings.TrimSpace(id)
	var updated domain.Customer
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		customer, err := tx.LockCustomer(ctx, id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			customer.Name = strings.TrimSpace(*req.Name)
		}
		if req.Phone != nil {
			customer.Phone = strings.TrimSpace(*req.Phone)
		}
		if req.Email != nil {
			customer.Email = strings.TrimSpace(*req.Email)
		}
		if req.Address != nil {
			customer.Address = strings.TrimSpace(*req.Address)
		}
		if err := validateCustomer(*customer); err != nil {
			return err
		}
		customer.UpdatedAt = s.now()
		if err := tx.UpdateCustomer(ctx, *customer); err != nil {
			return err
		}
		updated = *customer
		return nil
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", "customer", updated.ID, fmt.Sprintf("name=%s", updated.Name))
	return updated, nil
}

// DeleteCustomer removes the customer record. Sales keep the customer id they
// were made under.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, OpManageCustomers); err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		return tx.DeleteCustomer(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

// CustomerPurchases lists every sold line on the customer's sales, newest
// sale first.
func (s *Service) CustomerPurchases(ctx context.Context, customerID string) ([]domain.CustomerPurchase, error) {
	if _, err := s.authorize(ctx, OpViewCustomerPurchases); err != nil {
		return nil, err
	}
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return nil, err
	}
	return s.repo.ListCustomerPurchases(ctx, customer.ID)
}

func validateCustomer(customer domain.Customer) error {
	if customer.Name == "" {
		return invalid("name is required")
	}
	if customer.Email != "" {
		if _, err := mail.ParseAddress(customer.Email); err != nil {
			return invalid("email %q is not valid", customer.Email)
		}
	}
	return nil
}

// checkCustomer verifies an order's customer reference inside the unit of
// work. An empty id means a walk-in sale.
func checkCustomer(ctx context.Context, tx store.Tx, customerID string) error {
	if customerID == "" {
		return nil
	}
	if _, err := tx.LockCustomer(ctx, customerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("customer %s does not exist", customerID)
		}
		return err
	}
	return nil
}
