package service

import (
	"context"
	"fmt"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/store"
)

type Operation string

const (
	OpCreateProduct         Operation = "product.create"
	OpDeleteProduct         Operation = "product.delete"
	OpViewInventory         Operation = "inventory.view"
	OpAddBatch              Operation = "batch.add"
	OpEditBatch             Operation = "batch.edit"
	OpDeleteBatch           Operation = "batch.delete"
	OpCreateOrder           Operation = "order.create"
	OpViewOrders            Operation = "order.view"
	OpViewAllOrders         Operation = "order.view_all"
	OpConfirmOrder          Operation = "order.confirm"
	OpRejectOrder           Operation = "order.reject"
	OpResendOrder           Operation = "order.resend"
	OpDeleteRejected        Operation = "order.delete_rejected"
	OpEditRejectedOrder     Operation = "order.edit_rejected"
	OpUpdateOrder           Operation = "order.update"
	OpViewSales             Operation = "sale.view"
	OpViewAllSales          Operation = "sale.view_all"
	OpRefundSale            Operation = "sale.refund"
	OpPayLoan               Operation = "loan.pay"
	OpManageRefunds         Operation = "refund.manage"
	OpViewStockLedger       Operation = "stock_entry.view"
	OpViewAuditLogs         Operation = "audit.view"
	OpManageCustomers       Operation = "customer.manage"
	OpViewCustomerPurchases Operation = "customer.purchases"
	OpManageExpenses        Operation = "expense.manage"
)

var (
	anyRole        = []string{domain.RoleCashier, domain.RoleStaff, domain.RoleAdmin}
	cashierOrAdmin = []string{domain.RoleCashier, domain.RoleAdmin}
	staffOrAdmin   = []string{domain.RoleStaff, domain.RoleAdmin}
	adminOnly      = []string{domain.RoleAdmin}
)

// policy maps every state-changing or scoped operation to the roles allowed
// to invoke it.
var policy = map[Operation][]string{
	OpCreateProduct:         adminOnly,
	OpDeleteProduct:         adminOnly,
	OpViewInventory:         anyRole,
	OpAddBatch:              adminOnly,
	OpEditBatch:             adminOnly,
	OpDeleteBatch:           adminOnly,
	OpCreateOrder:           anyRole,
	OpViewOrders:            anyRole,
	OpViewAllOrders:         cashierOrAdmin,
	OpConfirmOrder:          cashierOrAdmin,
	OpRejectOrder:           cashierOrAdmin,
	OpResendOrder:           staffOrAdmin,
	OpDeleteRejected:        staffOrAdmin,
	OpEditRejectedOrder:     staffOrAdmin,
	OpUpdateOrder:           adminOnly,
	OpViewSales:             cashierOrAdmin,
	OpViewAllSales:          adminOnly,
	OpRefundSale:            cashierOrAdmin,
	OpPayLoan:               cashierOrAdmin,
	OpManageRefunds:         cashierOrAdmin,
	OpViewStockLedger:       anyRole,
	OpViewAuditLogs:         adminOnly,
	OpManageCustomers:       staffOrAdmin,
	OpViewCustomerPurchases: anyRole,
	OpManageExpenses:        cashierOrAdmin,
}

func Allowed(op Operation, role string) bool {
	for _, allowed := range policy[op] {
		if allowed == role {
			return true
		}
	}
	return false
}

func (s *Service) authorize(ctx context.Context, op Operation) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, fmt.Errorf("%w: authenticated user required", store.ErrForbidden)
	}
	if !Allowed(op, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: role %s may not %s", store.ErrForbidden, actor.Role, op)
	}
	return actor, nil
}
