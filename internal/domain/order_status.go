package domain

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusUpdated   OrderStatus = "updated"

	// OrderDeleted is not persisted; it marks the terminal removal of a
	// rejected order in the transition table.
	OrderDeleted OrderStatus = "deleted"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:  {OrderStatusConfirmed, OrderStatusRejected},
	OrderStatusUpdated:  {OrderStatusConfirmed},
	OrderStatusRejected: {OrderStatusUpdated, OrderDeleted},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusRejected, OrderStatusUpdated:
		return true
	}
	return false
}

// CanTransition reports whether an order in status from may move to status to.
func CanTransition(from OrderStatus, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Editable reports whether an admin may still patch the order's fields.
func (s OrderStatus) Editable() bool {
	return s.Valid() && s != OrderStatusConfirmed
}
