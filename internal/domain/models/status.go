package models

import "fmt"

// OrderStatus статус заказа. Допустимые значения перечислены ниже, переходы задаются таблицей transitions.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

// transitions единственная таблица допустимых переходов.
// Движение только на один шаг вперёд, отмена возможна из любого нетерминального статуса.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
}

// ParseOrderStatus разбирает строку в статус, неизвестные значения возвращают ошибку.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// CanTransitionTo сообщает, разрешён ли переход s -> target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для delivered и cancelled.
func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// HoldsReservation склад уже зарезервирован под заказ в этом статусе.
func (s OrderStatus) HoldsReservation() bool {
	switch s {
	case StatusConfirmed, StatusProcessing, StatusShipped:
		return true
	}
	return false
}

func (s OrderStatus) String() string { return string(s) }
