package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NotificationCategory категория уведомления, определяет форму Data
type NotificationCategory string

const (
	CategoryConsultation NotificationCategory = "consultation"
	CategoryOrder        NotificationCategory = "order"
	CategoryUser         NotificationCategory = "user"
	CategorySystem       NotificationCategory = "system"
	CategoryPayment      NotificationCategory = "payment"
	CategoryInventory    NotificationCategory = "inventory"
)

// NotificationPayload закрытое объединение: реализации есть только в этом пакете.
type NotificationPayload interface {
	Category() NotificationCategory
	isNotificationPayload()
}

type ConsultationSummary struct {
	ConsultationID string `json:"consultation_id"`
	CustomerName   string `json:"customer_name"`
	Phone          string `json:"phone"`
	TotalItems     int    `json:"total_items"`
}

type OrderSummary struct {
	OrderID        uuid.UUID       `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	CustomerName   string          `json:"customer_name"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Status         OrderStatus     `json:"status"`
	PreviousStatus OrderStatus     `json:"previous_status,omitempty"`
}

type UserActionSummary struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Action   string `json:"action"`
}

type SystemSummary struct {
	Level  string `json:"level"`
	Source string `json:"source"`
}

type PaymentSummary struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Amount      decimal.Decimal `json:"amount"`
	Success     bool            `json:"success"`
	Reason      string          `json:"reason,omitempty"`
}

type InventorySummary struct {
	ProductID   uuid.UUID      `json:"product_id"`
	ProductName string         `json:"product_name"`
	Stock       int            `json:"stock"`
	Threshold   int            `json:"threshold"`
	Direction   StockDirection `json:"direction"`
}

func (ConsultationSummary) Category() NotificationCategory { return CategoryConsultation }
func (OrderSummary) Category() NotificationCategory        { return CategoryOrder }
func (UserActionSummary) Category() NotificationCategory   { return CategoryUser }
func (SystemSummary) Category() NotificationCategory       { return CategorySystem }
func (PaymentSummary) Category() NotificationCategory      { return CategoryPayment }
func (InventorySummary) Category() NotificationCategory    { return CategoryInventory }

func (ConsultationSummary) isNotificationPayload() {}
func (OrderSummary) isNotificationPayload()        {}
func (UserActionSummary) isNotificationPayload()   {}
func (SystemSummary) isNotificationPayload()       {}
func (PaymentSummary) isNotificationPayload()      {}
func (InventorySummary) isNotificationPayload()    {}

// Notification запись журнала уведомлений. IsRead и ReadAt относятся к конкретному администратору.
type Notification struct {
	ID        uuid.UUID            `json:"id"`
	Category  NotificationCategory `json:"type"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Data      NotificationPayload  `json:"data"`
	CreatedAt time.Time            `json:"created_at"`
	IsRead    bool                 `json:"is_read"`
	ReadAt    *time.Time           `json:"read_at,omitempty"`
}

// DecodePayload восстанавливает Data по категории
func DecodePayload(category NotificationCategory, raw []byte) (NotificationPayload, error) {
	var (
		payload NotificationPayload
		err     error
	)
	switch category {
	case CategoryConsultation:
		var p ConsultationSummary
		err = json.Unmarshal(raw, &p)
		payload = p
	case CategoryOrder:
		var p OrderSummary
		err = json.Unmarshal(raw, &p)
		payload = p
	case CategoryUser:
		var p UserActionSummary
		err = json.Unmarshal(raw, &p)
		payload = p
	case CategorySystem:
		var p SystemSummary
		err = json.Unmarshal(raw, &p)
		payload = p
	case CategoryPayment:
		var p PaymentSummary
		err = json.Unmarshal(raw, &p)
		payload = p
	case CategoryInventory:
		var p InventorySummary
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown notification category %q", category)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", category, err)
	}
	return payload, nil
}

// NotificationFilter параметры выборки уведомлений
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
