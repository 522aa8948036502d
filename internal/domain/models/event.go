package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventTopic имя доменного события на шине
type EventTopic string

const (
	TopicOrderCreated        EventTopic = "order.created"
	TopicOrderStatusChanged  EventTopic = "order.statusChanged"
	TopicConsultationCreated EventTopic = "consultation.created"
	TopicStockThreshold      EventTopic = "inventory.thresholdCrossed"
	TopicPaymentResult       EventTopic = "payment.result"
	TopicUserAction          EventTopic = "user.action"
	TopicSystemAlert         EventTopic = "system.alert"
)

// AllTopics все известные топики, на которые подписывается диспетчер уведомлений
var AllTopics = []EventTopic{
	TopicOrderCreated,
	TopicOrderStatusChanged,
	TopicConsultationCreated,
	TopicStockThreshold,
	TopicPaymentResult,
	TopicUserAction,
	TopicSystemAlert,
}

// Event доменное событие
type Event interface {
	Topic() EventTopic
	OccurredAt() time.Time
}

type OrderCreated struct {
	OrderID      uuid.UUID       `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       OrderStatus     `json:"status"`
	At           time.Time       `json:"at"`
}

func (e OrderCreated) Topic() EventTopic     { return TopicOrderCreated }
func (e OrderCreated) OccurredAt() time.Time { return e.At }

type OrderStatusChanged struct {
	OrderID        uuid.UUID       `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	CustomerName   string          `json:"customer_name"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PreviousStatus OrderStatus     `json:"previous_status"`
	Status         OrderStatus     `json:"status"`
	At             time.Time       `json:"at"`
}

func (e OrderStatusChanged) Topic() EventTopic     { return TopicOrderStatusChanged }
func (e OrderStatusChanged) OccurredAt() time.Time { return e.At }

// ConsultationCreated приходит от сервиса консультаций
type ConsultationCreated struct {
	ConsultationID string    `json:"consultation_id"`
	CustomerName   string    `json:"customer_name"`
	Phone          string    `json:"phone"`
	TotalItems     int       `json:"total_items"`
	At             time.Time `json:"at"`
}

func (e ConsultationCreated) Topic() EventTopic     { return TopicConsultationCreated }
func (e ConsultationCreated) OccurredAt() time.Time { return e.At }

// StockDirection направление пересечения порога остатка
type StockDirection string

const (
	StockLow      StockDirection = "low"
	StockRestored StockDirection = "restored"
)

type StockThresholdCrossed struct {
	ProductID   uuid.UUID      `json:"product_id"`
	ProductName string         `json:"product_name"`
	Stock       int            `json:"stock"`
	Threshold   int            `json:"threshold"`
	Direction   StockDirection `json:"direction"`
	At          time.Time      `json:"at"`
}

func (e StockThresholdCrossed) Topic() EventTopic     { return TopicStockThreshold }
func (e StockThresholdCrossed) OccurredAt() time.Time { return e.At }

type PaymentResult struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Amount      decimal.Decimal `json:"amount"`
	Success     bool            `json:"success"`
	Reason      string          `json:"reason,omitempty"`
	At          time.Time       `json:"at"`
}

func (e PaymentResult) Topic() EventTopic     { return TopicPaymentResult }
func (e PaymentResult) OccurredAt() time.Time { return e.At }

type UserAction struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	Action   string    `json:"action"`
	At       time.Time `json:"at"`
}

func (e UserAction) Topic() EventTopic     { return TopicUserAction }
func (e UserAction) OccurredAt() time.Time { return e.At }

type SystemAlert struct {
	Level   string    `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Source  string    `json:"source"`
	At      time.Time `json:"at"`
}

func (e SystemAlert) Topic() EventTopic     { return TopicSystemAlert }
func (e SystemAlert) OccurredAt() time.Time { return e.At }
