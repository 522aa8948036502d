package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderKind тип заказа: индивидуальный (custom) или по товарам каталога (product)
type OrderKind string

const (
	KindCustom  OrderKind = "custom"
	KindProduct OrderKind = "product"
)

// DeliveryAddress адрес доставки, копируется в заказ при создании
type DeliveryAddress struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	AddressLine   string `json:"address_line"`
	Ward          string `json:"ward,omitempty"`
	District      string `json:"district,omitempty"`
	City          string `json:"city"`
}

// Order представляет один заказ клиента
type Order struct {
	ID                uuid.UUID        `json:"id"`
	OrderNumber       string           `json:"order_number"`
	CustomerID        uuid.UUID        `json:"customer_id"`
	CustomerName      string           `json:"customer_name"` // заполняется через JOIN с таблицей customers
	Kind              OrderKind        `json:"kind"`
	Status            OrderStatus      `json:"status"`
	TotalAmount       decimal.Decimal  `json:"total_amount"`
	ShippingCost      decimal.Decimal  `json:"shipping_cost"`
	ShippingDiscount  decimal.Decimal  `json:"shipping_discount"`
	DeliveryAddress   *DeliveryAddress `json:"delivery_address,omitempty"`
	CustomDescription *string          `json:"custom_description,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	Items             []*OrderItem     `json:"items"`
	Version           int              `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ConfirmedAt       *time.Time       `json:"confirmed_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

// ItemsTotal сумма total_price всех позиций
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.TotalPrice)
	}
	return sum
}

// RecalculateTotal пересчитывает итоговую сумму: позиции + доставка - скидка на доставку.
func (o *Order) RecalculateTotal() {
	for _, item := range o.Items {
		item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	}
	o.TotalAmount = o.ItemsTotal().Add(o.ShippingCost).Sub(o.ShippingDiscount)
}

// OrderItem одна товарная позиция заказа
type OrderItem struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        uuid.UUID       `json:"order_id"`
	ProductID      *uuid.UUID      `json:"product_id"` // nil, если товар удалён из каталога
	RequestedColor *string         `json:"requested_color,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Snapshot       ProductSnapshot `json:"product_snapshot"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ProductSnapshot неизменяемая копия данных товара на момент добавления в заказ
type ProductSnapshot struct {
	Name         string   `json:"name"`
	Slug         string   `json:"slug"`
	Color        string   `json:"color"`
	Capacity     string   `json:"capacity"`
	Category     string   `json:"category"`
	Images       []string `json:"images"`
	StockAtOrder int      `json:"stock_at_order"`
}

// SnapshotOf снимает копию товара. Слайс изображений копируется, чтобы снимок не делил память с каталогом.
func SnapshotOf(p *Product) ProductSnapshot {
	images := make([]string, len(p.Images))
	copy(images, p.Images)
	return ProductSnapshot{
		Name:         p.Name,
		Slug:         p.Slug,
		Color:        p.Color,
		Capacity:     p.Capacity,
		Category:     p.Category,
		Images:       images,
		StockAtOrder: p.Stock,
	}
}

// OrderFilter параметры выборки списка заказов
type OrderFilter struct {
	Status     *OrderStatus
	CustomerID *uuid.UUID
	Limit      int
	Offset     int
}
