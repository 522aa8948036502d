package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/lib/metrics"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit  = 20
	maxListLimit      = 100
	maxRequestedColor = 64
	// деньги хранятся в NUMERIC(14, 2)
	moneyScale = 2
)

// ErrOrderImmutable позиции можно менять только у заказа в статусе pending
var ErrOrderImmutable = fmt.Errorf("order items are immutable outside pending: %w", ErrInvalidStatusTransition)

// EventPublisher принимает доменные события и не ждёт их обработки
type EventPublisher interface {
	Publish(event models.Event)
}

// ItemInput позиция, которую администратор добавляет в заказ. Цену назначает администратор.
type ItemInput struct {
	ProductID      uuid.UUID
	Quantity       int
	UnitPrice      decimal.Decimal
	RequestedColor string
}

// ShippingInfo доставка заказа
type ShippingInfo struct {
	Address  *models.DeliveryAddress
	Cost     decimal.Decimal
	Discount decimal.Decimal
}

type CreateOrderInput struct {
	CustomerID        uuid.UUID
	Kind              models.OrderKind
	Items             []ItemInput
	Shipping          ShippingInfo
	CustomDescription string
	Notes             string
}

// OrderService жизненный цикл заказа: создание, подтверждение с резервом склада, продвижение по статусам, отмена.
type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)
	ReplaceItems(ctx context.Context, id uuid.UUID, items []ItemInput) (*models.Order, error)
	ConfirmOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, target models.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// Repositories хранилища, с которыми работает сервис заказов
type Repositories struct {
	Orders    storage.OrderStorage
	Products  storage.ProductStorage
	Customers storage.CustomerStorage
	Stock     storage.StockLedger
}

type orderService struct {
	log               *slog.Logger
	db                *sql.DB
	orderRepo         storage.OrderStorage
	productRepo       storage.ProductStorage
	customerRepo      storage.CustomerStorage
	stock             storage.StockLedger
	events            EventPublisher
	metrics           *metrics.Metrics
	lowStockThreshold int
}

func NewOrderService(log *slog.Logger, db *sql.DB, repos Repositories, events EventPublisher, m *metrics.Metrics, lowStockThreshold int) OrderService {
	return &orderService{
		log:               log,
		db:                db,
		orderRepo:         repos.Orders,
		productRepo:       repos.Products,
		customerRepo:      repos.Customers,
		stock:             repos.Stock,
		events:            events,
		metrics:           m,
		lowStockThreshold: lowStockThreshold,
	}
}

// CreateOrder проверяет товары и остатки (без резерва), снимает снимки товаров,
// считает суммы, выдаёт номер и сохраняет заказ в статусе pending.
func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	const op = "service.OrderService.CreateOrder"
	logger := s.log.With(
		slog.String("op", op),
		slog.String("customerID", in.CustomerID.String()),
		slog.String("kind", string(in.Kind)),
	)

	if err := validateCreate(in); err != nil {
		logger.Warn("invalid order input", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	customer, err := s.customerRepo.GetCustomer(ctx, tx, in.CustomerID)
	if err != nil {
		rollback(logger, tx)
		logger.Error("failed to get customer", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get customer: %w", op, translate(err))
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:               uuid.New(),
		CustomerID:       customer.ID,
		CustomerName:     customer.FullName,
		Kind:             in.Kind,
		Status:           models.StatusPending,
		ShippingCost:     in.Shipping.Cost,
		ShippingDiscount: in.Shipping.Discount,
		DeliveryAddress:  in.Shipping.Address,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if d := strings.TrimSpace(in.CustomDescription); d != "" {
		order.CustomDescription = &d
	}
	if n := strings.TrimSpace(in.Notes); n != "" {
		order.Notes = &n
	}

	order.Items, err = s.buildItems(ctx, tx, order.ID, in.Items, now)
	if err != nil {
		rollback(logger, tx)
		logger.Warn("failed to build order items", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	order.RecalculateTotal()

	order.OrderNumber, err = s.orderRepo.NextOrderNumber(ctx, tx)
	if err != nil {
		rollback(logger, tx)
		logger.Error("failed to get order number", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
		rollback(logger, tx)
		logger.Error("failed to create order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.events.Publish(models.OrderCreated{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		CustomerName: order.CustomerName,
		TotalAmount:  order.TotalAmount,
		Status:       order.Status,
		At:           now,
	})

	logger.Info("order created", slog.String("orderNumber", order.OrderNumber), slog.String("total", order.TotalAmount.String()))
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	const op = "service.OrderService.GetOrder"
	order, err := s.orderRepo.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	const op = "service.OrderService.ListOrders"
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	orders, err := s.orderRepo.ListOrders(ctx, filter)
	if err != nil {
		s.log.Error("failed to list orders", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}

// ReplaceItems заменяет позиции заказа, пока он в pending. Новые позиции получают свежие снимки.
func (s *orderService) ReplaceItems(ctx context.Context, id uuid.UUID, items []ItemInput) (*models.Order, error) {
	const op = "service.OrderService.ReplaceItems"
	logger := s.log.With(slog.String("op", op), slog.String("orderID", id.String()))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderTx(ctx, tx, id)
	if err != nil {
		rollback(logger, tx)
		logger.Error("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	if order.Status != models.StatusPending {
		rollback(logger, tx)
		logger.Warn("order is not pending", slog.String("status", string(order.Status)))
		return nil, fmt.Errorf("%s: %w", op, ErrOrderImmutable)
	}

	if err := validateItems(order.Kind, items); err != nil {
		rollback(logger, tx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	order.Items, err = s.buildItems(ctx, tx, order.ID, items, now)
	if err != nil {
		rollback(logger, tx)
		logger.Warn("failed to build order items", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	order.RecalculateTotal()
	if order.TotalAmount.IsNegative() {
		rollback(logger, tx)
		return nil, fmt.Errorf("%s: %w", op, invalid("shipping.discount", "discount exceeds order amount"))
	}
	order.UpdatedAt = now

	if err := s.orderRepo.ReplaceItems(ctx, tx, order); err != nil {
		rollback(logger, tx)
		logger.Error("failed to replace items", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("order items replaced", slog.Int("items", len(order.Items)))
	return order, nil
}

func (s *orderService) ConfirmOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, "service.OrderService.ConfirmOrder", id, models.StatusConfirmed)
}

func (s *orderService) AdvanceStatus(ctx context.Context, id uuid.UUID, target models.OrderStatus) (*models.Order, error) {
	return s.transition(ctx, "service.OrderService.AdvanceStatus", id, target)
}

func (s *orderService) CancelOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, "service.OrderService.CancelOrder", id, models.StatusCancelled)
}

// transition применяет одно ребро графа статусов в одной транзакции.
// Резерв склада привязан к pending -> confirmed, возврат к переходу в cancelled из статуса с резервом.
// События публикуются только после коммита.
func (s *orderService) transition(ctx context.Context, op string, id uuid.UUID, target models.OrderStatus) (*models.Order, error) {
	logger := s.log.With(
		slog.String("op", op),
		slog.String("orderID", id.String()),
		slog.String("target", string(target)),
	)
	logger.Info("starting status transition")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	// блокируем заказ, параллельный переход получит Conflict
	order, err := s.orderRepo.LockOrderTx(ctx, tx, id)
	if err != nil {
		rollback(logger, tx)
		logger.Error("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	from := order.Status
	if !from.CanTransitionTo(target) {
		rollback(logger, tx)
		logger.Warn("transition rejected", slog.String("from", string(from)))
		return nil, fmt.Errorf("%s: %w", op, &TransitionError{From: from, To: target})
	}

	var crossings []models.StockThresholdCrossed
	switch {
	case target == models.StatusConfirmed:
		crossings, err = s.reserveAll(ctx, tx, logger, order)
		if err != nil {
			rollback(logger, tx)
			if errors.Is(err, ErrInsufficientStock) {
				s.metrics.StockReservationFailures.Inc()
			}
			logger.Warn("stock reservation failed", slog.Any("error", err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case target == models.StatusCancelled && from.HoldsReservation():
		crossings, err = s.releaseAll(ctx, tx, logger, order)
		if err != nil {
			rollback(logger, tx)
			logger.Error("stock release failed", slog.Any("error", err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	now := time.Now().UTC()
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case models.StatusConfirmed:
		order.ConfirmedAt = &now
	case models.StatusDelivered:
		order.CompletedAt = &now
	}

	if err := s.orderRepo.UpdateOrderStatus(ctx, tx, order); err != nil {
		rollback(logger, tx)
		logger.Error("failed to update order status", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.metrics.OrderTransitions.WithLabelValues(string(target)).Inc()
	s.events.Publish(models.OrderStatusChanged{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerName:   order.CustomerName,
		TotalAmount:    order.TotalAmount,
		PreviousStatus: from,
		Status:         target,
		At:             now,
	})
	for _, c := range crossings {
		s.events.Publish(c)
	}

	logger.Info("status transition applied", slog.String("from", string(from)))
	return order, nil
}

// reserveAll резервирует все позиции в порядке product id. При отказе уже зарезервированное возвращается, так что
// частичного резерва не остаётся.
func (s *orderService) reserveAll(ctx context.Context, tx *sql.Tx, logger *slog.Logger, order *models.Order) ([]models.StockThresholdCrossed, error) {
	var (
		reserved  []*models.OrderItem
		crossings []models.StockThresholdCrossed
	)
	for _, item := range byProductID(order.Items) {
		if item.ProductID == nil {
			s.releaseReserved(ctx, tx, logger, reserved)
			return nil, fmt.Errorf("%w: product %q was removed from catalog", ErrNotFound, item.Snapshot.Name)
		}
		remaining, err := s.stock.Reserve(ctx, tx, *item.ProductID, item.Quantity)
		if err != nil {
			s.releaseReserved(ctx, tx, logger, reserved)
			if errors.Is(err, storage.ErrInsufficientStock) {
				return nil, &InsufficientStockError{ProductID: *item.ProductID, Requested: item.Quantity, Available: remaining}
			}
			return nil, translate(err)
		}
		reserved = append(reserved, item)
		if c, ok := s.crossing(item, remaining+item.Quantity, remaining); ok {
			crossings = append(crossings, c)
		}
	}
	return crossings, nil
}

func (s *orderService) releaseReserved(ctx context.Context, tx *sql.Tx, logger *slog.Logger, reserved []*models.OrderItem) {
	for _, item := range reserved {
		if _, err := s.stock.Release(ctx, tx, *item.ProductID, item.Quantity); err != nil {
			logger.Error("failed to release reserved stock", slog.String("productID", item.ProductID.String()), slog.Any("error", err))
		}
	}
}

// releaseAll возвращает склад при отмене. Товары, удалённые из каталога, пропускаются.
func (s *orderService) releaseAll(ctx context.Context, tx *sql.Tx, logger *slog.Logger, order *models.Order) ([]models.StockThresholdCrossed, error) {
	var crossings []models.StockThresholdCrossed
	for _, item := range byProductID(order.Items) {
		if item.ProductID == nil {
			continue
		}
		stock, err := s.stock.Release(ctx, tx, *item.ProductID, item.Quantity)
		if err != nil {
			if errors.Is(err, storage.ErrProductNotFound) {
				logger.Warn("product gone, nothing to release", slog.String("productID", item.ProductID.String()))
				continue
			}
			return nil, translate(err)
		}
		if c, ok := s.crossing(item, stock-item.Quantity, stock); ok {
			crossings = append(crossings, c)
		}
	}
	return crossings, nil
}

// byProductID копия позиций, отсортированная по product id. Строки products блокируются в одном
// порядке во всех транзакциях, поэтому два заказа с общими товарами не взаимоблокируются.
// Позиции без товара идут первыми.
func byProductID(items []*models.OrderItem) []*models.OrderItem {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b *models.OrderItem) int {
		switch {
		case a.ProductID == nil && b.ProductID == nil:
			return 0
		case a.ProductID == nil:
			return -1
		case b.ProductID == nil:
			return 1
		}
		return bytes.Compare(a.ProductID[:], b.ProductID[:])
	})
	return sorted
}

// crossing проверяет, пересёк ли остаток порог lowStockThreshold
func (s *orderService) crossing(item *models.OrderItem, before, after int) (models.StockThresholdCrossed, bool) {
	t := s.lowStockThreshold
	if t <= 0 {
		return models.StockThresholdCrossed{}, false
	}
	var direction models.StockDirection
	switch {
	case before > t && after <= t:
		direction = models.StockLow
	case before <= t && after > t:
		direction = models.StockRestored
	default:
		return models.StockThresholdCrossed{}, false
	}
	return models.StockThresholdCrossed{
		ProductID:   *item.ProductID,
		ProductName: item.Snapshot.Name,
		Stock:       after,
		Threshold:   t,
		Direction:   direction,
		At:          time.Now().UTC(),
	}, true
}

// buildItems читает товары, проверяет остаток без резерва и снимает снимки.
// Количество одного товара в нескольких строках суммируется.
func (s *orderService) buildItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, inputs []ItemInput, now time.Time) ([]*models.OrderItem, error) {
	requested := make(map[uuid.UUID]int, len(inputs))
	for _, in := range inputs {
		requested[in.ProductID] += in.Quantity
	}

	products := make(map[uuid.UUID]*models.Product, len(requested))
	items := make([]*models.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		product, ok := products[in.ProductID]
		if !ok {
			p, err := s.productRepo.GetProduct(ctx, tx, in.ProductID)
			if err != nil {
				return nil, translate(err)
			}
			if p.Stock < requested[in.ProductID] {
				return nil, &InsufficientStockError{ProductID: p.ID, Requested: requested[in.ProductID], Available: p.Stock}
			}
			products[in.ProductID] = p
			product = p
		}

		productID := product.ID
		item := &models.OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: &productID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Snapshot:  models.SnapshotOf(product),
			CreatedAt: now,
		}
		if color := strings.TrimSpace(in.RequestedColor); color != "" {
			item.RequestedColor = &color
		}
		items = append(items, item)
	}
	return items, nil
}

func validateCreate(in CreateOrderInput) error {
	if in.CustomerID == uuid.Nil {
		return invalid("customer_id", "is required")
	}
	switch in.Kind {
	case models.KindCustom:
		if strings.TrimSpace(in.CustomDescription) == "" {
			return invalid("custom_description", "is required for custom orders")
		}
	case models.KindProduct:
	default:
		return invalid("kind", fmt.Sprintf("unknown order kind %q", in.Kind))
	}
	if err := validateItems(in.Kind, in.Items); err != nil {
		return err
	}
	if in.Shipping.Cost.IsNegative() {
		return invalid("shipping.cost", "must not be negative")
	}
	if !isMoney(in.Shipping.Cost) {
		return invalid("shipping.cost", "must have at most 2 decimal places")
	}
	if in.Shipping.Discount.IsNegative() {
		return invalid("shipping.discount", "must not be negative")
	}
	if !isMoney(in.Shipping.Discount) {
		return invalid("shipping.discount", "must have at most 2 decimal places")
	}

	total := in.Shipping.Cost.Sub(in.Shipping.Discount)
	for _, item := range in.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if total.IsNegative() {
		return invalid("shipping.discount", "discount exceeds order amount")
	}
	return nil
}

func validateItems(kind models.OrderKind, items []ItemInput) error {
	if kind == models.KindProduct && len(items) == 0 {
		return invalid("items", "product orders need at least one item")
	}
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return invalid(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if item.Quantity <= 0 {
			return invalid(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return invalid(fmt.Sprintf("items[%d].unit_price", i), "must not be negative")
		}
		if !isMoney(item.UnitPrice) {
			return invalid(fmt.Sprintf("items[%d].unit_price", i), "must have at most 2 decimal places")
		}
		if len(strings.TrimSpace(item.RequestedColor)) > maxRequestedColor {
			return invalid(fmt.Sprintf("items[%d].requested_color", i), "is too long")
		}
	}
	return nil
}

// isMoney не больше двух знаков после запятой, иначе NUMERIC(14, 2) округлит значение при записи
func isMoney(v decimal.Decimal) bool {
	return v.Equal(v.Round(moneyScale))
}

// translate переводит ошибки хранилища в таксономию сервиса
func translate(err error) error {
	switch {
	case errors.Is(err, storage.ErrOrderNotFound),
		errors.Is(err, storage.ErrProductNotFound),
		errors.Is(err, storage.ErrCustomerNotFound),
		errors.Is(err, storage.ErrNotificationNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, storage.ErrOrderLocked),
		errors.Is(err, storage.ErrVersionConflict),
		errors.Is(err, storage.ErrTxAborted):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func rollback(logger *slog.Logger, tx *sql.Tx) {
	if rbErr := tx.Rollback(); rbErr != nil {
		logger.Error("transaction rollback failed", slog.Any("error", rbErr))
	}
}
