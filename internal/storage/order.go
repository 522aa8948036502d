package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/google/uuid"
)

// OrderStorage описывает методы для работы с заказами и их позициями.
type OrderStorage interface {
	// NextOrderNumber выдаёт следующий номер заказа из последовательности.
	NextOrderNumber(ctx context.Context, tx *sql.Tx) (string, error)
	// CreateOrder вставляет заказ вместе с позициями.
	CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error
	// GetOrder возвращает заказ с позициями.
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// LockOrderTx блокирует строку заказа (NOWAIT) и возвращает заказ с позициями.
	LockOrderTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Order, error)
	// UpdateOrderStatus сохраняет статус и отметки времени, проверяя версию.
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *models.Order) error
	// ReplaceItems перезаписывает позиции и суммы заказа, проверяя версию.
	ReplaceItems(ctx context.Context, tx *sql.Tx, order *models.Order) error
	// ListOrders возвращает заказы без позиций, новые первыми.
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const orderColumns = `o.id, o.order_number, o.customer_id, COALESCE(c.full_name, ''), o.kind, o.status,
		o.total_amount, o.shipping_cost, o.shipping_discount, o.delivery_address, o.custom_description, o.notes,
		o.version, o.created_at, o.updated_at, o.confirmed_at, o.completed_at`

func (r *orderRepository) NextOrderNumber(ctx context.Context, tx *sql.Tx) (string, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT nextval('order_number_seq')").Scan(&seq); err != nil {
		return "", fmt.Errorf("failed to get order number: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%06d", time.Now().UTC().Format("20060102"), seq), nil
}

func (r *orderRepository) CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	address, err := marshalAddress(order.DeliveryAddress)
	if err != nil {
		return err
	}
	query := `INSERT INTO orders (id, order_number, customer_id, kind, status, total_amount, shipping_cost, shipping_discount,
	          delivery_address, custom_description, notes, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = tx.ExecContext(ctx, query,
		order.ID, order.OrderNumber, order.CustomerID, order.Kind, order.Status,
		order.TotalAmount, order.ShippingCost, order.ShippingDiscount,
		address, order.CustomDescription, order.Notes, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if hasPQCode(err, pqUniqueViolation) {
			return fmt.Errorf("order number %s already taken: %w", order.OrderNumber, err)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return r.insertItems(ctx, tx, order.Items)
}

func (r *orderRepository) insertItems(ctx context.Context, tx *sql.Tx, items []*models.OrderItem) error {
	query := `INSERT INTO order_items (id, order_id, product_id, requested_color, quantity, unit_price, total_price,
	          product_snapshot, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, item := range items {
		snapshot, err := json.Marshal(item.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode product snapshot: %w", err)
		}
		_, err = tx.ExecContext(ctx, query,
			item.ID, item.OrderID, item.ProductID, item.RequestedColor, item.Quantity,
			item.UnitPrice, item.TotalPrice, snapshot, item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o
		LEFT JOIN customers c ON c.id = o.customer_id
		WHERE o.id = $1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if order.Items, err = loadItems(ctx, r.db, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) LockOrderTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o
		LEFT JOIN customers c ON c.id = o.customer_id
		WHERE o.id = $1
		FOR UPDATE OF o NOWAIT`
	order, err := scanOrder(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if hasPQCode(err, pqLockNotAvailable) { // lock
			return nil, fmt.Errorf("%w: %v", ErrOrderLocked, err)
		}
		return nil, err
	}
	if order.Items, err = loadItems(ctx, tx, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	query := `UPDATE orders SET status = $1, confirmed_at = $2, completed_at = $3, version = version + 1, updated_at = $4
	          WHERE id = $5 AND version = $6`
	res, err := tx.ExecContext(ctx, query,
		order.Status, order.ConfirmedAt, order.CompletedAt, order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		return wrapTxError("failed to update order status", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	order.Version++
	return nil
}

func (r *orderRepository) ReplaceItems(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = $1", order.ID); err != nil {
		return fmt.Errorf("failed to delete order items: %w", err)
	}
	if err := r.insertItems(ctx, tx, order.Items); err != nil {
		return err
	}
	query := `UPDATE orders SET total_amount = $1, shipping_cost = $2, shipping_discount = $3, version = version + 1, updated_at = $4
	          WHERE id = $5 AND version = $6`
	res, err := tx.ExecContext(ctx, query,
		order.TotalAmount, order.ShippingCost, order.ShippingDiscount, order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		return wrapTxError("failed to update order totals", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	order.Version++
	return nil
}

func (r *orderRepository) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("o.status = $%d", len(args)))
	}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		conds = append(conds, fmt.Sprintf("o.customer_id = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + `
		FROM orders o
		LEFT JOIN customers c ON c.id = o.customer_id`
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf("\n\t\tORDER BY o.created_at DESC\n\t\tLIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		address                  []byte
		customDescription, notes sql.NullString
		confirmedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID, &order.CustomerName, &order.Kind, &order.Status,
		&order.TotalAmount, &order.ShippingCost, &order.ShippingDiscount, &address, &customDescription, &notes,
		&order.Version, &order.CreatedAt, &order.UpdatedAt, &confirmedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if len(address) > 0 {
		order.DeliveryAddress = &models.DeliveryAddress{}
		if err := json.Unmarshal(address, order.DeliveryAddress); err != nil {
			return nil, fmt.Errorf("failed to decode delivery address: %w", err)
		}
	}
	if customDescription.Valid {
		order.CustomDescription = &customDescription.String
	}
	if notes.Valid {
		order.Notes = &notes.String
	}
	if confirmedAt.Valid {
		order.ConfirmedAt = &confirmedAt.Time
	}
	if completedAt.Valid {
		order.CompletedAt = &completedAt.Time
	}
	return order, nil
}

func loadItems(ctx context.Context, q querier, orderID uuid.UUID) ([]*models.OrderItem, error) {
	query := `SELECT id, order_id, product_id, requested_color, quantity, unit_price, total_price, product_snapshot, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id`
	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items := []*models.OrderItem{}
	for rows.Next() {
		item := &models.OrderItem{}
		var (
			productID uuid.NullUUID
			color     sql.NullString
			snapshot  []byte
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &productID, &color, &item.Quantity,
			&item.UnitPrice, &item.TotalPrice, &snapshot, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		if productID.Valid {
			id := productID.UUID
			item.ProductID = &id
		}
		if color.Valid {
			item.RequestedColor = &color.String
		}
		if err := json.Unmarshal(snapshot, &item.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode product snapshot: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// marshalAddress возвращает nil-интерфейс для отсутствующего адреса, чтобы в колонку ушёл NULL
func marshalAddress(address *models.DeliveryAddress) (any, error) {
	if address == nil {
		return nil, nil
	}
	data, err := json.Marshal(address)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delivery address: %w", err)
	}
	return data, nil
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}
