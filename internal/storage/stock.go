package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// StockLedger атомарные операции с остатком товара.
type StockLedger interface {
	// Reserve списывает quantity, только если остаток >= quantity. Проверка и списание делаются одним UPDATE.
	// При нехватке возвращает текущий остаток и ErrInsufficientStock.
	Reserve(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int) (int, error)
	// Release возвращает quantity на склад и отдаёт новый остаток.
	Release(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int) (int, error)
	// CurrentStock чистое чтение остатка.
	CurrentStock(ctx context.Context, productID uuid.UUID) (int, error)
}

type stockLedger struct {
	db *sql.DB
}

func NewStockLedger(db *sql.DB) StockLedger {
	return &stockLedger{db: db}
}

func (l *stockLedger) Reserve(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("reserve quantity must be positive, got %d", quantity)
	}
	var remaining int
	err := tx.QueryRowContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1 RETURNING stock",
		quantity, productID,
	).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, wrapTxError("failed to reserve stock", err)
	}

	// строка не обновилась: либо товара нет, либо не хватает остатка
	var available int
	err = tx.QueryRowContext(ctx, "SELECT stock FROM products WHERE id = $1", productID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, wrapTxError("failed to read stock", err)
	}
	return available, ErrInsufficientStock
}

func (l *stockLedger) Release(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("release quantity must be positive, got %d", quantity)
	}
	var stock int
	err := tx.QueryRowContext(ctx,
		"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2 RETURNING stock",
		quantity, productID,
	).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, wrapTxError("failed to release stock", err)
	}
	return stock, nil
}

func (l *stockLedger) CurrentStock(ctx context.Context, productID uuid.UUID) (int, error) {
	var stock int
	if err := l.db.QueryRowContext(ctx, "SELECT stock FROM products WHERE id = $1", productID).Scan(&stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return stock, nil
}
