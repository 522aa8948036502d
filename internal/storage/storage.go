package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOrderLocked          = errors.New("order is locked by another transaction")
	ErrVersionConflict      = errors.New("order has been modified by another transaction")
	// ErrTxAborted postgres прервал транзакцию (deadlock, serialization failure), её можно повторить
	ErrTxAborted = errors.New("transaction aborted by a concurrent transaction")
)

// коды ошибок postgres, которые мы разбираем
const (
	pqLockNotAvailable    = "55P03"
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
	pqDeadlockDetected    = "40P01"
	pqSerializationFail   = "40001"
)

// querier общее подмножество *sql.DB и *sql.Tx для чтения
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func hasPQCode(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

// wrapTxError помечает deadlock и serialization failure как ErrTxAborted, остальные ошибки оборачивает как есть
func wrapTxError(msg string, err error) error {
	if hasPQCode(err, pqDeadlockDetected) || hasPQCode(err, pqSerializationFail) {
		return fmt.Errorf("%s: %w: %w", msg, ErrTxAborted, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
