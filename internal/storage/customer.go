package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/google/uuid"
)

// CustomerStorage чтение клиентов, сами клиенты создаются в сервисе клиентов
type CustomerStorage interface {
	GetCustomer(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Customer, error)
}

type customerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) CustomerStorage {
	return &customerRepository{db: db}
}

func (r *customerRepository) GetCustomer(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Customer, error) {
	c := &models.Customer{}
	row := tx.QueryRowContext(ctx, "SELECT id, full_name, phone FROM customers WHERE id = $1", id)
	if err := row.Scan(&c.ID, &c.FullName, &c.Phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return c, nil
}
