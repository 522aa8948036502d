package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/google/uuid"
)

// ProductStorage описывает чтение товаров каталога. Каталог ведёт отдельный сервис, здесь только чтение.
type ProductStorage interface {
	// GetProduct получает товар по идентификатору внутри транзакции.
	GetProduct(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Product, error)
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт репозиторий товаров.
func NewProductRepository(db *sql.DB) ProductStorage {
	return &productRepository{db: db}
}

func (r *productRepository) GetProduct(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Product, error) {
	query := `SELECT id, name, slug, color, capacity, category, images, stock FROM products WHERE id = $1`
	p := &models.Product{}
	var images []byte
	row := tx.QueryRowContext(ctx, query, id)
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Color, &p.Capacity, &p.Category, &images, &p.Stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return nil, fmt.Errorf("failed to decode product images: %w", err)
		}
	}
	return p, nil
}
