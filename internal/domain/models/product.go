package models

import "github.com/google/uuid"

// Product товар каталога в том виде, в каком его отдаёт каталог. В каталоге нет клиентской цены.
type Product struct {
	ID       uuid.UUID
	Name     string
	Slug     string
	Color    string
	Capacity string
	Category string
	Images   []string
	Stock    int
}

// Customer клиент, от имени которого оформлен заказ
type Customer struct {
	ID       uuid.UUID
	FullName string
	Phone    string
}
