package service_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/lib/metrics"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/service"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/storage"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrderRepo struct {
	mu     sync.Mutex
	seq    int
	orders map[uuid.UUID]*models.Order
	locked map[uuid.UUID]bool
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[uuid.UUID]*models.Order), locked: make(map[uuid.UUID]bool)}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = make([]*models.OrderItem, len(o.Items))
	for i, item := range o.Items {
		it := *item
		c.Items[i] = &it
	}
	return &c
}

func (f *fakeOrderRepo) NextOrderNumber(ctx context.Context, tx *sql.Tx) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("ORD-20260101-%06d", f.seq), nil
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = cloneOrder(order)
	return nil
}

func (f *fakeOrderRepo) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// LockOrderTx отдаёт копию, как это делает чтение из БД. Блокировка снимается в UpdateOrderStatus.
func (f *fakeOrderRepo) LockOrderTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	if f.locked[id] {
		return nil, storage.ErrOrderLocked
	}
	return cloneOrder(o), nil
}

func (f *fakeOrderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[order.ID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return storage.ErrVersionConflict
	}
	order.Version++
	f.orders[order.ID] = cloneOrder(order)
	return nil
}

func (f *fakeOrderRepo) ReplaceItems(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[order.ID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return storage.ErrVersionConflict
	}
	order.Version++
	f.orders[order.ID] = cloneOrder(order)
	return nil
}

func (f *fakeOrderRepo) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for _, o := range f.orders {
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type fakeProductRepo struct {
	ledger *fakeLedger
	meta   map[uuid.UUID]*models.Product
}

var _ storage.ProductStorage = (*fakeProductRepo)(nil)

func (f *fakeProductRepo) GetProduct(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Product, error) {
	p, ok := f.meta[id]
	if !ok {
		return nil, storage.ErrProductNotFound
	}
	c := *p
	c.Images = append([]string(nil), p.Images...)
	c.Stock, _ = f.ledger.CurrentStock(ctx, id)
	return &c, nil
}

type fakeCustomerRepo struct {
	customers map[uuid.UUID]*models.Customer
}

var _ storage.CustomerStorage = (*fakeCustomerRepo)(nil)

func (f *fakeCustomerRepo) GetCustomer(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, storage.ErrCustomerNotFound
	}
	return c, nil
}

// fakeLedger держит остатки в памяти. Проверка и списание под одним мьютексом, как условный UPDATE.
type fakeLedger struct {
	mu    sync.Mutex
	stock map[uuid.UUID]int
}

var _ storage.StockLedger = (*fakeLedger)(nil)

func (f *fakeLedger) Reserve(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stock[productID]
	if !ok {
		return 0, storage.ErrProductNotFound
	}
	if s < quantity {
		return s, storage.ErrInsufficientStock
	}
	f.stock[productID] = s - quantity
	return s - quantity, nil
}

func (f *fakeLedger) Release(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stock[productID]
	if !ok {
		return 0, storage.ErrProductNotFound
	}
	f.stock[productID] = s + quantity
	return s + quantity, nil
}

func (f *fakeLedger) CurrentStock(ctx context.Context, productID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stock[productID]
	if !ok {
		return 0, storage.ErrProductNotFound
	}
	return s, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(e models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) byTopic(topic models.EventTopic) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Event
	for _, e := range p.events {
		if e.Topic() == topic {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc       service.OrderService
	db        *sql.DB
	mock      sqlmock.Sqlmock
	customers *fakeCustomerRepo
	threshold int
	orders    *fakeOrderRepo
	ledger    *fakeLedger
	products  *fakeProductRepo
	events    *recordingPublisher
	metrics   *metrics.Metrics
	customer  uuid.UUID
	mugID     uuid.UUID
	tumblerID uuid.UUID
}

func newFixture(t *testing.T, lowStockThreshold int) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:        db,
		mock:      mock,
		threshold: lowStockThreshold,
		orders:    newFakeOrderRepo(),
		events:    &recordingPublisher{},
		metrics:   metrics.New(),
		customer:  uuid.New(),
		mugID:     uuid.New(),
		tumblerID: uuid.New(),
	}
	f.ledger = &fakeLedger{stock: map[uuid.UUID]int{f.mugID: 5, f.tumblerID: 3}}
	f.products = &fakeProductRepo{
		ledger: f.ledger,
		meta: map[uuid.UUID]*models.Product{
			f.mugID:     {ID: f.mugID, Name: "Siren Mug", Slug: "siren-mug", Color: "green", Capacity: "355ml", Category: "mugs", Images: []string{"mug.jpg"}},
			f.tumblerID: {ID: f.tumblerID, Name: "Cold Cup", Slug: "cold-cup", Color: "clear", Capacity: "710ml", Category: "tumblers", Images: []string{"cup.jpg"}},
		},
	}
	f.customers = &fakeCustomerRepo{customers: map[uuid.UUID]*models.Customer{
		f.customer: {ID: f.customer, FullName: "Nguyen Van A", Phone: "0901234567"},
	}}
	f.useLedger(f.ledger)
	return f
}

// useLedger пересобирает сервис с другим складом поверх тех же репозиториев
func (f *fixture) useLedger(stock storage.StockLedger) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	f.svc = service.NewOrderService(logger, f.db, service.Repositories{
		Orders:    f.orders,
		Products:  f.products,
		Customers: f.customers,
		Stock:     stock,
	}, f.events, f.metrics, f.threshold)
}

// tracingLedger запоминает порядок обращений к складу и может вернуть ошибку БД для одного товара
type tracingLedger struct {
	*fakeLedger
	mu       sync.Mutex
	reserved []uuid.UUID
	released []uuid.UUID
	failOn   uuid.UUID
	failWith error
}

func (l *tracingLedger) Reserve(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int) (int, error) {
	l.mu.Lock()
	l.reserved = append(l.reserved, productID)
	l.mu.Unlock()
	if productID == l.failOn && l.failWith != nil {
		return 0, l.failWith
	}
	return l.fakeLedger.Reserve(ctx, tx, productID, quantity)
}

func (l *tracingLedger) Release(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int) (int, error) {
	l.mu.Lock()
	l.released = append(l.released, productID)
	l.mu.Unlock()
	return l.fakeLedger.Release(ctx, tx, productID, quantity)
}

func sortedIDs(ids ...uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (f *fixture) productOrder(items ...service.ItemInput) service.CreateOrderInput {
	return service.CreateOrderInput{
		CustomerID: f.customer,
		Kind:       models.KindProduct,
		Items:      items,
	}
}

func (f *fixture) create(t *testing.T, in service.CreateOrderInput) *models.Order {
	t.Helper()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	order, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	return order
}

func (f *fixture) stockOf(id uuid.UUID) int {
	s, _ := f.ledger.CurrentStock(context.Background(), id)
	return s
}

func TestOrderService_CreateAndConfirm(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	order := f.create(t, f.productOrder(
		service.ItemInput{ProductID: f.mugID, Quantity: 2, UnitPrice: decimal.NewFromInt(50000)},
		service.ItemInput{ProductID: f.tumblerID, Quantity: 1, UnitPrice: decimal.NewFromInt(120000), RequestedColor: "pink"},
	))

	assert.Equal(t, models.StatusPending, order.Status)
	assert.True(t, decimal.NewFromInt(220000).Equal(order.TotalAmount), "total should be 220000, got %s", order.TotalAmount)
	assert.Regexp(t, `^ORD-\d{8}-\d{6}$`, order.OrderNumber)
	assert.Equal(t, "Nguyen Van A", order.CustomerName)
	assert.Equal(t, 5, f.stockOf(f.mugID), "creation must not reserve stock")
	require.NotNil(t, order.Items[1].RequestedColor)
	assert.Equal(t, "pink", *order.Items[1].RequestedColor)
	assert.Len(t, f.events.byTopic(models.TopicOrderCreated), 1)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	confirmed, err := f.svc.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, 2, confirmed.Version)
	assert.Equal(t, 3, f.stockOf(f.mugID))
	assert.Equal(t, 2, f.stockOf(f.tumblerID))

	changed := f.events.byTopic(models.TopicOrderStatusChanged)
	require.Len(t, changed, 1)
	ev := changed[0].(models.OrderStatusChanged)
	assert.Equal(t, models.StatusPending, ev.PreviousStatus)
	assert.Equal(t, models.StatusConfirmed, ev.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrderTransitions.WithLabelValues("confirmed")))

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_CreateOrder_ShippingAndDiscount(t *testing.T) {
	f := newFixture(t, 0)
	in := f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(100000)})
	in.Shipping = service.ShippingInfo{
		Address:  &models.DeliveryAddress{RecipientName: "B", Phone: "0900000000", AddressLine: "1 Le Loi", City: "HCMC"},
		Cost:     decimal.NewFromInt(30000),
		Discount: decimal.NewFromInt(10000),
	}

	order := f.create(t, in)
	assert.True(t, decimal.NewFromInt(120000).Equal(order.TotalAmount))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_CreateOrder_Validation(t *testing.T) {
	f := newFixture(t, 0)

	cases := []struct {
		name string
		in   service.CreateOrderInput
	}{
		{"no items", f.productOrder()},
		{"zero quantity", f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 0, UnitPrice: decimal.NewFromInt(1)})},
		{"negative price", f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(-1)})},
		{"unknown kind", service.CreateOrderInput{CustomerID: f.customer, Kind: "gift"}},
		{"custom without description", service.CreateOrderInput{CustomerID: f.customer, Kind: models.KindCustom}},
		{"missing customer", service.CreateOrderInput{Kind: models.KindCustom, CustomDescription: "engraved"}},
		{"sub-cent unit price", f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 2, UnitPrice: decimal.RequireFromString("0.005")})},
		{"sub-cent shipping cost", service.CreateOrderInput{
			CustomerID:        f.customer,
			Kind:              models.KindCustom,
			CustomDescription: "engraved",
			Shipping:          service.ShippingInfo{Cost: decimal.RequireFromString("15000.001")},
		}},
		{"sub-cent discount", service.CreateOrderInput{
			CustomerID:        f.customer,
			Kind:              models.KindCustom,
			CustomDescription: "engraved",
			Shipping:          service.ShippingInfo{Cost: decimal.NewFromInt(15000), Discount: decimal.RequireFromString("0.125")},
		}},
		{"discount exceeds total", service.CreateOrderInput{
			CustomerID: f.customer,
			Kind:       models.KindProduct,
			Items:      []service.ItemInput{{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)}},
			Shipping:   service.ShippingInfo{Discount: decimal.NewFromInt(5000)},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), tc.in)
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}
	assert.NoError(t, f.mock.ExpectationsWereMet(), "validation must fail before any transaction")
}

func TestOrderService_CreateOrder_CustomWithoutItems(t *testing.T) {
	f := newFixture(t, 0)
	order := f.create(t, service.CreateOrderInput{
		CustomerID:        f.customer,
		Kind:              models.KindCustom,
		CustomDescription: "Engraved siren cup",
	})
	assert.Empty(t, order.Items)
	assert.True(t, order.TotalAmount.IsZero())
	require.NotNil(t, order.CustomDescription)
}

func TestOrderService_CreateOrder_NotFound(t *testing.T) {
	f := newFixture(t, 0)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.CreateOrder(context.Background(), f.productOrder(
		service.ItemInput{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
	))
	assert.ErrorIs(t, err, service.ErrNotFound)

	in := f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1)})
	in.CustomerID = uuid.New()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.CreateOrder(context.Background(), in)
	assert.ErrorIs(t, err, service.ErrNotFound)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_CreateOrder_StockCheckAggregatesLines(t *testing.T) {
	f := newFixture(t, 0)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.CreateOrder(context.Background(), f.productOrder(
		service.ItemInput{ProductID: f.tumblerID, Quantity: 2, UnitPrice: decimal.NewFromInt(1)},
		service.ItemInput{ProductID: f.tumblerID, Quantity: 2, UnitPrice: decimal.NewFromInt(1)},
	))

	var stockErr *service.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Available)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_SnapshotIsFrozen(t *testing.T) {
	f := newFixture(t, 0)
	order := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}))

	// товар переименован после создания заказа
	f.products.meta[f.mugID].Name = "Renamed Mug"
	f.products.meta[f.mugID].Images[0] = "other.jpg"

	got, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Siren Mug", got.Items[0].Snapshot.Name)
	assert.Equal(t, []string{"mug.jpg"}, got.Items[0].Snapshot.Images)
	assert.Equal(t, 5, got.Items[0].Snapshot.StockAtOrder)
}

func TestOrderService_InvalidTransition(t *testing.T) {
	f := newFixture(t, 0)
	order := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}))

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.AdvanceStatus(context.Background(), order.ID, models.StatusShipped)

	assert.ErrorIs(t, err, service.ErrInvalidStatusTransition)
	var trErr *service.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, models.StatusPending, trErr.From)
	assert.Equal(t, models.StatusShipped, trErr.To)

	got, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 5, f.stockOf(f.mugID))
	assert.Empty(t, f.events.byTopic(models.TopicOrderStatusChanged))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_ConfirmInsufficientStockIsAllOrNothing(t *testing.T) {
	f := newFixture(t, 0)
	order := f.create(t, f.productOrder(
		service.ItemInput{ProductID: f.mugID, Quantity: 2, UnitPrice: decimal.NewFromInt(1)},
		service.ItemInput{ProductID: f.tumblerID, Quantity: 3, UnitPrice: decimal.NewFromInt(1)},
	))

	// остаток тумблеров ушёл после создания заказа
	_, err := f.ledger.Reserve(context.Background(), nil, f.tumblerID, 2)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.ConfirmOrder(context.Background(), order.ID)

	var stockErr *service.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, f.tumblerID, stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, 5, f.stockOf(f.mugID), "partial reservation must be undone")
	got, _ := f.svc.GetOrder(context.Background(), order.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StockReservationFailures))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_ConcurrentConfirmLastUnit(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.stock[f.mugID] = 1

	first := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}))
	second := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}))
	require.NoError(t, f.mock.ExpectationsWereMet())

	f.mock.MatchExpectationsInOrder(false)
	f.mock.ExpectBegin()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectRollback()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.ConfirmOrder(context.Background(), id)
		}(i, id)
	}
	wg.Wait()

	var ok, failed int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, service.ErrInsufficientStock):
			failed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, f.stockOf(f.mugID), "stock must never go negative")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_LockedOrderIsConflict(t *testing.T) {
	f := newFixture(t, 0)
	order := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}))
	f.orders.locked[order.ID] = true

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.ConfirmOrder(context.Background(), order.ID)
	assert.ErrorIs(t, err, service.ErrConflict)
	assert.Equal(t, 5, f.stockOf(f.mugID))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_CancelRestoresStock(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	order := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 2, UnitPrice: decimal.NewFromInt(1)}))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err := f.svc.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err = f.svc.AdvanceStatus(ctx, order.ID, models.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, 3, f.stockOf(f.mugID))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	cancelled, err := f.svc.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.stockOf(f.mugID))

	// терминальный статус
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, service.ErrInvalidStatusTransition)
	assert.Equal(t, 5, f.stockOf(f.mugID), "stock is restored once")

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_CancelPendingLeavesStock(t *testing.T) {
	f := newFixture(t, 0)
	order := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 2, UnitPrice: decimal.NewFromInt(1)}))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	cancelled, err := f.svc.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.stockOf(f.mugID))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_DeliveredStampsCompletion(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	order := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}))

	var got *models.Order
	for _, target := range []models.OrderStatus{models.StatusConfirmed, models.StatusProcessing, models.StatusShipped, models.StatusDelivered} {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
		var err error
		got, err = f.svc.AdvanceStatus(ctx, order.ID, target)
		require.NoError(t, err, "advance to %s", target)
	}
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 5, got.Version)
	assert.Equal(t, 4, f.stockOf(f.mugID), "delivered order keeps its reservation")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_LowStockCrossing(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	order := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 2, UnitPrice: decimal.NewFromInt(1)}))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err := f.svc.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)

	crossings := f.events.byTopic(models.TopicStockThreshold)
	require.Len(t, crossings, 1)
	low := crossings[0].(models.StockThresholdCrossed)
	assert.Equal(t, models.StockLow, low.Direction)
	assert.Equal(t, 3, low.Stock)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err = f.svc.CancelOrder(ctx, order.ID)
	require.NoError(t, err)

	crossings = f.events.byTopic(models.TopicStockThreshold)
	require.Len(t, crossings, 2)
	assert.Equal(t, models.StockRestored, crossings[1].(models.StockThresholdCrossed).Direction)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_ReplaceItems(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	order := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)}))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	updated, err := f.svc.ReplaceItems(ctx, order.ID, []service.ItemInput{
		{ProductID: f.tumblerID, Quantity: 2, UnitPrice: decimal.NewFromInt(2500)},
	})
	require.NoError(t, err)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, "Cold Cup", updated.Items[0].Snapshot.Name)
	assert.True(t, decimal.NewFromInt(5000).Equal(updated.TotalAmount))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err = f.svc.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.ReplaceItems(ctx, order.ID, []service.ItemInput{
		{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
	})
	assert.ErrorIs(t, err, service.ErrOrderImmutable)
	assert.ErrorIs(t, err, service.ErrInvalidStatusTransition)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_GetOrder_NotFound(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.GetOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.ErrorIs(t, err, storage.ErrOrderNotFound)
}

func TestOrderService_ListOrders_ClampsLimit(t *testing.T) {
	f := newFixture(t, 0)
	for i := 0; i < 3; i++ {
		f.create(t, service.CreateOrderInput{CustomerID: f.customer, Kind: models.KindCustom, CustomDescription: "custom"})
	}

	orders, err := f.svc.ListOrders(context.Background(), models.OrderFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, orders, 3)

	pending := models.StatusPending
	orders, err = f.svc.ListOrders(context.Background(), models.OrderFilter{Status: &pending, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestOrderService_CreateOrder_TwoDecimalPricesAccepted(t *testing.T) {
	f := newFixture(t, 0)
	in := f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 2, UnitPrice: decimal.RequireFromString("49999.99")})
	in.Shipping.Cost = decimal.RequireFromString("15000.50")

	order := f.create(t, in)
	assert.True(t, decimal.RequireFromString("115000.48").Equal(order.TotalAmount), "got %s", order.TotalAmount)
	for _, item := range order.Items {
		assert.True(t, item.TotalPrice.Equal(item.TotalPrice.Round(2)))
	}
}

func TestOrderService_ReplaceItems_RejectsSubCentPrice(t *testing.T) {
	f := newFixture(t, 0)
	order := f.create(t, f.productOrder(service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)}))

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.ReplaceItems(context.Background(), order.ID, []service.ItemInput{
		{ProductID: f.mugID, Quantity: 2, UnitPrice: decimal.RequireFromString("0.005")},
	})
	assert.ErrorIs(t, err, service.ErrValidation)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_ReserveAndReleaseInProductIDOrder(t *testing.T) {
	f := newFixture(t, 0)
	ledger := &tracingLedger{fakeLedger: f.ledger}
	f.useLedger(ledger)

	// позиции приходят в произвольном порядке, блокировка строк всегда идёт по возрастанию id
	order := f.create(t, f.productOrder(
		service.ItemInput{ProductID: f.tumblerID, Quantity: 1, UnitPrice: decimal.NewFromInt(120000)},
		service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(50000)},
	))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err := f.svc.ConfirmOrder(context.Background(), order.ID)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err = f.svc.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)

	want := sortedIDs(f.tumblerID, f.mugID)
	assert.Equal(t, want, ledger.reserved)
	assert.Equal(t, want, ledger.released)

	stored, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tumblerID, *stored.Items[0].ProductID, "item order in the order itself is kept")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_AbortedTransactionIsConflict(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40P01", "40001"} {
		t.Run(string(code), func(t *testing.T) {
			f := newFixture(t, 0)
			// так хранилище оборачивает ошибку postgres
			ledger := &tracingLedger{
				fakeLedger: f.ledger,
				failOn:     f.mugID,
				failWith:   fmt.Errorf("failed to reserve stock: %w: %w", storage.ErrTxAborted, &pq.Error{Code: code}),
			}
			f.useLedger(ledger)

			order := f.create(t, f.productOrder(
				service.ItemInput{ProductID: f.tumblerID, Quantity: 1, UnitPrice: decimal.NewFromInt(120000)},
				service.ItemInput{ProductID: f.mugID, Quantity: 1, UnitPrice: decimal.NewFromInt(50000)},
			))

			f.mock.ExpectBegin()
			f.mock.ExpectRollback()
			_, err := f.svc.ConfirmOrder(context.Background(), order.ID)
			assert.ErrorIs(t, err, service.ErrConflict)
			assert.NotErrorIs(t, err, service.ErrInsufficientStock)

			assert.Equal(t, 5, f.stockOf(f.mugID))
			assert.Equal(t, 3, f.stockOf(f.tumblerID), "partial reservation is released")
			stored, err := f.svc.GetOrder(context.Background(), order.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusPending, stored.Status)
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}
