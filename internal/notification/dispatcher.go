// Package notification превращает доменные события в сохранённые уведомления и рассылает их
// подключённым администраторам. Журнал в БД первичен: пуш уходит только после успешной записи.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/lib/metrics"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/realtime"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/service"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/storage"
	"github.com/google/uuid"
)

const (
	MessageNew         = "notification:new"
	MessageCountUpdate = "notification:count_update"
	MessageOrderUpdate = "order:updated"

	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Hub то, что диспетчеру нужно от реестра подключений
type Hub interface {
	BroadcastToRoom(ctx context.Context, room string, msg realtime.Message) int
	SendToIdentity(ctx context.Context, identity string, msg realtime.Message) int
	Identities() []string
}

type CountUpdate struct {
	Count int `json:"count"`
}

type Page struct {
	Items  []*models.Notification `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

type Dispatcher struct {
	log     *slog.Logger
	repo    storage.NotificationStorage
	hub     Hub
	metrics *metrics.Metrics

	// countLocks identity -> *sync.Mutex. Чтение счётчика и его отправка идут под одним замком,
	// поэтому последним в сессию приходит самое свежее значение.
	countLocks sync.Map
}

func NewDispatcher(log *slog.Logger, repo storage.NotificationStorage, hub Hub, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{log: log, repo: repo, hub: hub, metrics: m}
}

// Handle обработчик шины событий
func (d *Dispatcher) Handle(ctx context.Context, event models.Event) {
	const op = "notification.Dispatcher.Handle"
	logger := d.log.With(slog.String("op", op), slog.String("topic", string(event.Topic())))

	n, err := FromEvent(event)
	if err != nil {
		logger.Warn("event skipped", slog.Any("error", err))
		return
	}

	if err := d.repo.CreateNotification(ctx, n); err != nil {
		// без записи в журнале пушить нельзя
		logger.Error("failed to persist notification", slog.Any("error", err))
		return
	}
	d.metrics.NotificationsCreated.WithLabelValues(string(n.Category)).Inc()

	delivered := d.hub.BroadcastToRoom(ctx, realtime.AdminRoom, realtime.Message{Type: MessageNew, Data: n})
	if n.Category == models.CategoryOrder {
		d.hub.BroadcastToRoom(ctx, realtime.AdminRoom, realtime.Message{Type: MessageOrderUpdate, Data: event})
	}
	d.pushCounts(ctx, logger)

	logger.Debug("notification dispatched",
		slog.String("notificationID", n.ID.String()),
		slog.String("category", string(n.Category)),
		slog.Int("delivered", delivered),
	)
}

// pushCounts у каждого администратора свой счётчик непрочитанных
func (d *Dispatcher) pushCounts(ctx context.Context, logger *slog.Logger) {
	for _, identity := range d.hub.Identities() {
		d.pushCount(ctx, logger, identity)
	}
}

func (d *Dispatcher) countLock(identity string) *sync.Mutex {
	mu, _ := d.countLocks.LoadOrStore(identity, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (d *Dispatcher) pushCount(ctx context.Context, logger *slog.Logger, identity string) {
	mu := d.countLock(identity)
	mu.Lock()
	defer mu.Unlock()

	count, err := d.repo.UnreadCount(ctx, identity)
	if err != nil {
		logger.Error("failed to count unread", slog.String("identity", identity), slog.Any("error", err))
		return
	}
	d.hub.SendToIdentity(ctx, identity, realtime.Message{Type: MessageCountUpdate, Data: CountUpdate{Count: count}})
}

// OnJoin отправляет только что подключившейся сессии текущий счётчик.
// Вызывается после Join, так что параллельный pushCount либо уже отправил своё значение, либо отправит его после нашего.
func (d *Dispatcher) OnJoin(ctx context.Context, identity string, conn realtime.Conn) error {
	const op = "notification.Dispatcher.OnJoin"
	mu := d.countLock(identity)
	mu.Lock()
	defer mu.Unlock()

	count, err := d.repo.UnreadCount(ctx, identity)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := conn.Send(ctx, realtime.Message{Type: MessageCountUpdate, Data: CountUpdate{Count: count}}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (d *Dispatcher) List(ctx context.Context, adminID string, filter models.NotificationFilter) (*Page, error) {
	const op = "notification.Dispatcher.List"
	if filter.Limit <= 0 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	items, total, err := d.repo.ListNotifications(ctx, adminID, filter)
	if err != nil {
		d.log.Error("failed to list notifications", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if items == nil {
		items = []*models.Notification{}
	}
	return &Page{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (d *Dispatcher) UnreadCount(ctx context.Context, adminID string) (int, error) {
	const op = "notification.Dispatcher.UnreadCount"
	count, err := d.repo.UnreadCount(ctx, adminID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// MarkRead отмечает уведомление прочитанным для adminID и обновляет счётчик в его сессиях
func (d *Dispatcher) MarkRead(ctx context.Context, adminID string, id uuid.UUID) error {
	const op = "notification.Dispatcher.MarkRead"
	logger := d.log.With(slog.String("op", op), slog.String("adminID", adminID), slog.String("notificationID", id.String()))

	if err := d.repo.MarkRead(ctx, adminID, id); err != nil {
		if errors.Is(err, storage.ErrNotificationNotFound) {
			return fmt.Errorf("%s: %w: %w", op, service.ErrNotFound, err)
		}
		logger.Error("failed to mark notification read", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	d.pushCount(ctx, logger, adminID)
	return nil
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, adminID string) (int64, error) {
	const op = "notification.Dispatcher.MarkAllRead"
	logger := d.log.With(slog.String("op", op), slog.String("adminID", adminID))

	marked, err := d.repo.MarkAllRead(ctx, adminID)
	if err != nil {
		logger.Error("failed to mark all read", slog.Any("error", err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	d.pushCount(ctx, logger, adminID)
	logger.Info("notifications marked read", slog.Int64("count", marked))
	return marked, nil
}
