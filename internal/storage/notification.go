package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/google/uuid"
)

// NotificationStorage журнал уведомлений и отметки о прочтении по каждому администратору.
type NotificationStorage interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	// ListNotifications возвращает страницу уведомлений и общее количество по фильтру.
	ListNotifications(ctx context.Context, adminID string, filter models.NotificationFilter) ([]*models.Notification, int, error)
	UnreadCount(ctx context.Context, adminID string) (int, error)
	// MarkRead идемпотентна: повторная отметка не ошибка.
	MarkRead(ctx context.Context, adminID string, id uuid.UUID) error
	MarkAllRead(ctx context.Context, adminID string) (int64, error)
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationStorage {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}
	query := `INSERT INTO notifications (id, category, title, message, data, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, n.ID, n.Category, n.Title, n.Message, data, n.CreatedAt); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) ListNotifications(ctx context.Context, adminID string, filter models.NotificationFilter) ([]*models.Notification, int, error) {
	from := `
		FROM notifications n
		LEFT JOIN notification_reads r ON r.notification_id = n.id AND r.admin_id = $1`
	if filter.UnreadOnly {
		from += `
		WHERE r.notification_id IS NULL`
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*)"+from, adminID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := `SELECT n.id, n.category, n.title, n.message, n.data, n.created_at, r.read_at` + from + `
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, adminID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*models.Notification{}
	for rows.Next() {
		n := &models.Notification{}
		var (
			data   []byte
			readAt sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.Category, &n.Title, &n.Message, &data, &n.CreatedAt, &readAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		if n.Data, err = models.DecodePayload(n.Category, data); err != nil {
			return nil, 0, err
		}
		if readAt.Valid {
			n.IsRead = true
			n.ReadAt = &readAt.Time
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, adminID string) (int, error) {
	query := `SELECT COUNT(*) FROM notifications n
		WHERE NOT EXISTS (SELECT 1 FROM notification_reads r WHERE r.notification_id = n.id AND r.admin_id = $1)`
	var count int
	if err := r.db.QueryRowContext(ctx, query, adminID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, adminID string, id uuid.UUID) error {
	query := `INSERT INTO notification_reads (notification_id, admin_id, read_at) VALUES ($1, $2, NOW())
	          ON CONFLICT (notification_id, admin_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, id, adminID); err != nil {
		if hasPQCode(err, pqForeignKeyViolation) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, adminID string) (int64, error) {
	query := `INSERT INTO notification_reads (notification_id, admin_id, read_at)
	          SELECT n.id, $1, NOW() FROM notifications n
	          ON CONFLICT (notification_id, admin_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, adminID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}
