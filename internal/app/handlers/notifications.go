package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/jwt-new/jwtmiddleware"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/notification"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// NotificationService pull-запросы к журналу уведомлений
type NotificationService interface {
	List(ctx context.Context, adminID string, filter models.NotificationFilter) (*notification.Page, error)
	UnreadCount(ctx context.Context, adminID string) (int, error)
	MarkRead(ctx context.Context, adminID string, id uuid.UUID) error
	MarkAllRead(ctx context.Context, adminID string) (int64, error)
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

type MarkAllReadResponse struct {
	Marked int64 `json:"marked"`
}

type SystemAnnouncementRequest struct {
	Level   string `json:"level" validate:"required,oneof=info warning error"`
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=2000"`
}

type ConsultationEventRequest struct {
	ConsultationID string `json:"consultation_id" validate:"required"`
	CustomerName   string `json:"customer_name" validate:"required"`
	Phone          string `json:"phone"`
	TotalItems     int    `json:"total_items" validate:"gte=0"`
}

// ListNotificationsHandler обрабатывает GET /api/notifications?unread=true&page=1&limit=20
func ListNotificationsHandler(log *slog.Logger, notifications NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListNotificationsHandler"
		logger := log.With(slog.String("op", op))

		adminID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("adminID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		limit, offset, ok := pagination(r)
		if !ok {
			http.Error(w, "invalid pagination", http.StatusBadRequest)
			return
		}
		filter := models.NotificationFilter{Limit: limit, Offset: offset}
		if v := r.URL.Query().Get("unread"); v != "" {
			unread, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, "invalid unread flag", http.StatusBadRequest)
				return
			}
			filter.UnreadOnly = unread
		}

		page, err := notifications.List(r.Context(), adminID, filter)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, page)
	}
}

// UnreadCountHandler обрабатывает GET /api/notifications/unread-count
func UnreadCountHandler(log *slog.Logger, notifications NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UnreadCountHandler"
		logger := log.With(slog.String("op", op))

		adminID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("adminID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		count, err := notifications.UnreadCount(r.Context(), adminID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, UnreadCountResponse{Count: count})
	}
}

// MarkReadHandler обрабатывает POST /api/notifications/{id}/read
func MarkReadHandler(log *slog.Logger, notifications NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.MarkReadHandler"
		logger := log.With(slog.String("op", op))

		adminID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("adminID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid notification id", http.StatusBadRequest)
			return
		}

		if err := notifications.MarkRead(r.Context(), adminID, id); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// MarkAllReadHandler обрабатывает POST /api/notifications/read-all
func MarkAllReadHandler(log *slog.Logger, notifications NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.MarkAllReadHandler"
		logger := log.With(slog.String("op", op))

		adminID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("adminID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		marked, err := notifications.MarkAllRead(r.Context(), adminID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, MarkAllReadResponse{Marked: marked})
	}
}

// SystemAnnouncementHandler обрабатывает POST /api/notifications/system
func SystemAnnouncementHandler(log *slog.Logger, events service.EventPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.SystemAnnouncementHandler"
		logger := log.With(slog.String("op", op))

		adminID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("adminID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req SystemAnnouncementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			http.Error(w, "validation error: "+err.Error(), http.StatusBadRequest)
			return
		}

		events.Publish(models.SystemAlert{
			Level:   req.Level,
			Title:   req.Title,
			Message: req.Message,
			Source:  "admin:" + adminID,
			At:      time.Now().UTC(),
		})
		w.WriteHeader(http.StatusAccepted)
	}
}

// ConsultationEventHandler обрабатывает POST /api/consultations/events: сервис консультаций
// сообщает о новой заявке, дальше она идёт по шине как обычное событие.
func ConsultationEventHandler(log *slog.Logger, events service.EventPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ConsultationEventHandler"
		logger := log.With(slog.String("op", op))

		var req ConsultationEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			http.Error(w, "validation error: "+err.Error(), http.StatusBadRequest)
			return
		}

		events.Publish(models.ConsultationCreated{
			ConsultationID: req.ConsultationID,
			CustomerName:   req.CustomerName,
			Phone:          req.Phone,
			TotalItems:     req.TotalItems,
			At:             time.Now().UTC(),
		})
		w.WriteHeader(http.StatusAccepted)
	}
}
