package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/service"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// writeJSON сериализует ответ, ошибка кодирования уже не может поменять статус
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// writeServiceError переводит таксономию ошибок сервиса в HTTP статусы
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validationErr *service.ValidationError
		stockErr      *service.InsufficientStockError
		transitionErr *service.TransitionError
	)
	switch {
	case errors.As(err, &validationErr):
		logger.Warn("validation failed", slog.Any("error", err))
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrNotFound):
		logger.Warn("not found", slog.Any("error", err))
		http.Error(w, "not found", http.StatusNotFound)
	case errors.As(err, &stockErr):
		logger.Warn("insufficient stock", slog.Any("error", err))
		http.Error(w, stockErr.Error(), http.StatusConflict)
	case errors.As(err, &transitionErr):
		logger.Warn("invalid transition", slog.Any("error", err))
		http.Error(w, transitionErr.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidStatusTransition):
		logger.Warn("invalid transition", slog.Any("error", err))
		http.Error(w, service.ErrOrderImmutable.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrConflict):
		logger.Warn("conflict", slog.Any("error", err))
		http.Error(w, "order is being modified concurrently, retry", http.StatusConflict)
	default:
		logger.Error("request failed", slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	// с limit <= maxPageLimit смещение не переполняет int
	maxPage = 1_000_000
)

// pagination читает page и limit, page начинается с 1. limit больше maxPageLimit урезается,
// page больше maxPage считается ошибкой.
func pagination(r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	page, limit := 1, defaultPageLimit
	var err error
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 || page > maxPage {
			return 0, 0, false
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, false
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit, (page - 1) * limit, true
}
