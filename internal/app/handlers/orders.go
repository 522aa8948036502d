package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItemRequest позиция заказа. Цена задаётся администратором.
type OrderItemRequest struct {
	ProductID      string          `json:"product_id" validate:"required,uuid"`
	Quantity       int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	RequestedColor string          `json:"requested_color" validate:"omitempty,max=64"`
}

type CreateOrderRequest struct {
	CustomerID        string                  `json:"customer_id" validate:"required,uuid"`
	Kind              string                  `json:"kind" validate:"required,oneof=custom product"`
	Items             []OrderItemRequest      `json:"items" validate:"dive"`
	DeliveryAddress   *models.DeliveryAddress `json:"delivery_address"`
	ShippingCost      decimal.Decimal         `json:"shipping_cost"`
	ShippingDiscount  decimal.Decimal         `json:"shipping_discount"`
	CustomDescription string                  `json:"custom_description" validate:"max=2000"`
	Notes             string                  `json:"notes" validate:"max=2000"`
}

type ReplaceItemsRequest struct {
	Items []OrderItemRequest `json:"items" validate:"dive"`
}

type AdvanceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed processing shipped delivered cancelled"`
}

func toItemInputs(items []OrderItemRequest) []service.ItemInput {
	out := make([]service.ItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, service.ItemInput{
			// формат уже проверен валидатором
			ProductID:      uuid.MustParse(it.ProductID),
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice,
			RequestedColor: it.RequestedColor,
		})
	}
	return out
}

// CreateOrderHandler обрабатывает POST /api/orders
func CreateOrderHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateOrderHandler"
		logger := log.With(slog.String("op", op))

		var req CreateOrderRequest
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

		order, err := orders.CreateOrder(r.Context(), service.CreateOrderInput{
			CustomerID: uuid.MustParse(req.CustomerID),
			Kind:       models.OrderKind(req.Kind),
			Items:      toItemInputs(req.Items),
			Shipping: service.ShippingInfo{
				Address:  req.DeliveryAddress,
				Cost:     req.ShippingCost,
				Discount: req.ShippingDiscount,
			},
			CustomDescription: req.CustomDescription,
			Notes:             req.Notes,
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, order)
	}
}

// ListOrdersHandler обрабатывает GET /api/orders?status=&customer_id=&page=&limit=
func ListOrdersHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListOrdersHandler"
		logger := log.With(slog.String("op", op))

		limit, offset, ok := pagination(r)
		if !ok {
			http.Error(w, "invalid pagination", http.StatusBadRequest)
			return
		}
		filter := models.OrderFilter{Limit: limit, Offset: offset}

		if v := r.URL.Query().Get("status"); v != "" {
			status, err := models.ParseOrderStatus(v)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			filter.Status = &status
		}
		if v := r.URL.Query().Get("customer_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				http.Error(w, "invalid customer_id", http.StatusBadRequest)
				return
			}
			filter.CustomerID = &id
		}

		list, err := orders.ListOrders(r.Context(), filter)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		if list == nil {
			list = []*models.Order{}
		}
		writeJSON(w, logger, http.StatusOK, list)
	}
}

func orderID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		logger.Error("invalid order id", slog.String("id", chi.URLParam(r, "id")))
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// GetOrderHandler обрабатывает GET /api/orders/{id}
func GetOrderHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetOrderHandler"
		logger := log.With(slog.String("op", op))

		id, ok := orderID(w, r, logger)
		if !ok {
			return
		}
		order, err := orders.GetOrder(r.Context(), id)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// ReplaceItemsHandler обрабатывает PUT /api/orders/{id}/items
func ReplaceItemsHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ReplaceItemsHandler"
		logger := log.With(slog.String("op", op))

		id, ok := orderID(w, r, logger)
		if !ok {
			return
		}
		var req ReplaceItemsRequest
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

		order, err := orders.ReplaceItems(r.Context(), id, toItemInputs(req.Items))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// ConfirmOrderHandler обрабатывает POST /api/orders/{id}/confirm
func ConfirmOrderHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ConfirmOrderHandler"
		logger := log.With(slog.String("op", op))

		id, ok := orderID(w, r, logger)
		if !ok {
			return
		}
		order, err := orders.ConfirmOrder(r.Context(), id)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// AdvanceStatusHandler обрабатывает POST /api/orders/{id}/status
func AdvanceStatusHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.AdvanceStatusHandler"
		logger := log.With(slog.String("op", op))

		id, ok := orderID(w, r, logger)
		if !ok {
			return
		}
		var req AdvanceStatusRequest
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

		order, err := orders.AdvanceStatus(r.Context(), id, models.OrderStatus(req.Status))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// CancelOrderHandler обрабатывает POST /api/orders/{id}/cancel
func CancelOrderHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CancelOrderHandler"
		logger := log.With(slog.String("op", op))

		id, ok := orderID(w, r, logger)
		if !ok {
			return
		}
		order, err := orders.CancelOrder(r.Context(), id)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}
