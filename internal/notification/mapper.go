package notification

import (
	"fmt"
	"time"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/google/uuid"
)

// FromEvent строит запись уведомления по доменному событию. Категория и форма Data
// полностью определяются типом события.
func FromEvent(event models.Event) (*models.Notification, error) {
	n := &models.Notification{
		ID:        uuid.New(),
		CreatedAt: event.OccurredAt().UTC(),
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	switch e := event.(type) {
	case models.OrderCreated:
		n.Title = "New order"
		n.Message = fmt.Sprintf("Order %s created for %s, total %s", e.OrderNumber, e.CustomerName, e.TotalAmount.StringFixed(0))
		n.Data = models.OrderSummary{
			OrderID:      e.OrderID,
			OrderNumber:  e.OrderNumber,
			CustomerName: e.CustomerName,
			TotalAmount:  e.TotalAmount,
			Status:       e.Status,
		}
	case models.OrderStatusChanged:
		n.Title = statusTitle(e.Status)
		n.Message = fmt.Sprintf("Order %s: %s -> %s", e.OrderNumber, e.PreviousStatus, e.Status)
		n.Data = models.OrderSummary{
			OrderID:        e.OrderID,
			OrderNumber:    e.OrderNumber,
			CustomerName:   e.CustomerName,
			TotalAmount:    e.TotalAmount,
			Status:         e.Status,
			PreviousStatus: e.PreviousStatus,
		}
	case models.ConsultationCreated:
		n.Title = "New consultation request"
		n.Message = fmt.Sprintf("%s asked about %d item(s)", e.CustomerName, e.TotalItems)
		n.Data = models.ConsultationSummary{
			ConsultationID: e.ConsultationID,
			CustomerName:   e.CustomerName,
			Phone:          e.Phone,
			TotalItems:     e.TotalItems,
		}
	case models.StockThresholdCrossed:
		if e.Direction == models.StockLow {
			n.Title = "Low stock"
			n.Message = fmt.Sprintf("%s has %d left (threshold %d)", e.ProductName, e.Stock, e.Threshold)
		} else {
			n.Title = "Stock restored"
			n.Message = fmt.Sprintf("%s is back to %d in stock", e.ProductName, e.Stock)
		}
		n.Data = models.InventorySummary{
			ProductID:   e.ProductID,
			ProductName: e.ProductName,
			Stock:       e.Stock,
			Threshold:   e.Threshold,
			Direction:   e.Direction,
		}
	case models.PaymentResult:
		if e.Success {
			n.Title = "Payment received"
			n.Message = fmt.Sprintf("Payment of %s for order %s succeeded", e.Amount.StringFixed(0), e.OrderNumber)
		} else {
			n.Title = "Payment failed"
			n.Message = fmt.Sprintf("Payment for order %s failed: %s", e.OrderNumber, e.Reason)
		}
		n.Data = models.PaymentSummary{
			OrderID:     e.OrderID,
			OrderNumber: e.OrderNumber,
			Amount:      e.Amount,
			Success:     e.Success,
			Reason:      e.Reason,
		}
	case models.UserAction:
		n.Title = "User activity"
		n.Message = fmt.Sprintf("%s %s", e.UserName, e.Action)
		n.Data = models.UserActionSummary{UserID: e.UserID, UserName: e.UserName, Action: e.Action}
	case models.SystemAlert:
		n.Title = e.Title
		n.Message = e.Message
		n.Data = models.SystemSummary{Level: e.Level, Source: e.Source}
	default:
		return nil, fmt.Errorf("no notification mapping for topic %q", event.Topic())
	}

	n.Category = n.Data.Category()
	return n, nil
}

func statusTitle(s models.OrderStatus) string {
	switch s {
	case models.StatusConfirmed:
		return "Order confirmed"
	case models.StatusProcessing:
		return "Order in processing"
	case models.StatusShipped:
		return "Order shipped"
	case models.StatusDelivered:
		return "Order delivered"
	case models.StatusCancelled:
		return "Order cancelled"
	}
	return "Order updated"
}
