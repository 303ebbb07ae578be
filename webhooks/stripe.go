package webhooks

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/middleware"
	"github.com/bradjohnson79/anointarray-sub003/models"
)

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// mapStripeEvent maps Stripe event types onto the internal status enum.
// Events outside the table are acknowledged and ignored.
func mapStripeEvent(eventType string) (models.OrderStatus, bool) {
	switch eventType {
	case "payment_intent.succeeded", "checkout.session.completed":
		return models.OrderStatusPaid, true
	case "payment_intent.processing":
		return models.OrderStatusProcessing, true
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return models.OrderStatusFailed, true
	case "checkout.session.expired":
		return models.OrderStatusExpired, true
	case "charge.refunded", "charge.dispute.created":
		// Refunds and disputes are logged only; paid orders are never
		// reverted automatically.
		return "", false
	default:
		return "", false
	}
}

func (r *Receiver) HandleStripe(c *gin.Context) {
	ctx, span := otel.Tracer("anoint-svc").Start(c.Request.Context(), "StripeWebhook")
	defer span.End()
	traceID := middleware.GetTraceID(ctx)

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read payload"})
		return
	}

	if err := VerifyStripeSignature(payload, c.GetHeader("Stripe-Signature"), r.stripeSecret); err != nil {
		span.RecordError(err)
		middleware.RecordWebhookEvent("stripe", "signature_failed")
		r.logger.Warn("Stripe webhook signature verification failed",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
		middleware.RecordWebhookEvent("stripe", "malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
		return
	}

	span.SetAttributes(
		attribute.String("stripe.event_id", event.ID),
		attribute.String("stripe.event_type", event.Type),
	)

	status, handled := mapStripeEvent(event.Type)
	if !handled {
		r.logger.Info("Ignoring stripe event",
			zap.String("trace_id", traceID),
			zap.String("event_type", event.Type),
		)
		middleware.RecordWebhookEvent("stripe", "ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	orderID := event.Data.Object.Metadata["order_id"]
	order, fresh, err := r.processEvent(ctx, "stripe", event.ID, event.Type, payload, orderID, event.Data.Object.ID, status)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			r.logger.Warn("Stripe event for unknown or already-paid order",
				zap.String("trace_id", traceID),
				zap.String("order_id", orderID),
			)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		span.RecordError(err)
		r.logger.Error("Failed to apply stripe event", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !fresh {
		// Vendor redelivery; already handled.
		middleware.RecordWebhookEvent("stripe", "duplicate")
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	middleware.RecordWebhookEvent("stripe", string(status))
	r.logger.Info("Order status updated from stripe webhook",
		zap.String("trace_id", traceID),
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
	)

	r.publishTransition(ctx, order, traceID)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
