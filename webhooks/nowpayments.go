package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/gateways"
	"github.com/bradjohnson79/anointarray-sub003/middleware"
	"github.com/bradjohnson79/anointarray-sub003/models"
)

type nowPaymentsIPN struct {
	PaymentID     json.Number `json:"payment_id"`
	InvoiceID     json.Number `json:"invoice_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
	PriceAmount   float64     `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
}

func (r *Receiver) HandleNOWPayments(c *gin.Context) {
	ctx, span := otel.Tracer("anoint-svc").Start(c.Request.Context(), "NOWPaymentsIPN")
	defer span.End()
	traceID := middleware.GetTraceID(ctx)

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read payload"})
		return
	}

	if err := VerifyNOWPaymentsSignature(payload, c.GetHeader("x-nowpayments-sig"), r.ipnSecret); err != nil {
		span.RecordError(err)
		middleware.RecordWebhookEvent("nowpayments", "signature_failed")
		r.logger.Warn("NOWPayments IPN signature verification failed",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	var ipn nowPaymentsIPN
	if err := json.Unmarshal(payload, &ipn); err != nil || ipn.PaymentID.String() == "" || ipn.PaymentStatus == "" {
		middleware.RecordWebhookEvent("nowpayments", "malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed IPN payload"})
		return
	}

	span.SetAttributes(
		attribute.String("nowpayments.payment_id", ipn.PaymentID.String()),
		attribute.String("nowpayments.status", ipn.PaymentStatus),
	)

	status := gateways.MapNOWPaymentsStatus(ipn.PaymentStatus)

	// NOWPayments has no event ID; the (payment, status) pair is the
	// dedup key since each status is delivered at most once per payment.
	eventID := fmt.Sprintf("%s:%s", ipn.PaymentID.String(), ipn.PaymentStatus)
	order, fresh, err := r.processEvent(ctx, "nowpayments", eventID, ipn.PaymentStatus, payload, ipn.OrderID, ipn.PaymentID.String(), status)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			r.logger.Warn("NOWPayments IPN for unknown or already-paid order",
				zap.String("trace_id", traceID),
				zap.String("order_id", ipn.OrderID),
			)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		span.RecordError(err)
		r.logger.Error("Failed to apply nowpayments event", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !fresh {
		middleware.RecordWebhookEvent("nowpayments", "duplicate")
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	middleware.RecordWebhookEvent("nowpayments", string(status))
	r.logger.Info("Order status updated from nowpayments IPN",
		zap.String("trace_id", traceID),
		zap.String("order_id", order.ID),
		zap.String("payment_status", ipn.PaymentStatus),
		zap.String("status", string(order.Status)),
	)

	r.publishTransition(ctx, order, traceID)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
