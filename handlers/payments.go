package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/gateways"
	"github.com/bradjohnson79/anointarray-sub003/kafka"
	"github.com/bradjohnson79/anointarray-sub003/middleware"
	"github.com/bradjohnson79/anointarray-sub003/models"
)

// Seal array price in this deployment; validated exactly before any
// vendor call.
const (
	fixedAmount   = 17.0
	fixedCurrency = "USD"
)

// Capturer is implemented by gateways whose confirmation is an
// explicit capture call rather than a signed webhook (PayPal).
type Capturer interface {
	Capture(ctx context.Context, paymentID string) (models.OrderStatus, error)
}

type PaymentHandler struct {
	db       *sql.DB
	producer sarama.SyncProducer
	topic    string
	gateways map[string]gateways.Gateway
	logger   *zap.Logger
}

func NewPaymentHandler(db *sql.DB, producer sarama.SyncProducer, gws map[string]gateways.Gateway, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		db:       db,
		producer: producer,
		topic:    getEnv("KAFKA_TOPIC", "payment_events"),
		gateways: gws,
		logger:   logger,
	}
}

func (h *PaymentHandler) CreateSession(c *gin.Context) {
	ctx, span := otel.Tracer("anoint-svc").Start(c.Request.Context(), "CreateSession")
	defer span.End()
	traceID := middleware.GetTraceID(ctx)

	gw, ok := h.gateways[c.Param("gateway")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown payment gateway"})
		return
	}

	var req models.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("gateway", gw.Name()),
		attribute.String("seal_array_id", req.SealArrayID),
		attribute.Float64("amount", req.Amount),
	)

	// Validated exactly before any vendor call.
	if req.Amount != fixedAmount {
		middleware.RecordPaymentSession(gw.Name(), "rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount: seal array checkout is $17.00"})
		return
	}
	if !strings.EqualFold(req.Currency, fixedCurrency) {
		middleware.RecordPaymentSession(gw.Name(), "rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid currency: only USD is supported"})
		return
	}

	items := req.Items
	if items == nil {
		items = []models.OrderItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid items"})
		return
	}

	order := models.Order{
		ID:             uuid.NewString(),
		SealArrayID:    req.SealArrayID,
		Items:          items,
		CustomerEmail:  req.CustomerEmail,
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		Status:         models.OrderStatusPending,
		PaymentGateway: gw.Name(),
	}

	err = h.db.QueryRowContext(ctx,
		`INSERT INTO orders (id, seal_array_id, items, customer_email, amount, currency, status, payment_gateway)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		order.ID, order.SealArrayID, itemsJSON, order.CustomerEmail,
		order.Amount, order.Currency, order.Status, order.PaymentGateway,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create order", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	session, err := gw.CreateSession(ctx, order, req.Mode)
	if err != nil {
		span.RecordError(err)
		middleware.RecordPaymentSession(gw.Name(), "error")
		h.logger.Error("Failed to create payment session",
			zap.String("trace_id", traceID),
			zap.String("gateway", gw.Name()),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		var gwErr *models.GatewayError
		switch {
		case errors.Is(err, models.ErrMissingCredentials):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment gateway not configured"})
		case errors.As(err, &gwErr):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":         "Payment gateway rejected the request",
				"vendor_status": gwErr.StatusCode,
				"vendor_detail": gwErr.Body,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	if _, err := h.db.ExecContext(ctx,
		"UPDATE orders SET payment_id = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		session.PaymentID, order.ID,
	); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to store payment id", zap.String("trace_id", traceID), zap.Error(err))
	}
	order.PaymentID = session.PaymentID

	h.publishEvent(ctx, order, "checkout_created", traceID)

	middleware.RecordPaymentSession(gw.Name(), "created")
	h.logger.Info("Payment session created",
		zap.String("trace_id", traceID),
		zap.String("gateway", gw.Name()),
		zap.String("order_id", order.ID),
		zap.String("payment_id", session.PaymentID),
	)

	c.JSON(http.StatusOK, models.CheckoutResponse{
		Success:      true,
		Type:         session.Type,
		OrderID:      order.ID,
		CheckoutURL:  session.CheckoutURL,
		ClientSecret: session.ClientSecret,
	})
}

// Capture confirms a payment explicitly: PayPal order capture, or a
// status refresh for gateways that only support polling.
func (h *PaymentHandler) Capture(c *gin.Context) {
	ctx, span := otel.Tracer("anoint-svc").Start(c.Request.Context(), "CapturePayment")
	defer span.End()
	traceID := middleware.GetTraceID(ctx)

	gw, ok := h.gateways[c.Param("gateway")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown payment gateway"})
		return
	}

	var req models.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("gateway", gw.Name()),
		attribute.String("order.id", req.OrderID),
	)

	paymentID := req.PaymentID
	if paymentID == "" {
		err := h.db.QueryRowContext(ctx,
			"SELECT payment_id FROM orders WHERE id = $1 AND payment_gateway = $2",
			req.OrderID, gw.Name(),
		).Scan(&paymentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
				return
			}
			span.RecordError(err)
			h.logger.Error("Failed to load order", zap.String("trace_id", traceID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	var status models.OrderStatus
	var err error
	if capturer, ok := gw.(Capturer); ok {
		status, err = capturer.Capture(ctx, paymentID)
	} else if checker, ok := gw.(gateways.StatusChecker); ok {
		status, err = checker.PaymentStatus(ctx, paymentID)
	} else {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Gateway does not support capture"})
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Capture failed",
			zap.String("trace_id", traceID),
			zap.String("gateway", gw.Name()),
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
		var gwErr *models.GatewayError
		if errors.As(err, &gwErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway rejected the capture", "vendor_status": gwErr.StatusCode})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	order, updated, err := h.applyStatus(ctx, req.OrderID, status)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to update order", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if updated && order.Status == models.OrderStatusPaid {
		h.publishEvent(ctx, *order, "order_paid", traceID)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": status})
}

func (h *PaymentHandler) GetStatus(c *gin.Context) {
	ctx, span := otel.Tracer("anoint-svc").Start(c.Request.Context(), "GetPaymentStatus")
	defer span.End()

	orderID := c.Query("orderId")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}

	span.SetAttributes(attribute.String("order.id", orderID))

	var order models.Order
	var itemsJSON []byte
	err := h.db.QueryRowContext(ctx,
		`SELECT id, seal_array_id, items, customer_email, amount, currency, status, payment_gateway, payment_id, created_at, updated_at, paid_at
		 FROM orders WHERE id = $1`,
		orderID,
	).Scan(&order.ID, &order.SealArrayID, &itemsJSON, &order.CustomerEmail, &order.Amount,
		&order.Currency, &order.Status, &order.PaymentGateway, &order.PaymentID,
		&order.CreatedAt, &order.UpdatedAt, &order.PaidAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		h.logger.Warn("Failed to decode order items", zap.String("order_id", order.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, order)
}

// applyStatus mirrors the webhook transition rule: paid orders are
// never downgraded.
func (h *PaymentHandler) applyStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, bool, error) {
	var order models.Order
	var itemsJSON []byte
	err := h.db.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     paid_at = CASE WHEN $1 = 'paid' AND paid_at IS NULL THEN CURRENT_TIMESTAMP ELSE paid_at END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = $2 AND status <> 'paid'
		 RETURNING id, seal_array_id, customer_email, amount, currency, status, payment_gateway, payment_id, items`,
		status, orderID,
	).Scan(&order.ID, &order.SealArrayID, &order.CustomerEmail, &order.Amount, &order.Currency,
		&order.Status, &order.PaymentGateway, &order.PaymentID, &itemsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the order is already paid (fine to ack) or the ID
			// is unknown; tell them apart.
			var current models.OrderStatus
			err := h.db.QueryRowContext(ctx, "SELECT status FROM orders WHERE id = $1", orderID).Scan(&current)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, false, models.ErrOrderNotFound
				}
				return nil, false, err
			}
			return &models.Order{ID: orderID, Status: current}, false, nil
		}
		return nil, false, err
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		h.logger.Warn("Failed to decode order items", zap.String("order_id", order.ID), zap.Error(err))
	}
	return &order, true, nil
}

func (h *PaymentHandler) publishEvent(ctx context.Context, order models.Order, eventType, traceID string) {
	event := models.OrderEvent{
		OrderID:       order.ID,
		SealArrayID:   order.SealArrayID,
		CustomerEmail: order.CustomerEmail,
		Amount:        order.Amount,
		Currency:      order.Currency,
		Status:        order.Status,
		Gateway:       order.PaymentGateway,
		PaymentID:     order.PaymentID,
		Items:         order.Items,
		EventType:     eventType,
	}
	if err := kafka.PublishOrderEvent(ctx, h.producer, h.topic, event, h.logger); err != nil {
		// Don't fail the request, but log the error
		h.logger.Error("Failed to publish order event",
			zap.String("trace_id", traceID),
			zap.String("order_id", order.ID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
