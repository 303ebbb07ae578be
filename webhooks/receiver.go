package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/kafka"
	"github.com/bradjohnson79/anointarray-sub003/models"
)

// Receiver handles vendor webhooks: verify signature, map the vendor
// status vocabulary, update the order idempotently, then publish the
// lifecycle event. Side-effect failures never fail the webhook
// response; the vendor would otherwise redeliver indefinitely.
type Receiver struct {
	db           *sql.DB
	producer     sarama.SyncProducer
	topic        string
	stripeSecret string
	ipnSecret    string
	logger       *zap.Logger
}

func NewReceiver(db *sql.DB, producer sarama.SyncProducer, logger *zap.Logger) *Receiver {
	return &Receiver{
		db:           db,
		producer:     producer,
		topic:        getEnv("KAFKA_TOPIC", "payment_events"),
		stripeSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		ipnSecret:    os.Getenv("NOWPAYMENTS_IPN_SECRET"),
		logger:       logger,
	}
}

// processEvent records the event in the dedup table and transitions
// the order inside one transaction: the dedup row only commits
// together with the order update, so a transient update failure rolls
// it back and vendor redelivery gets a clean retry. Returns
// fresh=false if the (gateway, event_id) pair was already processed.
// Orders already paid are never downgraded; unknown and already-paid
// IDs surface as ErrOrderNotFound with the dedup row kept.
func (r *Receiver) processEvent(ctx context.Context, gateway, eventID, eventType string, payload []byte, orderID, paymentID string, status models.OrderStatus) (*models.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin webhook transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO webhook_events (gateway, event_id, event_type, payload) VALUES ($1, $2, $3, $4) ON CONFLICT (gateway, event_id) DO NOTHING",
		gateway, eventID, eventType, string(payload),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if rows == 0 {
		return nil, false, nil
	}

	var order models.Order
	var itemsJSON []byte
	err = tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     payment_id = CASE WHEN $2 <> '' THEN $2 ELSE payment_id END,
		     paid_at = CASE WHEN $1 = 'paid' AND paid_at IS NULL THEN CURRENT_TIMESTAMP ELSE paid_at END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = $3 AND status <> 'paid'
		 RETURNING id, seal_array_id, customer_email, amount, currency, status, payment_gateway, payment_id, items`,
		status, paymentID, orderID,
	).Scan(&order.ID, &order.SealArrayID, &order.CustomerEmail, &order.Amount, &order.Currency,
		&order.Status, &order.PaymentGateway, &order.PaymentID, &itemsJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			// Unknown or already-paid order: the event is handled, so
			// the dedup row stays.
			if err := tx.Commit(); err != nil {
				return nil, true, fmt.Errorf("failed to commit webhook event: %w", err)
			}
			return nil, true, models.ErrOrderNotFound
		}
		return nil, true, fmt.Errorf("failed to update order: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		r.logger.Warn("Failed to decode order items", zap.String("order_id", order.ID), zap.Error(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, true, fmt.Errorf("failed to commit webhook event: %w", err)
	}
	return &order, true, nil
}

// publishTransition emits the lifecycle event for terminal statuses.
// Publish failures are logged only.
func (r *Receiver) publishTransition(ctx context.Context, order *models.Order, traceID string) {
	var eventType string
	switch order.Status {
	case models.OrderStatusPaid:
		eventType = "order_paid"
	case models.OrderStatusFailed:
		eventType = "order_failed"
	case models.OrderStatusExpired:
		eventType = "order_expired"
	default:
		return
	}

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

	if err := kafka.PublishOrderEvent(ctx, r.producer, r.topic, event, r.logger); err != nil {
		r.logger.Error("Failed to publish order event",
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
