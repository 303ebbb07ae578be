package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/fulfillment"
	"github.com/bradjohnson79/anointarray-sub003/models"
	"github.com/bradjohnson79/anointarray-sub003/notifications"
	"github.com/bradjohnson79/anointarray-sub003/ws"
)

func InitConsumer(logger *zap.Logger) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	brokers := []string{getEnv("KAFKA_BROKER", "localhost:9092")}

	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized")
	return consumer, nil
}

func StartConsumer(consumer sarama.Consumer, dispatcher *fulfillment.Dispatcher, mailer *notifications.Sender, hub *ws.Hub, logger *zap.Logger) error {
	topic := getEnv("KAFKA_TOPIC", "payment_events")
	partitionConsumer, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	logger.Info("Kafka consumer started", zap.String("topic", topic))

	for {
		select {
		case message := <-partitionConsumer.Messages():
			if err := handleMessage(message, dispatcher, mailer, hub, logger); err != nil {
				logger.Error("Failed to handle message", zap.Error(err))
			}
		case err := <-partitionConsumer.Errors():
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func handleMessage(message *sarama.ConsumerMessage, dispatcher *fulfillment.Dispatcher, mailer *notifications.Sender, hub *ws.Hub, logger *zap.Logger) error {
	// Extract trace context from Kafka message headers
	var propagator propagation.TextMapPropagator = otel.GetTextMapPropagator()
	carrier := saramaHeaderCarrierConsumer(message.Headers)
	ctx := propagator.Extract(context.Background(), carrier)

	var tracer trace.Tracer = otel.Tracer("anoint-svc")
	ctx, span := tracer.Start(ctx, "ProcessPaymentEvent")
	defer span.End()

	traceID := ""
	if span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
	}

	var event models.OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	span.SetAttributes(
		attribute.String("event.type", event.EventType),
		attribute.String("order.id", event.OrderID),
		attribute.String("gateway", event.Gateway),
	)

	logger.Info("Received event",
		zap.String("trace_id", traceID),
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
	)

	// Fulfillment and email failures are logged inside the dispatcher
	// and sender; the consumer never re-queues a payment event.
	switch event.EventType {
	case "order_paid":
		dispatcher.Dispatch(ctx, event)
		hub.BroadcastOrderStatus(event.OrderID, event.Status)
	case "order_failed":
		if err := mailer.SendPaymentFailed(ctx, event); err != nil {
			logger.Error("Failed to send payment failure email",
				zap.String("trace_id", traceID),
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		}
		hub.BroadcastOrderStatus(event.OrderID, event.Status)
	case "order_expired":
		if err := mailer.SendOrderExpired(ctx, event); err != nil {
			logger.Error("Failed to send expiry email",
				zap.String("trace_id", traceID),
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		}
		hub.BroadcastOrderStatus(event.OrderID, event.Status)
	case "checkout_created":
		hub.BroadcastOrderStatus(event.OrderID, event.Status)
	default:
		logger.Debug("Unknown event type", zap.String("event_type", event.EventType))
	}

	return nil
}

// saramaHeaderCarrierConsumer implements the TextMapCarrier interface for Kafka headers (for consumer)
type saramaHeaderCarrierConsumer []*sarama.RecordHeader

func (c saramaHeaderCarrierConsumer) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c saramaHeaderCarrierConsumer) Set(key, value string) {
	// Not needed for extraction
}

func (c saramaHeaderCarrierConsumer) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
