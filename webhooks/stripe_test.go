package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Mock Kafka producer for testing.
type mockProducer struct {
	sent int
}

func (m *mockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	m.sent++
	return 0, 0, nil
}

func (m *mockProducer) SendMessages(msgs []*sarama.ProducerMessage) error { return nil }
func (m *mockProducer) Close() error                                      { return nil }
func (m *mockProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnFlagReady
}
func (m *mockProducer) IsTransactional() bool { return false }
func (m *mockProducer) BeginTxn() error       { return nil }
func (m *mockProducer) CommitTxn() error      { return nil }
func (m *mockProducer) AbortTxn() error       { return nil }
func (m *mockProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}
func (m *mockProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func setupWebhookTest(t *testing.T) (*Receiver, sqlmock.Sqlmock, *mockProducer, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	producer := &mockProducer{}
	receiver := &Receiver{
		db:           db,
		producer:     producer,
		topic:        "payment_events",
		stripeSecret: "whsec_test",
		ipnSecret:    "ipn_test",
		logger:       logger,
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/webhooks/stripe", receiver.HandleStripe)
	router.POST("/api/webhooks/nowpayments", receiver.HandleNOWPayments)

	return receiver, mock, producer, router
}

func signStripePayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("1700000000."))
	mac.Write(payload)
	return fmt.Sprintf("t=1700000000,v1=%s", hex.EncodeToString(mac.Sum(nil)))
}

func TestHandleStripe_InvalidSignature(t *testing.T) {
	_, mock, producer, router := setupWebhookTest(t)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"order_id":"ord-1"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1700000000,v1=deadbeef")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if producer.sent != 0 {
		t.Errorf("No events should be published for a bad signature, got %d", producer.sent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database must not be touched for a bad signature: %v", err)
	}
}

func TestHandleStripe_PaidEvent(t *testing.T) {
	_, mock, producer, router := setupWebhookTest(t)

	payload := []byte(`{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{"id":"pi_2","metadata":{"order_id":"ord-2"}}}}`)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("stripe", "evt_2", "payment_intent.succeeded", string(payload)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE orders").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "seal_array_id", "customer_email", "amount", "currency",
			"status", "payment_gateway", "payment_id", "items",
		}).AddRow("ord-2", "sa-1", "buyer@example.com", 17.0, "USD",
			"paid", "stripe", "pi_2", []byte("[]")))
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(payload, "whsec_test"))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if producer.sent != 1 {
		t.Errorf("Expected 1 published order_paid event, got %d", producer.sent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestHandleStripe_ReplayedEvent(t *testing.T) {
	_, mock, producer, router := setupWebhookTest(t)

	payload := []byte(`{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{"id":"pi_3","metadata":{"order_id":"ord-3"}}}}`)

	// ON CONFLICT DO NOTHING hits an existing row: zero rows affected.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("stripe", "evt_3", "payment_intent.succeeded", string(payload)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(payload, "whsec_test"))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Replays must be acknowledged with %d, got %d", http.StatusOK, w.Code)
	}
	if producer.sent != 0 {
		t.Errorf("Replays must not publish events, got %d", producer.sent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Replays must not update orders: %v", err)
	}
}

func TestHandleStripe_IgnoredEventType(t *testing.T) {
	_, mock, producer, router := setupWebhookTest(t)

	payload := []byte(`{"id":"evt_4","type":"charge.refunded","data":{"object":{"id":"ch_1","metadata":{"order_id":"ord-4"}}}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(payload, "whsec_test"))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Ignored event types must be acknowledged with %d, got %d", http.StatusOK, w.Code)
	}
	if producer.sent != 0 {
		t.Errorf("Ignored event types must not publish events, got %d", producer.sent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Ignored event types must not touch the database: %v", err)
	}
}

func TestHandleStripe_UnknownOrder(t *testing.T) {
	_, mock, producer, router := setupWebhookTest(t)

	payload := []byte(`{"id":"evt_5","type":"checkout.session.completed","data":{"object":{"id":"cs_5","metadata":{"order_id":"missing"}}}}`)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE orders").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(payload, "whsec_test"))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Unknown orders must still be acknowledged with %d, got %d", http.StatusOK, w.Code)
	}
	if producer.sent != 0 {
		t.Errorf("Unknown orders must not publish events, got %d", producer.sent)
	}
}

func TestHandleStripe_RedeliveryAfterFailedUpdate(t *testing.T) {
	_, mock, producer, router := setupWebhookTest(t)

	payload := []byte(`{"id":"evt_6","type":"payment_intent.succeeded","data":{"object":{"id":"pi_6","metadata":{"order_id":"ord-6"}}}}`)

	// First delivery: dedup insert succeeds, order update hits a
	// transient failure, the transaction rolls back.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE orders").
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(payload, "whsec_test"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status %d on a failed update, got %d", http.StatusInternalServerError, w.Code)
	}
	if producer.sent != 0 {
		t.Fatalf("No events should be published on a failed update, got %d", producer.sent)
	}

	// Vendor redelivery: the rolled-back dedup row must not shadow the
	// retry, so the order update runs again and succeeds.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE orders").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "seal_array_id", "customer_email", "amount", "currency",
			"status", "payment_gateway", "payment_id", "items",
		}).AddRow("ord-6", "sa-6", "buyer@example.com", 17.0, "USD",
			"paid", "stripe", "pi_6", []byte("[]")))
	mock.ExpectCommit()

	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(payload, "whsec_test"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d on redelivery, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if producer.sent != 1 {
		t.Errorf("Expected redelivery to publish 1 order_paid event, got %d", producer.sent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestMapStripeEvent(t *testing.T) {
	tests := []struct {
		eventType string
		status    string
		handled   bool
	}{
		{"payment_intent.succeeded", "paid", true},
		{"checkout.session.completed", "paid", true},
		{"payment_intent.processing", "processing", true},
		{"payment_intent.payment_failed", "failed", true},
		{"payment_intent.canceled", "failed", true},
		{"checkout.session.expired", "expired", true},
		{"charge.refunded", "", false},
		{"charge.dispute.created", "", false},
		{"customer.created", "", false},
	}

	for _, tt := range tests {
		status, handled := mapStripeEvent(tt.eventType)
		if handled != tt.handled {
			t.Errorf("mapStripeEvent(%q): expected handled=%v, got %v", tt.eventType, tt.handled, handled)
		}
		if string(status) != tt.status {
			t.Errorf("mapStripeEvent(%q): expected status %q, got %q", tt.eventType, tt.status, status)
		}
	}
}
