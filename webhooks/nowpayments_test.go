package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/bradjohnson79/anointarray-sub003/gateways"
	"github.com/bradjohnson79/anointarray-sub003/models"
)

func signIPNPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("Failed to parse test payload: %v", err)
	}
	sorted, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("Failed to canonicalize test payload: %v", err)
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleNOWPayments_InvalidSignature(t *testing.T) {
	_, mock, producer, router := setupWebhookTest(t)

	payload := []byte(`{"payment_id":500,"payment_status":"finished","order_id":"ord-9"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/nowpayments", bytes.NewReader(payload))
	req.Header.Set("x-nowpayments-sig", "0000")
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

func TestHandleNOWPayments_FinishedPayment(t *testing.T) {
	_, mock, producer, router := setupWebhookTest(t)

	payload := []byte(`{"payment_id":501,"payment_status":"finished","order_id":"ord-10","price_amount":17,"price_currency":"usd"}`)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("nowpayments", "501:finished", "finished", string(payload)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE orders").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "seal_array_id", "customer_email", "amount", "currency",
			"status", "payment_gateway", "payment_id", "items",
		}).AddRow("ord-10", "sa-2", "buyer@example.com", 17.0, "USD",
			"paid", "nowpayments", "501", []byte("[]")))
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/nowpayments", bytes.NewReader(payload))
	req.Header.Set("x-nowpayments-sig", signIPNPayload(t, payload, "ipn_test"))
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

func TestHandleNOWPayments_ReplayedStatus(t *testing.T) {
	_, mock, producer, router := setupWebhookTest(t)

	payload := []byte(`{"payment_id":502,"payment_status":"confirmed","order_id":"ord-11"}`)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("nowpayments", "502:confirmed", "confirmed", string(payload)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/nowpayments", bytes.NewReader(payload))
	req.Header.Set("x-nowpayments-sig", signIPNPayload(t, payload, "ipn_test"))
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

func TestMapNOWPaymentsStatus(t *testing.T) {
	tests := []struct {
		vendor string
		status models.OrderStatus
	}{
		{"finished", models.OrderStatusPaid},
		{"confirmed", models.OrderStatusPaid},
		{"confirming", models.OrderStatusProcessing},
		{"sending", models.OrderStatusProcessing},
		{"partially_paid", models.OrderStatusProcessing},
		{"waiting", models.OrderStatusPending},
		{"failed", models.OrderStatusFailed},
		{"refunded", models.OrderStatusFailed},
		{"expired", models.OrderStatusExpired},
		{"some_future_status", models.OrderStatusPending},
	}

	for _, tt := range tests {
		if got := gateways.MapNOWPaymentsStatus(tt.vendor); got != tt.status {
			t.Errorf("MapNOWPaymentsStatus(%q): expected %q, got %q", tt.vendor, tt.status, got)
		}
	}
}

func TestVerifyNOWPaymentsSignature_KeyOrderIndependent(t *testing.T) {
	// The vendor signs the key-sorted body; verification must accept a
	// payload whose keys arrive in a different order.
	signedForm := []byte(`{"order_id":"ord-12","payment_id":503,"payment_status":"waiting"}`)
	receivedForm := []byte(`{"payment_status":"waiting","order_id":"ord-12","payment_id":503}`)

	sig := signIPNPayload(t, signedForm, "ipn_test")
	if err := VerifyNOWPaymentsSignature(receivedForm, sig, "ipn_test"); err != nil {
		t.Errorf("Expected signature to verify across key orderings, got %v", err)
	}
}

func TestVerifyStripeSignature_MissingSecret(t *testing.T) {
	err := VerifyStripeSignature([]byte("{}"), "t=1,v1=ab", "")
	if err != models.ErrMissingCredentials {
		t.Errorf("Expected ErrMissingCredentials, got %v", err)
	}
}
