package gateways

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bradjohnson79/anointarray-sub003/models"
)

// Gateway translates an internal checkout request into a vendor
// session/order/invoice and normalizes the response. Adapters create
// remote vendor resources only; they never touch local state.
type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, order models.Order, mode string) (*models.CheckoutSession, error)
}

// StatusChecker is implemented by gateways that support polling a
// payment's vendor-side status (PUT/GET handlers).
type StatusChecker interface {
	PaymentStatus(ctx context.Context, paymentID string) (models.OrderStatus, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func readBody(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if err != nil {
		return ""
	}
	return string(body)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
