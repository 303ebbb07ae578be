package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/models"
)

type NOWPaymentsGateway struct {
	apiKey  string
	baseURL string
	siteURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewNOWPaymentsGateway(logger *zap.Logger) *NOWPaymentsGateway {
	return &NOWPaymentsGateway{
		apiKey:  os.Getenv("NOWPAYMENTS_API_KEY"),
		baseURL: getEnv("NOWPAYMENTS_API_URL", "https://api.nowpayments.io"),
		siteURL: getEnv("SITE_URL", "https://anointarray.com"),
		client:  newHTTPClient(),
		logger:  logger,
	}
}

func (g *NOWPaymentsGateway) Name() string { return "nowpayments" }

func (g *NOWPaymentsGateway) CreateSession(ctx context.Context, order models.Order, _ string) (*models.CheckoutSession, error) {
	if g.apiKey == "" {
		return nil, models.ErrMissingCredentials
	}

	payload := map[string]any{
		"price_amount":      order.Amount,
		"price_currency":    strings.ToLower(order.Currency),
		"order_id":          order.ID,
		"order_description": fmt.Sprintf("ANOINT Seal Array %s", order.SealArrayID),
		"ipn_callback_url":  g.siteURL + "/api/webhooks/nowpayments",
		"success_url":       g.siteURL + "/checkout/success?orderId=" + order.ID,
		"cancel_url":        g.siteURL + "/checkout/cancel?orderId=" + order.ID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invoice request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/invoice", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nowpayments request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &models.GatewayError{Gateway: "nowpayments", StatusCode: resp.StatusCode, Body: readBody(resp)}
	}

	var out struct {
		ID         json.Number `json:"id"`
		InvoiceURL string      `json:"invoice_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode nowpayments response: %w", err)
	}

	g.logger.Info("NOWPayments invoice created",
		zap.String("order_id", order.ID),
		zap.String("invoice_id", out.ID.String()),
	)

	return &models.CheckoutSession{
		PaymentID:   out.ID.String(),
		Type:        "invoice",
		CheckoutURL: out.InvoiceURL,
	}, nil
}

func (g *NOWPaymentsGateway) PaymentStatus(ctx context.Context, paymentID string) (models.OrderStatus, error) {
	if g.apiKey == "" {
		return "", models.ErrMissingCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/payment/"+paymentID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("x-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("nowpayments request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &models.GatewayError{Gateway: "nowpayments", StatusCode: resp.StatusCode, Body: readBody(resp)}
	}

	var out struct {
		PaymentStatus string `json:"payment_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode nowpayments response: %w", err)
	}
	return MapNOWPaymentsStatus(out.PaymentStatus), nil
}

// MapNOWPaymentsStatus maps NOWPayments' status vocabulary onto the
// internal order status enum. Unknown statuses stay pending.
func MapNOWPaymentsStatus(status string) models.OrderStatus {
	switch status {
	case "finished", "confirmed":
		return models.OrderStatusPaid
	case "confirming", "sending", "partially_paid":
		return models.OrderStatusProcessing
	case "waiting":
		return models.OrderStatusPending
	case "failed", "refunded":
		return models.OrderStatusFailed
	case "expired":
		return models.OrderStatusExpired
	default:
		return models.OrderStatusPending
	}
}
