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

type PayPalGateway struct {
	clientID     string
	clientSecret string
	baseURL      string
	siteURL      string
	client       *http.Client
	logger       *zap.Logger
}

func NewPayPalGateway(logger *zap.Logger) *PayPalGateway {
	env := getEnv("PAYPAL_ENVIRONMENT", "sandbox")

	clientID := os.Getenv("PAYPAL_CLIENT_ID")
	clientSecret := os.Getenv("PAYPAL_CLIENT_SECRET")
	baseURL := "https://api-m.paypal.com"
	if env != "live" && env != "production" {
		if v := os.Getenv("PAYPAL_CLIENT_ID_SANDBOX"); v != "" {
			clientID = v
		}
		if v := os.Getenv("PAYPAL_CLIENT_SECRET_SANDBOX"); v != "" {
			clientSecret = v
		}
		baseURL = "https://api-m.sandbox.paypal.com"
	}

	return &PayPalGateway{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      getEnv("PAYPAL_API_URL", baseURL),
		siteURL:      getEnv("SITE_URL", "https://anointarray.com"),
		client:       newHTTPClient(),
		logger:       logger,
	}
}

func (g *PayPalGateway) Name() string { return "paypal" }

func (g *PayPalGateway) CreateSession(ctx context.Context, order models.Order, _ string) (*models.CheckoutSession, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": order.ID,
			"custom_id":    order.SealArrayID,
			"amount": map[string]string{
				"currency_code": strings.ToUpper(order.Currency),
				"value":         fmt.Sprintf("%.2f", order.Amount),
			},
		}},
		"application_context": map[string]string{
			"return_url": g.siteURL + "/checkout/success?orderId=" + order.ID,
			"cancel_url": g.siteURL + "/checkout/cancel?orderId=" + order.ID,
		},
	}

	var out struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := g.post(ctx, token, "/v2/checkout/orders", payload, &out); err != nil {
		return nil, err
	}

	approvalURL := ""
	for _, link := range out.Links {
		if link.Rel == "approve" {
			approvalURL = link.Href
			break
		}
	}

	g.logger.Info("PayPal order created",
		zap.String("order_id", order.ID),
		zap.String("paypal_order_id", out.ID),
	)

	return &models.CheckoutSession{
		PaymentID:   out.ID,
		Type:        "paypal_order",
		CheckoutURL: approvalURL,
	}, nil
}

// Capture finalizes an approved PayPal order. PayPal confirmation is
// driven by this explicit call rather than a signed webhook.
func (g *PayPalGateway) Capture(ctx context.Context, paypalOrderID string) (models.OrderStatus, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return "", err
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := g.post(ctx, token, "/v2/checkout/orders/"+paypalOrderID+"/capture", map[string]any{}, &out); err != nil {
		return "", err
	}

	switch out.Status {
	case "COMPLETED":
		return models.OrderStatusPaid, nil
	case "PENDING":
		return models.OrderStatusProcessing, nil
	default:
		return models.OrderStatusFailed, nil
	}
}

func (g *PayPalGateway) PaymentStatus(ctx context.Context, paymentID string) (models.OrderStatus, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v2/checkout/orders/"+paymentID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &models.GatewayError{Gateway: "paypal", StatusCode: resp.StatusCode, Body: readBody(resp)}
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode paypal response: %w", err)
	}

	switch out.Status {
	case "COMPLETED":
		return models.OrderStatusPaid, nil
	case "APPROVED", "SAVED":
		return models.OrderStatusProcessing, nil
	case "VOIDED":
		return models.OrderStatusFailed, nil
	default:
		return models.OrderStatusPending, nil
	}
}

func (g *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	if g.clientID == "" || g.clientSecret == "" {
		return "", models.ErrMissingCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.clientID, g.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &models.GatewayError{Gateway: "paypal", StatusCode: resp.StatusCode, Body: readBody(resp)}
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode paypal token response: %w", err)
	}
	return out.AccessToken, nil
}

func (g *PayPalGateway) post(ctx context.Context, token, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal paypal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("paypal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &models.GatewayError{Gateway: "paypal", StatusCode: resp.StatusCode, Body: readBody(resp)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode paypal response: %w", err)
	}
	return nil
}
