package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/models"
)

type StripeGateway struct {
	secretKey string
	baseURL   string
	siteURL   string
	client    *http.Client
	logger    *zap.Logger
}

func NewStripeGateway(logger *zap.Logger) *StripeGateway {
	return &StripeGateway{
		secretKey: os.Getenv("STRIPE_SECRET_KEY"),
		baseURL:   getEnv("STRIPE_API_URL", "https://api.stripe.com"),
		siteURL:   getEnv("SITE_URL", "https://anointarray.com"),
		client:    newHTTPClient(),
		logger:    logger,
	}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateSession(ctx context.Context, order models.Order, mode string) (*models.CheckoutSession, error) {
	if g.secretKey == "" {
		return nil, models.ErrMissingCredentials
	}

	if mode == "payment_intent" {
		return g.createPaymentIntent(ctx, order)
	}
	return g.createCheckoutSession(ctx, order)
}

func (g *StripeGateway) createCheckoutSession(ctx context.Context, order models.Order) (*models.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", g.siteURL+"/checkout/success?orderId="+order.ID)
	form.Set("cancel_url", g.siteURL+"/checkout/cancel?orderId="+order.ID)
	form.Set("line_items[0][price_data][currency]", strings.ToLower(order.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.Itoa(toCents(order.Amount)))
	form.Set("line_items[0][price_data][product_data][name]", "ANOINT Seal Array "+order.SealArrayID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[order_id]", order.ID)
	if order.CustomerEmail != "" {
		form.Set("customer_email", order.CustomerEmail)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := g.post(ctx, "/v1/checkout/sessions", form, &out); err != nil {
		return nil, err
	}

	g.logger.Info("Stripe checkout session created",
		zap.String("order_id", order.ID),
		zap.String("session_id", out.ID),
	)

	return &models.CheckoutSession{
		PaymentID:   out.ID,
		Type:        "checkout_session",
		CheckoutURL: out.URL,
	}, nil
}

func (g *StripeGateway) createPaymentIntent(ctx context.Context, order models.Order) (*models.CheckoutSession, error) {
	form := url.Values{}
	form.Set("amount", strconv.Itoa(toCents(order.Amount)))
	form.Set("currency", strings.ToLower(order.Currency))
	form.Set("metadata[order_id]", order.ID)
	form.Set("automatic_payment_methods[enabled]", "true")

	var out struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := g.post(ctx, "/v1/payment_intents", form, &out); err != nil {
		return nil, err
	}

	g.logger.Info("Stripe payment intent created",
		zap.String("order_id", order.ID),
		zap.String("payment_intent_id", out.ID),
	)

	return &models.CheckoutSession{
		PaymentID:    out.ID,
		Type:         "payment_intent",
		ClientSecret: out.ClientSecret,
	}, nil
}

// PaymentStatus retrieves a PaymentIntent and maps its status.
func (g *StripeGateway) PaymentStatus(ctx context.Context, paymentID string) (models.OrderStatus, error) {
	if g.secretKey == "" {
		return "", models.ErrMissingCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/payment_intents/"+paymentID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &models.GatewayError{Gateway: "stripe", StatusCode: resp.StatusCode, Body: readBody(resp)}
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode stripe response: %w", err)
	}

	switch out.Status {
	case "succeeded":
		return models.OrderStatusPaid, nil
	case "processing":
		return models.OrderStatusProcessing, nil
	case "canceled":
		return models.OrderStatusFailed, nil
	default:
		return models.OrderStatusPending, nil
	}
}

func (g *StripeGateway) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &models.GatewayError{Gateway: "stripe", StatusCode: resp.StatusCode, Body: readBody(resp)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode stripe response: %w", err)
	}
	return nil
}

func toCents(amount float64) int {
	return int(math.Round(amount * 100))
}
