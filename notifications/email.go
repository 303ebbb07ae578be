package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/middleware"
	"github.com/bradjohnson79/anointarray-sub003/models"
)

// Sender delivers transactional email through the Resend API.
// Delivery is best effort: callers log and continue on failure.
type Sender struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewSender(logger *zap.Logger) *Sender {
	return &Sender{
		apiKey:  os.Getenv("RESEND_API_KEY"),
		from:    getEnv("RESEND_FROM", "ANOINT Array <orders@anointarray.com>"),
		baseURL: getEnv("RESEND_API_URL", "https://api.resend.com"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (s *Sender) SendOrderConfirmation(ctx context.Context, event models.OrderEvent, links []*models.DownloadLink) error {
	middleware.RecordNotificationSent("order_confirmation")

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Your order <strong>%s</strong> has been paid. Thank you!</p>", event.OrderID)
	if len(links) > 0 {
		body.WriteString("<p>Your downloads:</p><ul>")
		for _, link := range links {
			fmt.Fprintf(&body, `<li><a href="%s/api/digital/download/%s">Seal Array %s</a> (valid until %s)</li>`,
				getEnv("SITE_URL", "https://anointarray.com"), link.Token, link.ProductID,
				link.ExpiresAt.Format("January 2, 2006"))
		}
		body.WriteString("</ul>")
	}

	return s.send(ctx, event.CustomerEmail, "Order Confirmation", body.String())
}

func (s *Sender) SendPaymentFailed(ctx context.Context, event models.OrderEvent) error {
	middleware.RecordNotificationSent("payment_failed")
	body := fmt.Sprintf("<p>Payment for order <strong>%s</strong> failed. Please try again or contact support.</p>", event.OrderID)
	return s.send(ctx, event.CustomerEmail, "Payment Failed", body)
}

func (s *Sender) SendOrderExpired(ctx context.Context, event models.OrderEvent) error {
	middleware.RecordNotificationSent("order_expired")
	body := fmt.Sprintf("<p>Your checkout session for order <strong>%s</strong> expired before payment completed. You can start a new checkout at any time.</p>", event.OrderID)
	return s.send(ctx, event.CustomerEmail, "Checkout Expired", body)
}

func (s *Sender) send(ctx context.Context, to, subject, html string) error {
	traceID := middleware.GetTraceID(ctx)

	if to == "" {
		s.logger.Debug("Skipping email with no recipient", zap.String("trace_id", traceID), zap.String("subject", subject))
		return nil
	}
	if s.apiKey == "" {
		s.logger.Warn("RESEND_API_KEY not configured, email not sent",
			zap.String("trace_id", traceID),
			zap.String("to", to),
			zap.String("subject", subject),
		)
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"from":    s.from,
		"to":      []string{to},
		"subject": subject,
		"html":    html,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email provider returned %d", resp.StatusCode)
	}

	s.logger.Info("Email sent",
		zap.String("trace_id", traceID),
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
