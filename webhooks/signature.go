package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bradjohnson79/anointarray-sub003/models"
)

// VerifyStripeSignature checks the Stripe-Signature header (HMAC-SHA256
// over "<t>.<payload>" with the webhook signing secret).
func VerifyStripeSignature(payload []byte, header, secret string) error {
	if secret == "" {
		return models.ErrMissingCredentials
	}
	if header == "" {
		return models.ErrInvalidSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return models.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return models.ErrInvalidSignature
}

// VerifyNOWPaymentsSignature checks the x-nowpayments-sig header
// (HMAC-SHA512 over the key-sorted JSON body with the IPN secret).
func VerifyNOWPaymentsSignature(payload []byte, signature, secret string) error {
	if secret == "" {
		return models.ErrMissingCredentials
	}
	if signature == "" {
		return models.ErrInvalidSignature
	}

	// Re-marshalling through a map yields the key-sorted JSON that
	// NOWPayments signs.
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("failed to parse IPN payload: %w", err)
	}
	sorted, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to canonicalize IPN payload: %w", err)
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return models.ErrInvalidSignature
	}
	return nil
}
