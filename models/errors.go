package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials means the gateway's API keys are not configured.
	ErrMissingCredentials = errors.New("gateway credentials not configured")

	// ErrInvalidSignature means a webhook failed signature verification.
	ErrInvalidSignature = errors.New("webhook signature verification failed")

	// ErrOrderNotFound means the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrLinkUnavailable means a download link is expired, revoked or exhausted.
	ErrLinkUnavailable = errors.New("download link no longer available")
)

// ValidationError rejects a malformed request before any vendor call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GatewayError carries the vendor's rejection detail for diagnostics.
type GatewayError struct {
	Gateway    string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Gateway, e.StatusCode, e.Body)
}
