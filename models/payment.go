package models

// CheckoutSession is the normalized result of creating a payment session
// at any gateway. Exactly one of CheckoutURL or ClientSecret is set
// depending on Type.
type CheckoutSession struct {
	PaymentID    string `json:"payment_id"`
	Type         string `json:"type"` // checkout_session, payment_intent, paypal_order, invoice
	CheckoutURL  string `json:"checkout_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type CheckoutResponse struct {
	Success      bool   `json:"success"`
	Type         string `json:"type,omitempty"`
	OrderID      string `json:"orderId,omitempty"`
	CheckoutURL  string `json:"checkoutUrl,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Error        string `json:"error,omitempty"`
}

type CaptureRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	PaymentID string `json:"paymentId"`
}
