package models

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusExpired    OrderStatus = "expired"
)

type ItemType string

const (
	ItemTypeDigital  ItemType = "digital"
	ItemTypePhysical ItemType = "physical"
)

type OrderItem struct {
	ProductID string   `json:"product_id"`
	Name      string   `json:"name"`
	Type      ItemType `json:"type"`
	Quantity  int      `json:"quantity"`
	Price     float64  `json:"price"`
}

type Order struct {
	ID             string      `json:"id"`
	SealArrayID    string      `json:"seal_array_id"`
	Items          []OrderItem `json:"items"`
	CustomerEmail  string      `json:"customer_email"`
	Amount         float64     `json:"amount"`
	Currency       string      `json:"currency"`
	Status         OrderStatus `json:"status"`
	PaymentGateway string      `json:"payment_gateway"`
	PaymentID      string      `json:"payment_id"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	PaidAt         *time.Time  `json:"paid_at,omitempty"`
}

type CreateCheckoutRequest struct {
	Amount        float64     `json:"amount" binding:"required"`
	Currency      string      `json:"currency" binding:"required"`
	SealArrayID   string      `json:"sealArrayId" binding:"required"`
	CustomerEmail string      `json:"customerEmail"`
	Items         []OrderItem `json:"items"`
	Mode          string      `json:"mode"` // checkout_session (default) or payment_intent
}

type OrderEvent struct {
	OrderID       string      `json:"order_id"`
	SealArrayID   string      `json:"seal_array_id"`
	CustomerEmail string      `json:"customer_email"`
	Amount        float64     `json:"amount"`
	Currency      string      `json:"currency"`
	Status        OrderStatus `json:"status"`
	Gateway       string      `json:"gateway"`
	PaymentID     string      `json:"payment_id"`
	Items         []OrderItem `json:"items"`
	EventType     string      `json:"event_type"` // checkout_created, order_paid, order_failed, order_expired
}
