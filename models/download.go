package models

import "time"

type DownloadLink struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	OrderID      string    `json:"order_id"`
	ProductID    string    `json:"product_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	MaxDownloads int       `json:"max_downloads"`
	Downloads    int       `json:"downloads"`
	Revoked      bool      `json:"revoked"`
	CreatedAt    time.Time `json:"created_at"`
}

type GenerateLinkRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	ProductID string `json:"productId" binding:"required"`
}
