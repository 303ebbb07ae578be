package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bradjohnson79/anointarray-sub003/middleware"
	"github.com/bradjohnson79/anointarray-sub003/models"
)

type AdminHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func NewAdminHandler(db *sql.DB, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, logger: logger}
}

func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	adminEmail := os.Getenv("ADMIN_EMAIL")
	passwordHash := os.Getenv("ADMIN_PASSWORD_HASH")
	if adminEmail == "" || passwordHash == "" {
		h.logger.Error("Admin credentials not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Admin login not configured"})
		return
	}

	if req.Email != adminEmail {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": req.Email,
		"role":  "admin",
		"exp":   time.Now().Add(time.Hour * 24).Unix(),
	})

	tokenString, err := token.SignedString([]byte(getEnv("JWT_SECRET", "your-secret-key-change-in-production")))
	if err != nil {
		h.logger.Error("Failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Admin logged in", zap.String("email", req.Email))
	c.JSON(http.StatusOK, gin.H{"token": tokenString})
}

func (h *AdminHandler) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	traceID := middleware.GetTraceID(ctx)

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, seal_array_id, items, customer_email, amount, currency, status, payment_gateway, payment_id, created_at, updated_at, paid_at
		 FROM orders ORDER BY created_at DESC LIMIT 100`)
	if err != nil {
		h.logger.Error("Failed to list orders", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		var itemsJSON []byte
		if err := rows.Scan(&order.ID, &order.SealArrayID, &itemsJSON, &order.CustomerEmail,
			&order.Amount, &order.Currency, &order.Status, &order.PaymentGateway,
			&order.PaymentID, &order.CreatedAt, &order.UpdatedAt, &order.PaidAt); err != nil {
			h.logger.Error("Failed to scan order", zap.String("trace_id", traceID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
			h.logger.Warn("Failed to decode order items", zap.String("order_id", order.ID), zap.Error(err))
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("Failed to iterate orders", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}
