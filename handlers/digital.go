package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/fulfillment"
	"github.com/bradjohnson79/anointarray-sub003/middleware"
	"github.com/bradjohnson79/anointarray-sub003/models"
)

type DigitalHandler struct {
	db      *sql.DB
	links   *fulfillment.LinkIssuer
	siteURL string
	logger  *zap.Logger
}

func NewDigitalHandler(db *sql.DB, links *fulfillment.LinkIssuer, logger *zap.Logger) *DigitalHandler {
	return &DigitalHandler{
		db:      db,
		links:   links,
		siteURL: getEnv("SITE_URL", "https://anointarray.com"),
		logger:  logger,
	}
}

// Generate issues a download link for a paid order (admin only).
func (h *DigitalHandler) Generate(c *gin.Context) {
	ctx, span := otel.Tracer("anoint-svc").Start(c.Request.Context(), "GenerateDownloadLink")
	defer span.End()
	traceID := middleware.GetTraceID(ctx)

	var req models.GenerateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("product.id", req.ProductID),
	)

	var status models.OrderStatus
	err := h.db.QueryRowContext(ctx, "SELECT status FROM orders WHERE id = $1", req.OrderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to load order", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if status != models.OrderStatusPaid {
		c.JSON(http.StatusConflict, gin.H{"error": "Order is not paid"})
		return
	}

	link, err := h.links.Issue(ctx, req.OrderID, req.ProductID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to issue download link", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "link": link})
}

// Download validates the token and serves the file location, burning
// one download.
func (h *DigitalHandler) Download(c *gin.Context) {
	ctx, span := otel.Tracer("anoint-svc").Start(c.Request.Context(), "DownloadSealArray")
	defer span.End()

	token := c.Param("token")
	link, err := h.links.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrLinkUnavailable) {
			c.JSON(http.StatusGone, gin.H{"error": "Download link is expired, revoked or exhausted"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to consume download link", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	span.SetAttributes(attribute.String("product.id", link.ProductID))

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"downloadUrl":        fmt.Sprintf("%s/files/seal-arrays/%s.zip", h.siteURL, link.ProductID),
		"remainingDownloads": link.MaxDownloads - link.Downloads,
		"expiresAt":          link.ExpiresAt,
	})
}

// Revoke invalidates a link by ID (admin only).
func (h *DigitalHandler) Revoke(c *gin.Context) {
	ctx, span := otel.Tracer("anoint-svc").Start(c.Request.Context(), "RevokeDownloadLink")
	defer span.End()

	linkID := c.Param("id")
	if err := h.links.Revoke(ctx, linkID); err != nil {
		if errors.Is(err, models.ErrLinkUnavailable) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Download link not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to revoke download link", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
