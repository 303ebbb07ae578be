package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/middleware"
	"github.com/bradjohnson79/anointarray-sub003/models"
	"github.com/bradjohnson79/anointarray-sub003/shipping"
)

type ShippingHandler struct {
	aggregator *shipping.Aggregator
	logger     *zap.Logger
}

func NewShippingHandler(aggregator *shipping.Aggregator, logger *zap.Logger) *ShippingHandler {
	return &ShippingHandler{aggregator: aggregator, logger: logger}
}

func (h *ShippingHandler) GetRates(c *gin.Context) {
	ctx, span := otel.Tracer("anoint-svc").Start(c.Request.Context(), "GetShippingRates")
	defer span.End()
	traceID := middleware.GetTraceID(ctx)

	var req models.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("origin", req.OriginPostalCode),
		attribute.String("destination", req.DestinationPostalCode),
		attribute.Int("packages", len(req.Packages)),
	)

	rates, err := h.aggregator.GetRates(ctx, req)
	if err != nil {
		var valErr *models.ValidationError
		if errors.As(err, &valErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Error()})
			return
		}
		span.RecordError(err)
		h.logger.Error("Shipping rate aggregation failed", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Carrier rates unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "rates": rates})
}
