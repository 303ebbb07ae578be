package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/middleware"
	"github.com/bradjohnson79/anointarray-sub003/models"
	"github.com/bradjohnson79/anointarray-sub003/notifications"
)

// Dispatcher runs post-payment side effects: download links for
// digital items, a shipping label for physical ones, then the
// confirmation email. Steps run sequentially and every failure is
// logged and swallowed; retry is left to vendor webhook redelivery.
type Dispatcher struct {
	links  *LinkIssuer
	labels *LabelService
	mailer *notifications.Sender
	logger *zap.Logger
}

func NewDispatcher(links *LinkIssuer, labels *LabelService, mailer *notifications.Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		links:  links,
		labels: labels,
		mailer: mailer,
		logger: logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event models.OrderEvent) {
	traceID := middleware.GetTraceID(ctx)

	var issued []*models.DownloadLink
	hasPhysical := false

	for _, item := range event.Items {
		switch item.Type {
		case models.ItemTypeDigital:
			link, err := d.links.Issue(ctx, event.OrderID, item.ProductID)
			if err != nil {
				d.logger.Error("Failed to issue download link",
					zap.String("trace_id", traceID),
					zap.String("order_id", event.OrderID),
					zap.String("product_id", item.ProductID),
					zap.Error(err),
				)
				continue
			}
			issued = append(issued, link)
		case models.ItemTypePhysical:
			hasPhysical = true
		}
	}

	// Seal array orders with no explicit item list are digital-only.
	if len(event.Items) == 0 && event.SealArrayID != "" {
		link, err := d.links.Issue(ctx, event.OrderID, event.SealArrayID)
		if err != nil {
			d.logger.Error("Failed to issue download link",
				zap.String("trace_id", traceID),
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		} else {
			issued = append(issued, link)
		}
	}

	if hasPhysical {
		labelRef, err := d.labels.CreateLabel(ctx, event)
		if err != nil {
			d.logger.Error("Failed to create shipping label",
				zap.String("trace_id", traceID),
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		} else {
			d.logger.Info("Shipping label created",
				zap.String("trace_id", traceID),
				zap.String("order_id", event.OrderID),
				zap.String("label_ref", labelRef),
			)
		}
	}

	if err := d.mailer.SendOrderConfirmation(ctx, event, issued); err != nil {
		d.logger.Error("Failed to send confirmation email",
			zap.String("trace_id", traceID),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}

// LabelService creates carrier shipping labels for physical items.
// Labels are queued as references; carrier manifesting happens in the
// back office.
type LabelService struct {
	logger *zap.Logger
}

func NewLabelService(logger *zap.Logger) *LabelService {
	return &LabelService{logger: logger}
}

func (s *LabelService) CreateLabel(ctx context.Context, event models.OrderEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := fmt.Sprintf("LBL-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
	s.logger.Info("Label queued for manifest",
		zap.String("order_id", event.OrderID),
		zap.String("label_ref", ref),
	)
	return ref, nil
}
