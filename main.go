package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/cache"
	"github.com/bradjohnson79/anointarray-sub003/database"
	"github.com/bradjohnson79/anointarray-sub003/fulfillment"
	"github.com/bradjohnson79/anointarray-sub003/gateways"
	"github.com/bradjohnson79/anointarray-sub003/handlers"
	"github.com/bradjohnson79/anointarray-sub003/kafka"
	"github.com/bradjohnson79/anointarray-sub003/middleware"
	"github.com/bradjohnson79/anointarray-sub003/notifications"
	"github.com/bradjohnson79/anointarray-sub003/shipping"
	"github.com/bradjohnson79/anointarray-sub003/webhooks"
	"github.com/bradjohnson79/anointarray-sub003/ws"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	rdb, err := cache.InitRedis(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer rdb.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize Kafka consumer
	consumer, err := kafka.InitConsumer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("anoint-svc")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	// Websocket hub for live order-status updates
	hub := ws.NewHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// Fulfillment and notification pipeline
	mailer := notifications.NewSender(logger)
	links := fulfillment.NewLinkIssuer(db, rdb, logger)
	labels := fulfillment.NewLabelService(logger)
	dispatcher := fulfillment.NewDispatcher(links, labels, mailer, logger)

	// Start Kafka consumer in background
	go func() {
		if err := kafka.StartConsumer(consumer, dispatcher, mailer, hub, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Payment gateways
	gws := map[string]gateways.Gateway{
		"stripe":      gateways.NewStripeGateway(logger),
		"paypal":      gateways.NewPayPalGateway(logger),
		"nowpayments": gateways.NewNOWPaymentsGateway(logger),
	}

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("anoint-svc"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Payment endpoints
	paymentHandler := handlers.NewPaymentHandler(db, producer, gws, logger)
	router.POST("/api/payments/:gateway", paymentHandler.CreateSession)
	router.PUT("/api/payments/:gateway", paymentHandler.Capture)
	router.GET("/api/payments/:gateway", paymentHandler.GetStatus)

	// Webhook endpoints
	receiver := webhooks.NewReceiver(db, producer, logger)
	router.POST("/api/webhooks/stripe", receiver.HandleStripe)
	router.POST("/api/webhooks/nowpayments", receiver.HandleNOWPayments)

	// Shipping rates
	shippingHandler := handlers.NewShippingHandler(shipping.NewAggregator(logger), logger)
	router.POST("/api/shipping/rates", shippingHandler.GetRates)

	// Digital downloads
	digitalHandler := handlers.NewDigitalHandler(db, links, logger)
	router.GET("/api/digital/download/:token", digitalHandler.Download)

	// Admin endpoints
	adminHandler := handlers.NewAdminHandler(db, logger)
	router.POST("/api/admin/login", adminHandler.Login)

	authorized := router.Group("/", middleware.AuthRequired(logger))
	authorized.POST("/api/digital/generate", digitalHandler.Generate)
	authorized.DELETE("/api/digital/:id", digitalHandler.Revoke)
	authorized.GET("/api/admin/orders", adminHandler.ListOrders)

	// Live order-status feed
	wsHandler := ws.NewHandler(hub, logger)
	router.GET("/ws/orders", wsHandler.ServeWS)

	// Start REST server
	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("ANOINT Array service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
