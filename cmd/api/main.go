package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-ledger/internal/alerting"
	"github.com/joao-fontenele/orderflow-ledger/internal/audit"
	"github.com/joao-fontenele/orderflow-ledger/internal/auth"
	"github.com/joao-fontenele/orderflow-ledger/internal/checkout"
	"github.com/joao-fontenele/orderflow-ledger/internal/compensation"
	"github.com/joao-fontenele/orderflow-ledger/internal/config"
	"github.com/joao-fontenele/orderflow-ledger/internal/inventory"
	"github.com/joao-fontenele/orderflow-ledger/internal/kvstore"
	"github.com/joao-fontenele/orderflow-ledger/internal/messaging"
	"github.com/joao-fontenele/orderflow-ledger/internal/orders"
	"github.com/joao-fontenele/orderflow-ledger/internal/payment"
	"github.com/joao-fontenele/orderflow-ledger/internal/shipping"
	"github.com/joao-fontenele/orderflow-ledger/internal/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("api")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	if err := cfg.Require("POSTGRES_URL", "REDIS_URL", "KAFKA_BROKERS", "AUTH_SECRET", "WEBHOOK_SECRET"); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	confirmations := messaging.NewProducer(cfg.KafkaBrokers, cfg.Topics.OrderConfirmed)
	defer func() { _ = confirmations.Close() }()
	shipmentUpdates := messaging.NewProducer(cfg.KafkaBrokers, cfg.Topics.ShipmentUpdated)
	defer func() { _ = shipmentUpdates.Close() }()
	alertTopic := messaging.NewProducer(cfg.KafkaBrokers, cfg.Topics.Alerts)
	defer func() { _ = alertTopic.Close() }()

	alerter := alerting.NewThrottled(
		alerting.Multi{alerting.NewLogAlerter(logger), alerting.NewTopicAlerter(alertTopic)},
		alerting.NewRedisThrottle(redisClient, "alerts:throttle:"),
		cfg.Alerts.ThrottleWindow,
	)

	auditRepo := audit.NewRepository(db)
	ledger := audit.NewLedger(auditRepo, logger)
	defer ledger.Wait()

	productRepo := inventory.NewProductRepository(db)
	orderRepo := orders.NewOrderRepository(db)
	shipmentRepo := shipping.NewShipmentRepository(db)

	reservations := inventory.NewReservationManager(productRepo, logger)
	stock := inventory.NewStockService(productRepo, inventory.NewAnomalyDetector(alerter, logger), logger)
	gateway := payment.NewMockGateway(cfg.Payment.DeclinedMethods)
	tracker := shipping.NewTracker(shipmentRepo, orderRepo, shipmentUpdates, logger)

	coordinator := compensation.NewCoordinator(reservations, gateway, tracker, orderRepo, alerter, ledger,
		compensation.RetryPolicy{
			MaxAttempts:  cfg.Compensation.MaxAttempts,
			InitialDelay: cfg.Compensation.InitialDelay,
		},
		logger,
	)
	orchestrator := orders.NewOrchestrator(orderRepo, reservations, gateway, tracker, coordinator, ledger, confirmations, logger)
	defer orchestrator.Wait()

	checkoutService := checkout.NewService(kvstore.NewRedisStore(redisClient, "checkout:"), cfg.Checkout.ProgressTTL, logger)

	ordersHandler := orders.NewHandler(orchestrator, orderRepo, tracker, logger)
	checkoutHandler := checkout.NewHandler(checkoutService, logger)
	inventoryHandler := inventory.NewHandler(stock, logger)
	webhookHandler := shipping.NewHandler(tracker, cfg.WebhookSecret, logger)

	verifier := auth.NewVerifier(cfg.AuthSecret)
	requireUser := auth.Require(verifier, logger)
	audited := audit.Middleware(ledger, func(r *http.Request) string {
		userID, _ := auth.UserFromContext(r.Context())
		return userID
	})

	// Authentication runs first so the audit entry carries the user.
	user := func(h http.HandlerFunc) http.Handler {
		return telemetry.WithHTTPRoute(requireUser(audited(h)))
	}
	public := func(h http.HandlerFunc) http.Handler {
		return telemetry.WithHTTPRoute(audited(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /orders", user(ordersHandler.HandleCreate))
	mux.Handle("GET /orders", user(ordersHandler.HandleList))
	mux.Handle("GET /orders/{id}", user(ordersHandler.HandleGet))
	mux.Handle("GET /orders/{id}/status", user(ordersHandler.HandleStatus))
	mux.Handle("GET /orders/{id}/tracking", user(ordersHandler.HandleTracking))
	mux.Handle("POST /checkout/progress", user(checkoutHandler.HandleSave))
	mux.Handle("GET /checkout/progress", user(checkoutHandler.HandleResume))
	mux.Handle("GET /inventory/stock", user(inventoryHandler.HandleListStock))
	mux.Handle("GET /inventory/stock/{productId}", user(inventoryHandler.HandleGetStock))
	mux.Handle("PUT /inventory/stock/{productId}", user(inventoryHandler.HandleAdjustStock))
	mux.Handle("POST /webhooks/tracking", public(webhookHandler.HandleCarrierWebhook))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.HTTPHandler(mux, cfg.ServiceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting api service", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
