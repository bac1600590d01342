package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-ledger/internal/alerting"
	"github.com/joao-fontenele/orderflow-ledger/internal/audit"
	"github.com/joao-fontenele/orderflow-ledger/internal/config"
	"github.com/joao-fontenele/orderflow-ledger/internal/messaging"
	"github.com/joao-fontenele/orderflow-ledger/internal/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("auditor")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	if err := cfg.Require("POSTGRES_URL"); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	alerters := alerting.Multi{alerting.NewLogAlerter(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		alertTopic := messaging.NewProducer(cfg.KafkaBrokers, cfg.Topics.Alerts)
		defer func() { _ = alertTopic.Close() }()
		alerters = append(alerters, alerting.NewTopicAlerter(alertTopic))
	}

	scanner := audit.NewScanner(audit.NewRepository(db), alerters, logger)
	handler := audit.NewHandler(scanner, cfg.Scanner.Window, logger)

	go scanner.Run(ctx, cfg.Scanner.Interval, cfg.Scanner.Window)

	mux := http.NewServeMux()
	mux.Handle("POST /audit/scan", telemetry.WithHTTPRoute(http.HandlerFunc(handler.HandleScan)))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.HTTPHandler(mux, cfg.ServiceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting auditor", "port", cfg.Port, "interval", cfg.Scanner.Interval, "window", cfg.Scanner.Window)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
