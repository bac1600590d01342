package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/orderflow-ledger/internal/config"
	"github.com/joao-fontenele/orderflow-ledger/internal/messaging"
	"github.com/joao-fontenele/orderflow-ledger/internal/telemetry"
	"github.com/joao-fontenele/orderflow-ledger/internal/worker"
)

const groupID = "notification-worker"

func main() {
	cfg, err := config.Load("worker")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	if err := cfg.Require("KAFKA_BROKERS"); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	emailServiceURL := os.Getenv("EMAIL_SERVICE_URL")
	if emailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	deadLetters := messaging.NewProducer(cfg.KafkaBrokers, groupID+".dlq")
	defer func() { _ = deadLetters.Close() }()

	httpClient := telemetry.HTTPClient(nil)
	httpClient.Timeout = 10 * time.Second
	notifications := worker.NewNotificationHandler(emailServiceURL, httpClient, logger)

	subscriptions := []struct {
		topic   string
		handler messaging.Handler
	}{
		{cfg.Topics.OrderConfirmed, notifications.HandleOrderConfirmed},
		{cfg.Topics.ShipmentUpdated, notifications.HandleShipmentUpdated},
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subscriptions {
		consumer := messaging.NewConsumer(cfg.KafkaBrokers, sub.topic, groupID,
			messaging.WithDeadLetter(deadLetters),
			messaging.WithLogger(logger),
		)
		defer func() { _ = consumer.Close() }()

		g.Go(func() error {
			logger.Info("consuming", "topic", sub.topic, "group", groupID)
			return consumer.Consume(gctx, sub.handler)
		})
	}

	logger.Info("starting notification worker", "brokers", cfg.KafkaBrokers)

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
