package messaging

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	consumerTracer = otel.Tracer("messaging/consumer")
	consumerMeter  = otel.Meter("messaging/consumer")
)

// Handler processes one message payload. The message is committed only when
// the handler returns nil or the message has been dead-lettered.
type Handler func(ctx context.Context, payload []byte) error

// DeadLetterWriter receives messages whose handler failed.
type DeadLetterWriter interface {
	PublishRaw(ctx context.Context, key string, value []byte, headers map[string]string) error
}

type Consumer struct {
	reader     *kafka.Reader
	topic      string
	groupID    string
	deadLetter DeadLetterWriter
	logger     *slog.Logger
	processed  metric.Int64Counter
}

type ConsumerOption func(*Consumer, *kafka.ReaderConfig)

func WithStartOffset(offset int64) ConsumerOption {
	return func(_ *Consumer, cfg *kafka.ReaderConfig) {
		cfg.StartOffset = offset
	}
}

// WithDeadLetter forwards messages that fail processing to w and moves on.
// Without it a failing handler stops Consume.
func WithDeadLetter(w DeadLetterWriter) ConsumerOption {
	return func(c *Consumer, _ *kafka.ReaderConfig) {
		c.deadLetter = w
	}
}

func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer, _ *kafka.ReaderConfig) {
		c.logger = logger
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	}

	c := &Consumer{
		topic:   topic,
		groupID: groupID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c, &cfg)
	}

	processed, err := consumerMeter.Int64Counter("messages_processed_total",
		metric.WithDescription("Consumed messages by topic and outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	c.processed = processed
	c.reader = kafka.NewReader(cfg)
	return c
}

func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.dispatch(ctx, msg, handler); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

// dispatch runs the handler and, on failure, either dead-letters the message
// or returns the error.
func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message, handler Handler) error {
	err := c.processMessage(ctx, msg, handler)
	if err == nil {
		c.count(ctx, "ok")
		return nil
	}

	if c.deadLetter == nil {
		c.count(ctx, "failed")
		return err
	}

	headers := make(map[string]string, len(msg.Headers)+2)
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	headers[HeaderError] = err.Error()
	headers[HeaderSourceTopic] = c.topic

	if dlqErr := c.deadLetter.PublishRaw(ctx, string(msg.Key), msg.Value, headers); dlqErr != nil {
		c.count(ctx, "failed")
		return dlqErr
	}

	c.count(ctx, "dead_lettered")
	c.logger.WarnContext(ctx, "message dead-lettered",
		"topic", c.topic,
		"offset", msg.Offset,
		"event_type", header(&msg, HeaderEventType),
		"error", err,
	)
	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler Handler) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, NewMessageCarrier(&msg))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	if err := handler(spanCtx, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Consumer) count(ctx context.Context, outcome string) {
	if c.processed == nil {
		return
	}
	c.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", c.topic),
		attribute.String("outcome", outcome),
	))
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
