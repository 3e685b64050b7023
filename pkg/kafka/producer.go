package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// RunCompletedEvent is the event type published for every finished sync run
const RunCompletedEvent = "sync.run.completed"

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, topic string) Config {
	var brokerList []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokerList = append(brokerList, b)
		}
	}

	return Config{
		Brokers: brokerList,
		Topic:   topic,
	}
}

// MessageWriter is the part of *kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes sync run lifecycle events
type Producer struct {
	writer MessageWriter
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

// NewProducerWithWriter wraps an existing writer
func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// RunEventMessage is a lifecycle event for one sync run
type RunEventMessage struct {
	Type                  string     `json:"type"`
	RunID                 string     `json:"run_id"`
	Trigger               string     `json:"trigger"`
	Date                  string     `json:"date"`
	Success               bool       `json:"success"`
	Error                 *string    `json:"error,omitempty"`
	Fetched               int        `json:"fetched"`
	Persisted             int        `json:"persisted"`
	Exported              int        `json:"exported"`
	DestinationsSucceeded int        `json:"destinations_succeeded"`
	DestinationsFailed    int        `json:"destinations_failed"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            *time.Time `json:"finished_at,omitempty"`
	DurationMs            int64      `json:"duration_ms"`
	TraceID               string     `json:"trace_id,omitempty"`
	Timestamp             time.Time  `json:"timestamp"`
}

// NewRunEventMessage builds the completion event for run
func NewRunEventMessage(run models.SyncRun) *RunEventMessage {
	return &RunEventMessage{
		Type:                  RunCompletedEvent,
		RunID:                 run.ID.String(),
		Trigger:               run.Trigger,
		Date:                  run.Date,
		Success:               run.Success,
		Error:                 run.Error,
		Fetched:               run.Fetched,
		Persisted:             run.Persisted,
		Exported:              run.Exported,
		DestinationsSucceeded: run.DestinationsSucceeded,
		DestinationsFailed:    run.DestinationsFailed,
		StartedAt:             run.StartedAt,
		FinishedAt:            run.FinishedAt,
		DurationMs:            run.DurationMs,
	}
}

// NotifyRunCompleted publishes the completion event of run
func (p *Producer) NotifyRunCompleted(ctx context.Context, run models.SyncRun) error {
	return p.PublishRunEvent(ctx, NewRunEventMessage(run))
}

// PublishRunEvent publishes a run event keyed by run id
func (p *Producer) PublishRunEvent(ctx context.Context, evt *RunEventMessage) error {
	if evt == nil {
		return fmt.Errorf("run event is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishRunEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("run_id", evt.RunID),
	)

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(evt.Type)},
		{Key: "run_id", Value: []byte(evt.RunID)},
		{Key: "trigger", Value: []byte(evt.Trigger)},
	}
	// W3C trace context for distributed tracing
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.RunID),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish run event to Kafka topic %s", p.topic)
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published run event to Kafka: run=%s success=%t", evt.RunID, evt.Success)

	return nil
}
