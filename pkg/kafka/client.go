// Package kafka emits ingest lifecycle events to an audit topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"cfdb/internal/config"
	"cfdb/pkg/log"
)

// IngestEvent records one step of a DCC ingestion within a sync batch.
type IngestEvent struct {
	TaskID    string    `json:"task_id"`
	DCC       string    `json:"dcc"`
	Status    string    `json:"status"` // started, completed, failed
	Error     string    `json:"error,omitempty"`
	Records   int64     `json:"records,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var producer *kafka.Writer

// InitProducer initializes the event producer. Empty brokers disables
// emission.
func InitProducer(cfg config.KafkaConfig) {
	if cfg.Brokers == "" {
		log.Info("Kafka ingest events disabled (no brokers configured)")
		return
	}
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka producer initialized successfully")
}

// EmitIngestEvent publishes an ingest event; failures are logged, never
// surfaced, so audit emission can't affect a sync's outcome.
func EmitIngestEvent(ctx context.Context, event IngestEvent) {
	if producer == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("failed to marshal ingest event: %v", err)
		return
	}
	if err := producer.WriteMessages(ctx, kafka.Message{Key: []byte(event.DCC), Value: payload}); err != nil {
		log.Errorf("failed to publish ingest event for %s: %v", event.DCC, err)
	}
}
