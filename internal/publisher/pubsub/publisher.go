// Package pubsub publishes normalized records to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// RecordSink implements crawler.RecordSink on a topic publisher.
type RecordSink struct {
	publisher *pubsub.Publisher
}

// New creates a RecordSink for the provided topic publisher.
func New(publisher *pubsub.Publisher) *RecordSink {
	return &RecordSink{publisher: publisher}
}

// Append publishes one record and waits for the server ack.
func (s *RecordSink) Append(ctx context.Context, record crawler.Record) error {
	if s.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	msg, err := Message(ctx, record)
	if err != nil {
		return err
	}
	if _, err := s.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish record %s: %w", record.ID, err)
	}
	return nil
}

// Close flushes pending messages and stops the publisher.
func (s *RecordSink) Close() error {
	if s.publisher != nil {
		s.publisher.Stop()
	}
	return nil
}

// Message builds the Pub/Sub message for a record. The record id and
// provenance travel as attributes next to any trace context.
func Message(ctx context.Context, record crawler.Record) (*pubsub.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	attrs := map[string]string{
		"id":     record.ID,
		"source": record.Provenance,
	}
	otel.GetTextMapPropagator().Inject(ctx, &carrier{attrs: attrs})
	return &pubsub.Message{Data: data, Attributes: attrs}, nil
}

// carrier implements propagation.TextMapCarrier for message attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string { return c.attrs[key] }

func (c *carrier) Set(key, value string) { c.attrs[key] = value }

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
