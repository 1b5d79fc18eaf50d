// Package events publishes domain events for downstream consumers
// (bookkeeping sync, analytics).
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/dkortekaas/declair/internal/logger"
	"github.com/segmentio/kafka-go"
)

const (
	InvoiceCreated      = "invoice.created"
	InvoiceSent         = "invoice.sent"
	InvoicePaid         = "invoice.paid"
	InvoiceCancelled    = "invoice.cancelled"
	CreditNoteCreated   = "credit_note.created"
	QuoteSigned         = "quote.signed"
	QuoteDeclined       = "quote.declined"
	SubscriptionUpdated = "subscription.updated"
)

// Event is the JSON envelope written to the topic. Messages are keyed by
// user so a consumer sees one account's events in order.
type Event struct {
	Type       string         `json:"type"`
	UserID     uint           `json:"user_id"`
	EntityID   uint           `json:"entity_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes events as JSON messages.
type KafkaProducer struct {
	writer Writer
}

// NewKafkaProducer writes to topic on broker.
func NewKafkaProducer(broker, topic string) *KafkaProducer {
	return NewKafkaProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaProducerWithWriter allows injecting a test writer.
func NewKafkaProducerWithWriter(w Writer) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

func (p *KafkaProducer) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     []byte(strconv.FormatUint(uint64(e.UserID), 10)),
		Value:   b,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event", e.Type).Msg("kafka write failed")
		return err
	}
	return nil
}

func (p *KafkaProducer) Close() error { return p.writer.Close() }

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types returns the types of the recorded events in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Emit publishes e and only logs a failure. Events are best effort; the
// database change they describe has already committed.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event", e.Type).Msg("event not published")
	}
}
