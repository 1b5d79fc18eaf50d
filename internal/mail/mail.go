// Package mail renders the Dutch transactional emails and hands them to a
// delivery backend.
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dkortekaas/declair/internal/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Message is one outgoing email.
type Message struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Tag         string       `json:"tag,omitempty"`
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// LogMailer only logs messages. Used in development.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, m Message) error {
	logger.Ctx(ctx).Info().
		Str("to", m.To).
		Str("subject", m.Subject).
		Str("tag", m.Tag).
		Int("attachments", len(m.Attachments)).
		Msg("mail (not delivered)")
	return nil
}

// Channel is the subset of *amqp.Channel the queue mailer uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueMailer puts messages on a durable RabbitMQ queue; a separate worker
// talks to the email provider.
type QueueMailer struct {
	ch    Channel
	queue string
	from  string
	close func() error
}

// NewQueueMailer dials url and declares the durable queue.
func NewQueueMailer(url, queue, from string) (*QueueMailer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	q := NewQueueMailerWithChannel(ch, queue, from)
	q.close = func() error {
		if err := ch.Close(); err != nil {
			return err
		}
		return conn.Close()
	}
	return q, nil
}

// NewQueueMailerWithChannel allows injecting a test channel.
func NewQueueMailerWithChannel(ch Channel, queue, from string) *QueueMailer {
	return &QueueMailer{ch: ch, queue: queue, from: from, close: func() error { return nil }}
}

func (q *QueueMailer) Send(ctx context.Context, m Message) error {
	if m.From == "" {
		m.From = q.from
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         m.Tag,
		Body:         body,
	})
}

func (q *QueueMailer) Close() error { return q.close() }

// Outbox collects messages in memory, for tests. Fail makes the next sends
// to the given address return an error.
type Outbox struct {
	mu   sync.Mutex
	Sent []Message
	fail map[string]error
}

func (o *Outbox) Send(_ context.Context, m Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail[m.To]; err != nil {
		return err
	}
	o.Sent = append(o.Sent, m)
	return nil
}

func (o *Outbox) Fail(to string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail == nil {
		o.fail = make(map[string]error)
	}
	o.fail[to] = err
}

// Messages returns a copy of the delivered messages.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.Sent...)
}
