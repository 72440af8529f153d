// Package notify publishes change notifications about stacks.
//
// Publishing is fire-and-forget: a Publisher never reports failure to its
// caller, and delivery is best effort.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher emits a message on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any)
}

// Envelope is the wire format of a published message.
type Envelope struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Msg       any       `json:"msg"`
}

// NewEnvelope wraps msg for publication on topic.
func NewEnvelope(topic string, msg any) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Msg:       msg,
	}
}

// Encode renders the envelope as JSON.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// LogPublisher writes every message to the log instead of a broker.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the message.
func (p *LogPublisher) Publish(ctx context.Context, topic string, msg any) {
	env := NewEnvelope(topic, msg)
	body, err := env.Encode()
	if err != nil {
		p.logger.ErrorContext(ctx, "encoding notification", "topic", topic, "error", err)
		return
	}
	p.logger.InfoContext(ctx, "notification", "topic", topic, "id", env.ID, "body", string(body))
}

// Outbox holds messages published during a transaction until it commits.
type Outbox struct {
	next Publisher

	mu      sync.Mutex
	pending []pendingMessage
}

type pendingMessage struct {
	topic string
	msg   any
}

// NewOutbox creates an Outbox that forwards to next on Flush.
func NewOutbox(next Publisher) *Outbox {
	return &Outbox{next: next}
}

// Publish queues the message.
func (o *Outbox) Publish(ctx context.Context, topic string, msg any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, pendingMessage{topic: topic, msg: msg})
}

// Flush forwards queued messages in publication order and empties the outbox.
func (o *Outbox) Flush(ctx context.Context) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, m := range pending {
		o.next.Publish(ctx, m.topic, m.msg)
	}
}

// Discard drops queued messages.
func (o *Outbox) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = nil
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
