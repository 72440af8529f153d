package notify

import (
	"context"
	"sync"
)

// Message is a message captured by a Recorder.
type Message struct {
	Topic string
	Msg   any
}

// Recorder keeps every published message in memory. It is used in tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Publish records the message.
func (r *Recorder) Publish(ctx context.Context, topic string, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Topic: topic, Msg: msg})
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Topics returns the topics of the recorded messages in order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		topics = append(topics, m.Topic)
	}
	return topics
}
