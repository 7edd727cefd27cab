// Package bus carries inbound chat messages from platform listeners to the
// single dispatch loop.
package bus

import (
	"context"
	"time"
)

// Platforms that publish to the bus.
const (
	PlatformSlack        = "slack"
	PlatformTeams        = "teams"
	PlatformTeamsWebhook = "teams-webhook"
)

// Kinds of inbound events.
const (
	KindMention = "mention"
	KindDirect  = "direct"
	KindSlash   = "slash"
	KindWebhook = "webhook"
)

// DefaultCapacity is the inbound queue size.
const DefaultCapacity = 100

// InboundMessage is one chat message addressed to the bot. Listeners build it
// once and never modify it after publishing.
type InboundMessage struct {
	ID       string    `json:"id"`
	Platform string    `json:"platform"`
	Kind     string    `json:"kind"`
	SenderID string    `json:"sender_id"`
	ChatID   string    `json:"chat_id"`
	ThreadID string    `json:"thread_id,omitempty"`
	RawBody  string    `json:"raw_body"`
	Mentions []string  `json:"mentions,omitempty"`
	Command  string    `json:"command,omitempty"`
	Dedupe   bool      `json:"dedupe,omitempty"`
	Created  time.Time `json:"timestamp"`

	// Done, when set, is closed by the dispatcher after the message is handled.
	Done chan struct{} `json:"-"`
}

// Finish marks the message handled.
func (m *InboundMessage) Finish() {
	if m.Done != nil {
		close(m.Done)
	}
}

// SessionKey identifies the conversation the message belongs to.
func (m *InboundMessage) SessionKey() string {
	key := m.Platform + ":" + m.ChatID
	if m.ThreadID != "" {
		key += ":" + m.ThreadID
	}
	return key
}

// MessageBus decouples listeners from the dispatcher.
type MessageBus struct {
	inbound chan *InboundMessage
}

// NewMessageBus creates a new message bus. capacity <= 0 uses DefaultCapacity.
func NewMessageBus(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MessageBus{inbound: make(chan *InboundMessage, capacity)}
}

// PublishInbound queues a message, blocking while the queue is full.
func (b *MessageBus) PublishInbound(ctx context.Context, msg *InboundMessage) error {
	if msg.Created.IsZero() {
		msg.Created = time.Now()
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}
