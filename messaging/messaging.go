// Package messaging is the outbound customer channel.
package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// Channel delivers a text message to a customer.
type Channel interface {
	SendMessage(ctx context.Context, customerID, text string) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, customerID, text string) error

// SendMessage implements Channel.
func (f ChannelFunc) SendMessage(ctx context.Context, customerID, text string) error {
	return f(ctx, customerID, text)
}

// Discard drops every message.
var Discard Channel = ChannelFunc(func(context.Context, string, string) error { return nil })

// Log writes every message to a logger instead of delivering it.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging channel. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// SendMessage implements Channel.
func (l *Log) SendMessage(ctx context.Context, customerID, text string) error {
	l.logger.InfoContext(ctx, "outbound message", "customer_id", customerID, "text", text)
	return nil
}

// Message is a recorded outbound message.
type Message struct {
	CustomerID string
	Text       string
}

// Memory records messages in order.
type Memory struct {
	mu   sync.Mutex
	msgs []Message
}

// NewMemory creates an empty recording channel.
func NewMemory() *Memory { return &Memory{} }

// SendMessage implements Channel.
func (m *Memory) SendMessage(_ context.Context, customerID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, Message{CustomerID: customerID, Text: text})
	return nil
}

// Messages returns the messages sent to customerID. An empty ID returns all.
func (m *Memory) Messages(customerID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0, len(m.msgs))
	for _, msg := range m.msgs {
		if customerID == "" || msg.CustomerID == customerID {
			out = append(out, msg)
		}
	}
	return out
}
