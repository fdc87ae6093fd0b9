// Package gateway defines the operator messaging channel used by the agent
// and helpers shared by its implementations.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Poll after Close.
var ErrClosed = errors.New("gateway closed")

// Message is an inbound operator message.
type Message struct {
	ID      string
	Channel string
	Author  string
	Text    string
	SentAt  time.Time
}

// Gateway is a long-poll messaging channel.
//
// Poll never returns the same message twice. Send splits text that exceeds
// the channel's message size. SendTyping is best effort.
type Gateway interface {
	Poll(ctx context.Context, timeout time.Duration) ([]Message, error)
	Send(ctx context.Context, channel, text string) error
	SendTyping(ctx context.Context, channel string) error
	Close() error
}
