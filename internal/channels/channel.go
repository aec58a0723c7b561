// Package channels connects chat platforms to the event bus.
package channels

import (
	"context"
)

// Channel defines the interface for chat platforms.
type Channel interface {
	// Name returns the channel name (e.g. "discord").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// SendMessage posts a message to a chat and returns the platform
	// message id.
	SendMessage(ctx context.Context, chatID, content string) (string, error)
	// SendReply posts a message referencing an earlier message.
	SendReply(ctx context.Context, chatID, messageID, content string) (string, error)
	// React adds an emoji reaction to a message.
	React(ctx context.Context, chatID, messageID, emoji string) error
	// Typing signals a typing indicator on a chat.
	Typing(ctx context.Context, chatID string) error
}
