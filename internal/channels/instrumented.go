package channels

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// InstrumentedChannel decorates a Channel with structured logging and
// counters. Composed at construction time wherever observability is
// wanted; the wrapped channel stays untouched.
type InstrumentedChannel struct {
	inner  Channel
	logger *slog.Logger

	sendCount  atomic.Int64
	reactCount atomic.Int64
	errCount   atomic.Int64
}

func NewInstrumentedChannel(inner Channel, logger *slog.Logger) *InstrumentedChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentedChannel{
		inner:  inner,
		logger: logger.With("component", "channel", "channel", inner.Name()),
	}
}

func (c *InstrumentedChannel) Name() string { return c.inner.Name() }

func (c *InstrumentedChannel) Start(ctx context.Context) error {
	err := c.inner.Start(ctx)
	if err != nil {
		c.logger.Error("channel start failed", "error", err)
	} else {
		c.logger.Info("channel started")
	}
	return err
}

func (c *InstrumentedChannel) Stop() error {
	c.logger.Info("channel stopping",
		"sends", c.sendCount.Load(),
		"reactions", c.reactCount.Load(),
		"errors", c.errCount.Load())
	return c.inner.Stop()
}

func (c *InstrumentedChannel) SendMessage(ctx context.Context, chatID, content string) (string, error) {
	start := time.Now()
	messageID, err := c.inner.SendMessage(ctx, chatID, content)
	if err != nil {
		c.errCount.Add(1)
		c.logger.Error("send failed", "chat_id", chatID, "error", err)
		return "", err
	}
	c.sendCount.Add(1)
	c.logger.Debug("message sent", "chat_id", chatID, "message_id", messageID,
		"bytes", len(content), "took", time.Since(start))
	return messageID, nil
}

func (c *InstrumentedChannel) SendReply(ctx context.Context, chatID, messageID, content string) (string, error) {
	replyID, err := c.inner.SendReply(ctx, chatID, messageID, content)
	if err != nil {
		c.errCount.Add(1)
		c.logger.Error("reply failed", "chat_id", chatID, "in_reply_to", messageID, "error", err)
		return "", err
	}
	c.sendCount.Add(1)
	c.logger.Debug("reply sent", "chat_id", chatID, "in_reply_to", messageID, "message_id", replyID)
	return replyID, nil
}

func (c *InstrumentedChannel) React(ctx context.Context, chatID, messageID, emoji string) error {
	err := c.inner.React(ctx, chatID, messageID, emoji)
	if err != nil {
		c.errCount.Add(1)
		c.logger.Error("reaction failed", "message_id", messageID, "emoji", emoji, "error", err)
		return err
	}
	c.reactCount.Add(1)
	return nil
}

func (c *InstrumentedChannel) Typing(ctx context.Context, chatID string) error {
	err := c.inner.Typing(ctx, chatID)
	if err != nil {
		c.errCount.Add(1)
	}
	return err
}

// Stats returns send/reaction/error counters.
func (c *InstrumentedChannel) Stats() (sends, reactions, errors int64) {
	return c.sendCount.Load(), c.reactCount.Load(), c.errCount.Load()
}
