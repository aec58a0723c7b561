package channels

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/penates/penates/internal/bus"
)

// DiscordChannel bridges a Discord bot account onto the event bus.
// Inbound messages and reactions become bus events; outbound sends go
// through the Channel interface.
type DiscordChannel struct {
	token     string
	channelID string // home channel; empty chatID sends default here
	session   *discordgo.Session
	events    *bus.EventBus
	logger    *slog.Logger
	botUserID string
}

func NewDiscordChannel(token, channelID string, events *bus.EventBus, logger *slog.Logger) *DiscordChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordChannel{
		token:     token,
		channelID: channelID,
		events:    events,
		logger:    logger.With("component", "discord"),
	}
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	session.AddHandler(d.onMessage)
	session.AddHandler(d.onReactionAdd)

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	d.session = session
	if session.State != nil && session.State.User != nil {
		d.botUserID = session.State.User.ID
	}
	d.logger.Info("discord channel started", "home_channel", d.channelID)
	return nil
}

func (d *DiscordChannel) Stop() error {
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}

func (d *DiscordChannel) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == d.botUserID || m.Author.Bot {
		return
	}
	d.events.Publish(bus.EventDiscordMessage, map[string]any{
		"channel_id": m.ChannelID,
		"message_id": m.ID,
		"author_id":  m.Author.ID,
		"author":     m.Author.Username,
		"content":    m.Content,
	})
}

func (d *DiscordChannel) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.UserID == d.botUserID {
		return
	}
	d.events.Publish(bus.EventDiscordReaction, map[string]any{
		"channel_id": r.ChannelID,
		"message_id": r.MessageID,
		"user_id":    r.UserID,
		"emoji":      r.Emoji.Name,
	})
}

func (d *DiscordChannel) SendMessage(ctx context.Context, chatID, content string) (string, error) {
	if d.session == nil {
		return "", fmt.Errorf("discord session not started")
	}
	if chatID == "" {
		chatID = d.channelID
	}
	msg, err := d.session.ChannelMessageSend(chatID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to send discord message: %w", err)
	}
	return msg.ID, nil
}

func (d *DiscordChannel) SendReply(ctx context.Context, chatID, messageID, content string) (string, error) {
	if d.session == nil {
		return "", fmt.Errorf("discord session not started")
	}
	if chatID == "" {
		chatID = d.channelID
	}
	ref := &discordgo.MessageReference{MessageID: messageID, ChannelID: chatID}
	msg, err := d.session.ChannelMessageSendReply(chatID, content, ref, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to send discord reply: %w", err)
	}
	return msg.ID, nil
}

func (d *DiscordChannel) React(ctx context.Context, chatID, messageID, emoji string) error {
	if d.session == nil {
		return fmt.Errorf("discord session not started")
	}
	if chatID == "" {
		chatID = d.channelID
	}
	if err := d.session.MessageReactionAdd(chatID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

func (d *DiscordChannel) Typing(ctx context.Context, chatID string) error {
	if d.session == nil {
		return fmt.Errorf("discord session not started")
	}
	if chatID == "" {
		chatID = d.channelID
	}
	if err := d.session.ChannelTyping(chatID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to signal typing: %w", err)
	}
	return nil
}
