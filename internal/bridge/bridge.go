package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// Reaction affordances attached to every approval request.
const (
	emojiApprove  = "✅"
	emojiDeny     = "❌"
	emojiRemember = "🔓"
)

// Messenger is the chat surface the bridge posts through.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, content string) (string, error)
	React(ctx context.Context, chatID, messageID, emoji string) error
}

// Bridge polls the approval service for pending requests, posts each
// one to chat with reaction affordances, and maps reactions back to
// resolutions. Correlations live only in memory: after a restart every
// still-pending approval is simply re-posted, which is safe because
// the store remains the single source of truth.
type Bridge struct {
	api      ApprovalAPI
	chat     Messenger
	chatID   string
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	posted    map[string]bool   // approval id -> already posted
	byMessage map[string]string // chat message id -> approval id
}

func New(api ApprovalAPI, chat Messenger, chatID string, interval time.Duration, logger *slog.Logger) *Bridge {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		api:       api,
		chat:      chat,
		chatID:    chatID,
		interval:  interval,
		logger:    logger.With("component", "bridge"),
		posted:    make(map[string]bool),
		byMessage: make(map[string]string),
	}
}

// Run polls until the context is canceled.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.PollOnce(ctx); err != nil {
				b.logger.Warn("approval poll failed", "error", err)
			}
		}
	}
}

// PollOnce posts every pending approval this instance has not posted
// yet. Re-posting after a restart is expected and idempotent.
func (b *Bridge) PollOnce(ctx context.Context) error {
	pending, err := b.api.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, approval := range pending {
		b.mu.Lock()
		seen := b.posted[approval.ApprovalID]
		b.mu.Unlock()
		if seen {
			continue
		}

		text := formatRequest(approval.ApprovalID, approval.Tool, approval.Description)
		messageID, err := b.chat.SendMessage(ctx, b.chatID, text)
		if err != nil {
			b.logger.Warn("failed to post approval request",
				"approval_id", approval.ApprovalID, "error", err)
			continue
		}

		emojis := []string{emojiApprove, emojiDeny}
		if approval.Tool == "shell" {
			emojis = append(emojis, emojiRemember)
		}
		for _, emoji := range emojis {
			if err := b.chat.React(ctx, b.chatID, messageID, emoji); err != nil {
				b.logger.Warn("failed to attach reaction",
					"message_id", messageID, "emoji", emoji, "error", err)
			}
		}

		b.mu.Lock()
		b.posted[approval.ApprovalID] = true
		b.byMessage[messageID] = approval.ApprovalID
		b.mu.Unlock()
		b.logger.Info("approval posted",
			"approval_id", approval.ApprovalID, "message_id", messageID, "tool", approval.Tool)
	}
	return nil
}

// HandleReaction resolves the approval correlated with messageID.
// Returns false when the message or emoji is not one of ours so the
// caller can fall through to other reaction handling. Reactions on an
// already-resolved approval are silent no-ops.
func (b *Bridge) HandleReaction(ctx context.Context, messageID, emoji, userID string) bool {
	action, ok := actionFor(emoji)
	if !ok {
		return false
	}

	b.mu.Lock()
	approvalID, ok := b.byMessage[messageID]
	b.mu.Unlock()
	if !ok {
		return false
	}

	by := userID
	if by == "" {
		by = "discord"
	}
	res, err := b.api.Resolve(ctx, approvalID, action, by)
	if errors.Is(err, ErrGone) {
		b.logger.Debug("reaction on resolved approval ignored",
			"approval_id", approvalID, "emoji", emoji)
		b.forget(messageID, approvalID)
		return true
	}
	if errors.Is(err, ErrNotApplicable) {
		// The approval is still pending; keep the correlation so a later
		// approve or deny reaction still lands.
		b.logger.Warn("reaction not applicable to approval",
			"approval_id", approvalID, "action", action, "error", err)
		return true
	}
	if err != nil {
		b.logger.Error("failed to resolve approval",
			"approval_id", approvalID, "action", action, "error", err)
		return true
	}

	outcome := formatOutcome(approvalID, by, res)
	if _, err := b.chat.SendMessage(ctx, b.chatID, outcome); err != nil {
		b.logger.Warn("failed to post outcome", "approval_id", approvalID, "error", err)
	}
	b.forget(messageID, approvalID)
	b.logger.Info("approval resolved via reaction",
		"approval_id", approvalID, "action", action, "by", by)
	return true
}

func (b *Bridge) forget(messageID, approvalID string) {
	b.mu.Lock()
	delete(b.byMessage, messageID)
	delete(b.posted, approvalID)
	b.mu.Unlock()
}

func actionFor(emoji string) (string, bool) {
	switch emoji {
	case emojiApprove:
		return "approve", true
	case emojiDeny:
		return "deny", true
	case emojiRemember:
		return "remember", true
	}
	return "", false
}

func formatRequest(id, tool, description string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔐 **Approval needed** `%s`\n", id)
	fmt.Fprintf(&sb, "Tool: `%s`\n", tool)
	fmt.Fprintf(&sb, "```\n%s\n```\n", truncate(description, 500))
	sb.WriteString("React ✅ to approve, ❌ to deny")
	if tool == "shell" {
		sb.WriteString(", 🔓 to approve and remember")
	}
	sb.WriteString(".")
	return sb.String()
}

func formatOutcome(id, by string, res *ResolveResult) string {
	switch res.Status {
	case "denied":
		return fmt.Sprintf("❌ `%s` denied by %s.", id, by)
	case "approved_and_remembered":
		return fmt.Sprintf("🔓 `%s` approved by %s, remembered `%s`.\n```\n%s\n```",
			id, by, res.Pattern, truncate(res.Result, 500))
	default:
		return fmt.Sprintf("✅ `%s` approved by %s.\n```\n%s\n```",
			id, by, truncate(res.Result, 500))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
