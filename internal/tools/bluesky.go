package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/penates/penates/internal/bluesky"
)

// BlueskyPostTool publishes a post. Always approval-gated: the dispatcher
// never executes this without a human decision.
type BlueskyPostTool struct {
	client *bluesky.Client
}

func NewBlueskyPostTool(c *bluesky.Client) *BlueskyPostTool { return &BlueskyPostTool{client: c} }

func (t *BlueskyPostTool) Name() string { return "bluesky_post" }

func (t *BlueskyPostTool) Description() string {
	return "Publish a post to Bluesky. Requires human approval."
}

func (t *BlueskyPostTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The post text (max 300 characters)",
			},
		},
		"required": []string{"text"},
	}
}

func (t *BlueskyPostTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	text := GetString(params, "text", "")
	if text == "" {
		return "Error: text is required", nil
	}
	ref, err := t.client.CreatePost(ctx, text)
	if err != nil {
		return fmt.Sprintf("Error posting: %v", err), nil
	}
	return fmt.Sprintf("Posted: %s", ref.URI), nil
}

// BlueskyReplyTool replies to an existing post. Always approval-gated.
type BlueskyReplyTool struct {
	client *bluesky.Client
}

func NewBlueskyReplyTool(c *bluesky.Client) *BlueskyReplyTool { return &BlueskyReplyTool{client: c} }

func (t *BlueskyReplyTool) Name() string { return "bluesky_reply" }

func (t *BlueskyReplyTool) Description() string {
	return "Reply to a Bluesky post. Requires human approval."
}

func (t *BlueskyReplyTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The reply text",
			},
			"parent_uri": map[string]any{
				"type":        "string",
				"description": "URI of the post to reply to",
			},
			"parent_cid": map[string]any{
				"type":        "string",
				"description": "CID of the post to reply to",
			},
			"root_uri": map[string]any{
				"type":        "string",
				"description": "URI of the thread root (defaults to parent)",
			},
			"root_cid": map[string]any{
				"type":        "string",
				"description": "CID of the thread root (defaults to parent)",
			},
		},
		"required": []string{"text", "parent_uri", "parent_cid"},
	}
}

func (t *BlueskyReplyTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	text := GetString(params, "text", "")
	parentURI := GetString(params, "parent_uri", "")
	parentCID := GetString(params, "parent_cid", "")
	if text == "" || parentURI == "" || parentCID == "" {
		return "Error: text, parent_uri, and parent_cid are required", nil
	}
	parent := &bluesky.Ref{URI: parentURI, CID: parentCID}
	var root *bluesky.Ref
	if rootURI := GetString(params, "root_uri", ""); rootURI != "" {
		root = &bluesky.Ref{URI: rootURI, CID: GetString(params, "root_cid", "")}
	}
	ref, err := t.client.Reply(ctx, text, root, parent)
	if err != nil {
		return fmt.Sprintf("Error replying: %v", err), nil
	}
	return fmt.Sprintf("Replied: %s", ref.URI), nil
}

// BlueskySearchTool searches posts.
type BlueskySearchTool struct {
	client *bluesky.Client
}

func NewBlueskySearchTool(c *bluesky.Client) *BlueskySearchTool {
	return &BlueskySearchTool{client: c}
}

func (t *BlueskySearchTool) Name() string { return "bluesky_search" }

func (t *BlueskySearchTool) Description() string {
	return "Search Bluesky posts for a query."
}

func (t *BlueskySearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum posts to return (default 10)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *BlueskySearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := GetString(params, "query", "")
	if query == "" {
		return "Error: query is required", nil
	}
	posts, err := t.client.SearchPosts(ctx, query, GetInt(params, "limit", 10))
	if err != nil {
		return fmt.Sprintf("Error searching: %v", err), nil
	}
	return formatPosts(posts), nil
}

// BlueskyFeedTool reads the home timeline.
type BlueskyFeedTool struct {
	client *bluesky.Client
}

func NewBlueskyFeedTool(c *bluesky.Client) *BlueskyFeedTool { return &BlueskyFeedTool{client: c} }

func (t *BlueskyFeedTool) Name() string { return "bluesky_feed" }

func (t *BlueskyFeedTool) Description() string {
	return "Read the most recent posts from the Bluesky home timeline."
}

func (t *BlueskyFeedTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum posts to return (default 20)",
			},
		},
	}
}

func (t *BlueskyFeedTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	posts, err := t.client.Timeline(ctx, GetInt(params, "limit", 20))
	if err != nil {
		return fmt.Sprintf("Error reading feed: %v", err), nil
	}
	return formatPosts(posts), nil
}

// BlueskyNotificationsTool lists recent notifications.
type BlueskyNotificationsTool struct {
	client *bluesky.Client
}

func NewBlueskyNotificationsTool(c *bluesky.Client) *BlueskyNotificationsTool {
	return &BlueskyNotificationsTool{client: c}
}

func (t *BlueskyNotificationsTool) Name() string { return "bluesky_notifications" }

func (t *BlueskyNotificationsTool) Description() string {
	return "List recent Bluesky notifications."
}

func (t *BlueskyNotificationsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum notifications to return (default 20)",
			},
		},
	}
}

func (t *BlueskyNotificationsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	notifs, err := t.client.Notifications(ctx, GetInt(params, "limit", 20))
	if err != nil {
		return fmt.Sprintf("Error listing notifications: %v", err), nil
	}
	if len(notifs) == 0 {
		return "No notifications.", nil
	}
	var out strings.Builder
	for _, n := range notifs {
		marker := " "
		if !n.IsRead {
			marker = "*"
		}
		out.WriteString(fmt.Sprintf("%s %s from @%s (%s)\n", marker, n.Reason, n.Author, n.URI))
	}
	return out.String(), nil
}

// BlueskyFollowTool follows an account.
type BlueskyFollowTool struct {
	client *bluesky.Client
}

func NewBlueskyFollowTool(c *bluesky.Client) *BlueskyFollowTool {
	return &BlueskyFollowTool{client: c}
}

func (t *BlueskyFollowTool) Name() string { return "bluesky_follow" }

func (t *BlueskyFollowTool) Description() string {
	return "Follow a Bluesky account by handle or DID."
}

func (t *BlueskyFollowTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"handle": map[string]any{
				"type":        "string",
				"description": "Account handle or DID",
			},
		},
		"required": []string{"handle"},
	}
}

func (t *BlueskyFollowTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	handle := GetString(params, "handle", "")
	if handle == "" {
		return "Error: handle is required", nil
	}
	if err := t.client.Follow(ctx, handle); err != nil {
		return fmt.Sprintf("Error following: %v", err), nil
	}
	return fmt.Sprintf("Now following %s", handle), nil
}

// BlueskyUnfollowTool unfollows an account.
type BlueskyUnfollowTool struct {
	client *bluesky.Client
}

func NewBlueskyUnfollowTool(c *bluesky.Client) *BlueskyUnfollowTool {
	return &BlueskyUnfollowTool{client: c}
}

func (t *BlueskyUnfollowTool) Name() string { return "bluesky_unfollow" }

func (t *BlueskyUnfollowTool) Description() string {
	return "Unfollow a Bluesky account by handle or DID."
}

func (t *BlueskyUnfollowTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"handle": map[string]any{
				"type":        "string",
				"description": "Account handle or DID",
			},
		},
		"required": []string{"handle"},
	}
}

func (t *BlueskyUnfollowTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	handle := GetString(params, "handle", "")
	if handle == "" {
		return "Error: handle is required", nil
	}
	if err := t.client.Unfollow(ctx, handle); err != nil {
		return fmt.Sprintf("Error unfollowing: %v", err), nil
	}
	return fmt.Sprintf("Unfollowed %s", handle), nil
}

// BlueskyUserFeedTool reads one account's recent posts.
type BlueskyUserFeedTool struct {
	client *bluesky.Client
}

func NewBlueskyUserFeedTool(c *bluesky.Client) *BlueskyUserFeedTool {
	return &BlueskyUserFeedTool{client: c}
}

func (t *BlueskyUserFeedTool) Name() string { return "bluesky_user_feed" }

func (t *BlueskyUserFeedTool) Description() string {
	return "Read the most recent posts from a specific Bluesky account."
}

func (t *BlueskyUserFeedTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"handle": map[string]any{
				"type":        "string",
				"description": "Account handle or DID",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum posts to return (default 20)",
			},
		},
		"required": []string{"handle"},
	}
}

func (t *BlueskyUserFeedTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	handle := GetString(params, "handle", "")
	if handle == "" {
		return "Error: handle is required", nil
	}
	posts, err := t.client.AuthorFeed(ctx, handle, GetInt(params, "limit", 20))
	if err != nil {
		return fmt.Sprintf("Error reading user feed: %v", err), nil
	}
	return formatPosts(posts), nil
}

func formatPosts(posts []bluesky.Post) string {
	if len(posts) == 0 {
		return "No posts found."
	}
	var out strings.Builder
	for _, p := range posts {
		out.WriteString(fmt.Sprintf("@%s: %s\n  %s (%s)\n", p.Author, p.Text, p.URI, p.CreatedAt))
	}
	return out.String()
}
