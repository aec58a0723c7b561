// Package bluesky is a minimal AT protocol client covering the actions
// the assistant uses: posting, replying, searching, reading feeds and
// notifications, and following accounts.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const DefaultHost = "https://bsky.social"

// TokenCache holds the current session tokens. Sessions are created
// lazily, reused until the server rejects them, and refreshed via a
// single explicit invalidation point rather than per-call re-login.
type TokenCache struct {
	mu         sync.Mutex
	accessJWT  string
	refreshJWT string
	did        string
}

// Get returns the cached access token and DID, or ok=false when a new
// session is needed.
func (c *TokenCache) Get() (accessJWT, did string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessJWT, c.did, c.accessJWT != ""
}

// Set stores fresh session tokens.
func (c *TokenCache) Set(accessJWT, refreshJWT, did string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessJWT = accessJWT
	c.refreshJWT = refreshJWT
	c.did = did
}

// Invalidate drops the cached session so the next call re-authenticates.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessJWT = ""
	c.refreshJWT = ""
	c.did = ""
}

// Client talks to a Bluesky PDS.
type Client struct {
	host       string
	identifier string
	password   string
	httpClient *http.Client
	tokens     *TokenCache
	logger     *slog.Logger
}

func NewClient(host, identifier, password string, logger *slog.Logger) *Client {
	if host == "" {
		host = DefaultHost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		identifier: identifier,
		password:   password,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     &TokenCache{},
		logger:     logger.With("component", "bluesky"),
	}
}

// Post is a single feed item in simplified form.
type Post struct {
	URI       string `json:"uri"`
	CID       string `json:"cid"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// Notification is a simplified notification entry.
type Notification struct {
	Reason string `json:"reason"`
	Author string `json:"author"`
	URI    string `json:"uri"`
	IsRead bool   `json:"is_read"`
}

// Ref identifies a post for reply threading.
type Ref struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func (c *Client) createSession(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"identifier": c.identifier,
		"password":   c.password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/xrpc/com.atproto.server.createSession", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("session create failed: %s: %s", resp.Status, truncate(string(data), 200))
	}

	var session struct {
		AccessJWT  string `json:"accessJwt"`
		RefreshJWT string `json:"refreshJwt"`
		DID        string `json:"did"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}
	c.tokens.Set(session.AccessJWT, session.RefreshJWT, session.DID)
	c.logger.Info("bluesky session created", "did", session.DID)
	return nil
}

// getOrRefresh returns a valid access token, creating a session if the
// cache is empty.
func (c *Client) getOrRefresh(ctx context.Context) (string, string, error) {
	if token, did, ok := c.tokens.Get(); ok {
		return token, did, nil
	}
	if err := c.createSession(ctx); err != nil {
		return "", "", err
	}
	token, did, _ := c.tokens.Get()
	return token, did, nil
}

// do performs an authenticated XRPC call. On an auth rejection the cached
// session is invalidated and the call retried exactly once.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, _, err := c.getOrRefresh(ctx)
		if err != nil {
			return err
		}

		u := c.host + "/xrpc/" + endpoint
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("bluesky request failed: %w", err)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if attempt == 0 && looksLikeExpiredToken(resp.StatusCode, data) {
				c.logger.Info("bluesky session expired, re-authenticating")
				c.tokens.Invalidate()
				continue
			}
			return fmt.Errorf("bluesky %s failed: %s: %s", endpoint, resp.Status, truncate(string(data), 200))
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("bluesky %s failed: %s: %s", endpoint, resp.Status, truncate(string(data), 200))
		}
		if out != nil {
			err = json.NewDecoder(resp.Body).Decode(out)
		}
		resp.Body.Close()
		return err
	}
	return fmt.Errorf("bluesky %s failed after re-auth", endpoint)
}

func looksLikeExpiredToken(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	return bytes.Contains(body, []byte("ExpiredToken")) || bytes.Contains(body, []byte("InvalidToken"))
}

// CreatePost publishes a new post and returns its reference.
func (c *Client) CreatePost(ctx context.Context, text string) (*Ref, error) {
	return c.createPostRecord(ctx, text, nil, nil)
}

// Reply publishes a reply to an existing post. root may equal parent for
// a top-level reply.
func (c *Client) Reply(ctx context.Context, text string, root, parent *Ref) (*Ref, error) {
	if root == nil {
		root = parent
	}
	return c.createPostRecord(ctx, text, root, parent)
}

func (c *Client) createPostRecord(ctx context.Context, text string, root, parent *Ref) (*Ref, error) {
	_, did, err := c.getOrRefresh(ctx)
	if err != nil {
		return nil, err
	}
	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if parent != nil {
		record["reply"] = map[string]any{
			"root":   map[string]string{"uri": root.URI, "cid": root.CID},
			"parent": map[string]string{"uri": parent.URI, "cid": parent.CID},
		}
	}
	payload := map[string]any{
		"repo":       did,
		"collection": "app.bsky.feed.post",
		"record":     record,
	}
	var out Ref
	if err := c.do(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchPosts runs an authenticated post search.
func (c *Client) SearchPosts(ctx context.Context, query string, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{"q": {query}, "limit": {fmt.Sprint(limit)}}
	var out struct {
		Posts []feedPost `json:"posts"`
	}
	if err := c.do(ctx, http.MethodGet, "app.bsky.feed.searchPosts", q, nil, &out); err != nil {
		return nil, err
	}
	return simplifyPosts(out.Posts), nil
}

// Timeline returns the authenticated user's home feed.
func (c *Client) Timeline(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{"limit": {fmt.Sprint(limit)}}
	var out struct {
		Feed []struct {
			Post feedPost `json:"post"`
		} `json:"feed"`
	}
	if err := c.do(ctx, http.MethodGet, "app.bsky.feed.getTimeline", q, nil, &out); err != nil {
		return nil, err
	}
	posts := make([]feedPost, 0, len(out.Feed))
	for _, item := range out.Feed {
		posts = append(posts, item.Post)
	}
	return simplifyPosts(posts), nil
}

// Notifications lists recent notifications.
func (c *Client) Notifications(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{"limit": {fmt.Sprint(limit)}}
	var out struct {
		Notifications []struct {
			Reason string `json:"reason"`
			Author struct {
				Handle string `json:"handle"`
			} `json:"author"`
			URI    string `json:"uri"`
			IsRead bool   `json:"isRead"`
		} `json:"notifications"`
	}
	if err := c.do(ctx, http.MethodGet, "app.bsky.notification.listNotifications", q, nil, &out); err != nil {
		return nil, err
	}
	result := make([]Notification, 0, len(out.Notifications))
	for _, n := range out.Notifications {
		result = append(result, Notification{
			Reason: n.Reason,
			Author: n.Author.Handle,
			URI:    n.URI,
			IsRead: n.IsRead,
		})
	}
	return result, nil
}

// resolveDID turns a handle into a DID; DIDs pass through unchanged.
func (c *Client) resolveDID(ctx context.Context, handle string) (string, error) {
	if strings.HasPrefix(handle, "did:") {
		return handle, nil
	}
	q := url.Values{"handle": {handle}}
	var out struct {
		DID string `json:"did"`
	}
	if err := c.do(ctx, http.MethodGet, "com.atproto.identity.resolveHandle", q, nil, &out); err != nil {
		return "", err
	}
	return out.DID, nil
}

// AuthorFeed returns recent posts by a single account.
func (c *Client) AuthorFeed(ctx context.Context, handle string, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 20
	}
	did, err := c.resolveDID(ctx, handle)
	if err != nil {
		return nil, err
	}
	q := url.Values{"actor": {did}, "limit": {fmt.Sprint(limit)}}
	var out struct {
		Feed []struct {
			Post feedPost `json:"post"`
		} `json:"feed"`
	}
	if err := c.do(ctx, http.MethodGet, "app.bsky.feed.getAuthorFeed", q, nil, &out); err != nil {
		return nil, err
	}
	posts := make([]feedPost, 0, len(out.Feed))
	for _, item := range out.Feed {
		posts = append(posts, item.Post)
	}
	return simplifyPosts(posts), nil
}

// Follow creates a follow record for the given handle or DID.
func (c *Client) Follow(ctx context.Context, handle string) error {
	did, err := c.resolveDID(ctx, handle)
	if err != nil {
		return err
	}

	_, selfDID, err := c.getOrRefresh(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"repo":       selfDID,
		"collection": "app.bsky.graph.follow",
		"record": map[string]any{
			"$type":     "app.bsky.graph.follow",
			"subject":   did,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		},
	}
	return c.do(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, payload, nil)
}

// Unfollow finds our follow record for the given handle or DID and
// deletes it. Returns an error when we do not follow the account.
func (c *Client) Unfollow(ctx context.Context, handle string) error {
	did, err := c.resolveDID(ctx, handle)
	if err != nil {
		return err
	}

	_, selfDID, err := c.getOrRefresh(ctx)
	if err != nil {
		return err
	}

	q := url.Values{
		"repo":       {selfDID},
		"collection": {"app.bsky.graph.follow"},
		"limit":      {"100"},
	}
	var out struct {
		Records []struct {
			URI   string `json:"uri"`
			Value struct {
				Subject string `json:"subject"`
			} `json:"value"`
		} `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "com.atproto.repo.listRecords", q, nil, &out); err != nil {
		return err
	}

	rkey := ""
	for _, rec := range out.Records {
		if rec.Value.Subject == did {
			parts := strings.Split(rec.URI, "/")
			rkey = parts[len(parts)-1]
			break
		}
	}
	if rkey == "" {
		return fmt.Errorf("not following %s", handle)
	}

	payload := map[string]any{
		"repo":       selfDID,
		"collection": "app.bsky.graph.follow",
		"rkey":       rkey,
	}
	return c.do(ctx, http.MethodPost, "com.atproto.repo.deleteRecord", nil, payload, nil)
}

type feedPost struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		Handle string `json:"handle"`
	} `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
}

func simplifyPosts(posts []feedPost) []Post {
	out := make([]Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, Post{
			URI:       p.URI,
			CID:       p.CID,
			Author:    p.Author.Handle,
			Text:      p.Record.Text,
			CreatedAt: p.Record.CreatedAt,
		})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
