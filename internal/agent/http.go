package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const defaultBackendTimeout = 60 * time.Second

// HTTPClient talks to the agent backend over its HTTP API.
type HTTPClient struct {
	baseURL      string
	token        string
	contextLimit int
	client       *http.Client
	logger       *slog.Logger
}

func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultBackendTimeout},
		logger:  logger.With("component", "agent_client"),
	}
}

// SetContextLimit caps the backend's context window, in tokens, for
// conversations driven through this client. Zero keeps the backend's
// own default.
func (c *HTTPClient) SetContextLimit(tokens int) {
	c.contextLimit = tokens
}

func (c *HTTPClient) SendMessage(ctx context.Context, text string) (*Response, error) {
	body := map[string]any{"text": text}
	if c.contextLimit > 0 {
		body["context_window_limit"] = c.contextLimit
	}
	var resp Response
	err := c.post(ctx, "/v1/messages", body, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) SendToolResult(ctx context.Context, callID, result, status string) (*Response, error) {
	body := map[string]any{
		"tool_call_id": callID,
		"result":       result,
		"status":       status,
	}
	var resp Response
	if err := c.post(ctx, "/v1/tool_results", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ListPendingCalls(ctx context.Context) ([]PendingCall, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tool_calls/pending", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer httpResp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if httpResp.StatusCode != http.StatusOK {
		return nil, c.classify(httpResp.StatusCode, raw)
	}
	var out struct {
		Pending []PendingCall `json:"pending"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode pending calls: %w", err)
	}
	return out.Pending, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body map[string]any, out *Response) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	httpResp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer httpResp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if httpResp.StatusCode != http.StatusOK {
		return c.classify(httpResp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// expectedCallIDPattern matches the backend's 400 body when a tool
// result names the wrong call, e.g.
// `expected tool_call_id 'call_abc123'`.
var expectedCallIDPattern = regexp.MustCompile(`expected tool_call_id ['"]([^'"]+)['"]`)

// classify maps backend failures onto the recoverable error taxonomy.
func (c *HTTPClient) classify(status int, body []byte) error {
	text := string(body)
	lower := strings.ToLower(text)
	switch {
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrBackendConflict, strings.TrimSpace(text))
	case status == http.StatusServiceUnavailable,
		strings.Contains(lower, "memory reorganization"),
		strings.Contains(lower, "compaction in progress"):
		return fmt.Errorf("%w: HTTP %d", ErrBackendBusy, status)
	case status == http.StatusBadRequest:
		if m := expectedCallIDPattern.FindStringSubmatch(text); m != nil {
			return &CallMismatchError{Expected: m[1]}
		}
	}
	c.logger.Error("backend error", "status", status, "body", truncate(text, 300))
	return fmt.Errorf("backend returned HTTP %d: %s", status, truncate(strings.TrimSpace(text), 300))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
