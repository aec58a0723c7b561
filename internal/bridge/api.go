// Package bridge posts pending approvals to chat and turns reactions
// into approve/deny/remember decisions against the approval service.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/penates/penates/internal/store"
)

// ErrGone marks an approval that is already resolved or unknown to the
// service. Reaction handling treats it as a duplicate, not a failure.
var ErrGone = errors.New("approval already resolved or unknown")

// ErrNotApplicable marks a resolution the service rejected for this
// approval, such as "remember" on a non-shell tool. The approval itself
// is still pending and can be resolved another way.
var ErrNotApplicable = errors.New("action not applicable to this approval")

// ResolveResult is the service's answer to a resolution call.
type ResolveResult struct {
	Status  string `json:"status"`
	Result  string `json:"result"`
	Pattern string `json:"pattern,omitempty"`
}

// ApprovalAPI is the slice of the approval service the bridge needs.
// Kept narrow so the poll loop never grows knowledge of the service's
// other routes.
type ApprovalAPI interface {
	ListPending(ctx context.Context) ([]*store.Approval, error)
	Resolve(ctx context.Context, id, action, by string) (*ResolveResult, error)
}

// HTTPAPI talks to the approval service over HTTP.
type HTTPAPI struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAPI(baseURL string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPAPI) ListPending(ctx context.Context) ([]*store.Approval, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/approvals/pending", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("approval service request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("approval service returned HTTP %d", resp.StatusCode)
	}
	var out struct {
		Pending []*store.Approval `json:"pending"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode pending approvals: %w", err)
	}
	return out.Pending, nil
}

func (a *HTTPAPI) Resolve(ctx context.Context, id, action, by string) (*ResolveResult, error) {
	payload, _ := json.Marshal(map[string]string{"resolved_by": by})
	url := fmt.Sprintf("%s/approvals/%s/%s", a.baseURL, id, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("approval service request failed: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrGone
	case http.StatusBadRequest:
		// A 400 is either "already resolved" (a benign duplicate) or an
		// action the service refuses for this approval, e.g. remember on
		// a non-shell tool. Only the former means the approval is gone.
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if bytes.Contains(data, []byte("already resolved")) {
			return nil, ErrGone
		}
		return nil, fmt.Errorf("%w: %s", ErrNotApplicable, truncate(string(data), 200))
	default:
		return nil, fmt.Errorf("approval service returned HTTP %d", resp.StatusCode)
	}
	var out ResolveResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode resolution: %w", err)
	}
	return &out, nil
}
