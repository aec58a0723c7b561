package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/penates/penates/internal/store"
)

type fakeAPI struct {
	pending  []*store.Approval
	resolved []string // "id:action:by"
	result   *ResolveResult
	err      error
}

func (f *fakeAPI) ListPending(ctx context.Context) ([]*store.Approval, error) {
	return f.pending, nil
}

func (f *fakeAPI) Resolve(ctx context.Context, id, action, by string) (*ResolveResult, error) {
	f.resolved = append(f.resolved, id+":"+action+":"+by)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ResolveResult{Status: "approved", Result: "(no output)"}, nil
}

type fakeChat struct {
	messages  []string
	reactions []string
	nextID    int
}

func (f *fakeChat) SendMessage(ctx context.Context, chatID, content string) (string, error) {
	f.messages = append(f.messages, content)
	f.nextID++
	return "msg-" + strings.Repeat("x", f.nextID), nil
}

func (f *fakeChat) React(ctx context.Context, chatID, messageID, emoji string) error {
	f.reactions = append(f.reactions, emoji)
	return nil
}

func pendingShell(id, command string) *store.Approval {
	return &store.Approval{
		ApprovalID:  id,
		Tool:        "shell",
		Description: "$ " + command,
		Status:      store.StatusPending,
	}
}

func TestPollPostsOncePerApproval(t *testing.T) {
	api := &fakeAPI{pending: []*store.Approval{pendingShell("abc123", "rm -rf /tmp/scratch")}}
	chat := &fakeChat{}
	b := New(api, chat, "home", 0, nil)
	ctx := context.Background()

	if err := b.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if err := b.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	if len(chat.messages) != 1 {
		t.Fatalf("re-posted an already-posted approval: %v", chat.messages)
	}
	if !strings.Contains(chat.messages[0], "abc123") || !strings.Contains(chat.messages[0], "rm -rf") {
		t.Fatalf("request text missing detail: %q", chat.messages[0])
	}
	// Shell approvals get the remember affordance.
	if len(chat.reactions) != 3 {
		t.Fatalf("expected 3 reaction affordances, got %v", chat.reactions)
	}
}

func TestPollNonShellGetsTwoAffordances(t *testing.T) {
	api := &fakeAPI{pending: []*store.Approval{{
		ApprovalID:  "def456",
		Tool:        "bluesky_post",
		Description: `bluesky_post {"text":"hello"}`,
		Status:      store.StatusPending,
	}}}
	chat := &fakeChat{}
	b := New(api, chat, "home", 0, nil)

	if err := b.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(chat.reactions) != 2 {
		t.Fatalf("expected 2 reaction affordances, got %v", chat.reactions)
	}
}

func TestHandleReactionApprove(t *testing.T) {
	api := &fakeAPI{pending: []*store.Approval{pendingShell("abc123", "make deploy")}}
	chat := &fakeChat{}
	b := New(api, chat, "home", 0, nil)
	ctx := context.Background()

	if err := b.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	messageID := "msg-x"

	if !b.HandleReaction(ctx, messageID, "✅", "daniele") {
		t.Fatal("reaction on tracked message not handled")
	}
	if len(api.resolved) != 1 || api.resolved[0] != "abc123:approve:daniele" {
		t.Fatalf("unexpected resolution: %v", api.resolved)
	}
	// Outcome posted after the original request.
	if len(chat.messages) != 2 || !strings.Contains(chat.messages[1], "approved by daniele") {
		t.Fatalf("outcome not posted: %v", chat.messages)
	}
	// Correlation is gone afterwards.
	if b.HandleReaction(ctx, messageID, "✅", "daniele") {
		t.Fatal("stale correlation still handled")
	}
}

func TestHandleReactionDeny(t *testing.T) {
	api := &fakeAPI{
		pending: []*store.Approval{pendingShell("abc123", "shutdown now")},
		result:  &ResolveResult{Status: "denied"},
	}
	chat := &fakeChat{}
	b := New(api, chat, "home", 0, nil)
	ctx := context.Background()

	if err := b.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if !b.HandleReaction(ctx, "msg-x", "❌", "daniele") {
		t.Fatal("deny reaction not handled")
	}
	if api.resolved[0] != "abc123:deny:daniele" {
		t.Fatalf("unexpected resolution: %v", api.resolved)
	}
	if !strings.Contains(chat.messages[1], "denied by daniele") {
		t.Fatalf("denial outcome not posted: %v", chat.messages)
	}
}

func TestHandleReactionUnknownMessageOrEmoji(t *testing.T) {
	b := New(&fakeAPI{}, &fakeChat{}, "home", 0, nil)
	ctx := context.Background()

	if b.HandleReaction(ctx, "msg-unknown", "✅", "daniele") {
		t.Fatal("unknown message must not be handled")
	}
	if b.HandleReaction(ctx, "msg-unknown", "🎉", "daniele") {
		t.Fatal("unmapped emoji must not be handled")
	}
}

func TestHandleReactionOnResolvedApprovalIsNoOp(t *testing.T) {
	api := &fakeAPI{
		pending: []*store.Approval{pendingShell("abc123", "ls")},
		err:     ErrGone,
	}
	chat := &fakeChat{}
	b := New(api, chat, "home", 0, nil)
	ctx := context.Background()

	if err := b.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if !b.HandleReaction(ctx, "msg-x", "✅", "daniele") {
		t.Fatal("duplicate reaction should still count as ours")
	}
	// No outcome message beyond the original request.
	if len(chat.messages) != 1 {
		t.Fatalf("duplicate reaction posted an outcome: %v", chat.messages)
	}
}

func TestHandleReactionNotApplicableKeepsCorrelation(t *testing.T) {
	api := &fakeAPI{
		pending: []*store.Approval{{
			ApprovalID:  "def456",
			Tool:        "bluesky_post",
			Description: `bluesky_post {"text":"hello"}`,
			Status:      store.StatusPending,
		}},
		err: ErrNotApplicable,
	}
	chat := &fakeChat{}
	b := New(api, chat, "home", 0, nil)
	ctx := context.Background()

	if err := b.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	// A remember reaction on a non-shell approval is refused by the
	// service but the approval is still pending.
	if !b.HandleReaction(ctx, "msg-x", "🔓", "daniele") {
		t.Fatal("refused reaction should still count as ours")
	}

	// A later approve must still find the correlation.
	api.err = nil
	if !b.HandleReaction(ctx, "msg-x", "✅", "daniele") {
		t.Fatal("correlation lost after a refused action")
	}
	if len(api.resolved) != 2 || api.resolved[1] != "def456:approve:daniele" {
		t.Fatalf("unexpected resolutions: %v", api.resolved)
	}
}

func TestHTTPAPIRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/approvals/pending":
			w.Write([]byte(`{"pending":[{"id":"abc123","tool":"shell","args":{"command":"echo hi"},"status":"pending"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/approvals/abc123/approve":
			w.Write([]byte(`{"status":"approved","id":"abc123","result":"done"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/approvals/gone/approve":
			http.Error(w, `{"error":"approval already resolved"}`, http.StatusBadRequest)
		case r.Method == http.MethodPost && r.URL.Path == "/approvals/def456/remember":
			http.Error(w, `{"error":"remember only applies to shell commands"}`, http.StatusBadRequest)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	api := NewHTTPAPI(srv.URL)
	ctx := context.Background()

	pending, err := api.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ApprovalID != "abc123" {
		t.Fatalf("unexpected pending: %+v", pending)
	}
	if !strings.Contains(pending[0].Args, "echo hi") {
		t.Fatalf("args object not decoded: %q", pending[0].Args)
	}

	res, err := api.Resolve(ctx, "abc123", "approve", "daniele")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != "approved" || res.Result != "done" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := api.Resolve(ctx, "gone", "approve", "daniele"); !errors.Is(err, ErrGone) {
		t.Fatalf("expected ErrGone, got %v", err)
	}

	// A 400 that refuses the action for this approval is not "gone".
	if _, err := api.Resolve(ctx, "def456", "remember", "daniele"); !errors.Is(err, ErrNotApplicable) {
		t.Fatalf("expected ErrNotApplicable, got %v", err)
	}
}
