package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessageDecodesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"checking","tool_calls":[{"id":"call_1","name":"shell","arguments":{"command":"git status"}}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	resp, err := c.SendMessage(context.Background(), "what changed?")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Text != "checking" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "shell" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if got := resp.ToolCalls[0].Arguments["command"]; got != "git status" {
		t.Fatalf("unexpected arguments: %v", got)
	}
}

func TestSendMessageCarriesContextLimit(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	if _, err := c.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	c.SetContextLimit(32000)
	if _, err := c.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if _, ok := bodies[0]["context_window_limit"]; ok {
		t.Fatalf("unset limit must not be sent: %v", bodies[0])
	}
	if got := bodies[1]["context_window_limit"]; got != float64(32000) {
		t.Fatalf("context window limit not sent: %v", bodies[1])
	}
}

func TestClassifyConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent has a pending tool call", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	_, err := c.SendMessage(context.Background(), "hi")
	if !errors.Is(err, ErrBackendConflict) {
		t.Fatalf("expected ErrBackendConflict, got %v", err)
	}
}

func TestClassifyBusy(t *testing.T) {
	bodies := []struct {
		status int
		body   string
	}{
		{http.StatusServiceUnavailable, "try later"},
		{http.StatusInternalServerError, "memory reorganization in progress"},
	}
	for _, tc := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, tc.body, tc.status)
		}))
		c := NewHTTPClient(srv.URL, "", nil)
		_, err := c.SendMessage(context.Background(), "hi")
		srv.Close()
		if !errors.Is(err, ErrBackendBusy) {
			t.Fatalf("status %d body %q: expected ErrBackendBusy, got %v", tc.status, tc.body, err)
		}
	}
}

func TestClassifyCallMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `invalid request: expected tool_call_id 'call_42'`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	_, err := c.SendToolResult(context.Background(), "call_41", "ok", "success")
	var mismatch *CallMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected CallMismatchError, got %v", err)
	}
	if mismatch.Expected != "call_42" {
		t.Fatalf("expected call_42, got %q", mismatch.Expected)
	}
}

func TestListPendingCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tool_calls/pending" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pending":[{"id":"call_7","name":"shell"}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	pending, err := c.ListPendingCalls(context.Background())
	if err != nil {
		t.Fatalf("ListPendingCalls: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "call_7" {
		t.Fatalf("unexpected pending calls: %+v", pending)
	}
}

func TestAuthorizationHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", nil)
	if _, err := c.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", got)
	}
}
