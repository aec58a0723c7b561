package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/penates/penates/internal/dispatch"
)

type step struct {
	resp *Response
	err  error
}

// fakeBackend pops scripted steps in call order, whatever the call
// type, and records each call it sees. repeat is returned once the
// script runs out.
type fakeBackend struct {
	steps   []step
	repeat  *Response
	calls   []string
	pending []PendingCall
}

func (f *fakeBackend) next() (*Response, error) {
	if len(f.steps) == 0 {
		if f.repeat != nil {
			return f.repeat, nil
		}
		return &Response{}, nil
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s.resp, s.err
}

func (f *fakeBackend) SendMessage(ctx context.Context, text string) (*Response, error) {
	f.calls = append(f.calls, "message")
	return f.next()
}

func (f *fakeBackend) SendToolResult(ctx context.Context, callID, result, status string) (*Response, error) {
	f.calls = append(f.calls, fmt.Sprintf("result:%s:%s", callID, status))
	return f.next()
}

func (f *fakeBackend) ListPendingCalls(ctx context.Context) ([]PendingCall, error) {
	pending := f.pending
	f.pending = nil
	return pending, nil
}

type fakeDispatcher struct {
	outcomes   []dispatch.Outcome
	dispatched []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, toolName string, params map[string]any) dispatch.Outcome {
	f.dispatched = append(f.dispatched, toolName)
	if len(f.outcomes) == 0 {
		return dispatch.Outcome{Kind: dispatch.KindExecuted, Result: "(no output)"}
	}
	out := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return out
}

type fakeMessenger struct {
	messages  []string
	replies   []string
	reactions []string
}

func (f *fakeMessenger) SendMessage(ctx context.Context, chatID, content string) (string, error) {
	f.messages = append(f.messages, content)
	return "m1", nil
}

func (f *fakeMessenger) SendReply(ctx context.Context, chatID, messageID, content string) (string, error) {
	f.replies = append(f.replies, content)
	return "m2", nil
}

func (f *fakeMessenger) React(ctx context.Context, chatID, messageID, emoji string) error {
	f.reactions = append(f.reactions, emoji)
	return nil
}

func TestTurnWithoutToolCalls(t *testing.T) {
	backend := &fakeBackend{steps: []step{
		{resp: &Response{Text: "All quiet."}},
	}}
	chat := &fakeMessenger{}
	o := NewOrchestrator(backend, &fakeDispatcher{}, chat, 10, nil)

	res, err := o.ProcessMessage(context.Background(), "chat", "msg", "status?")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.FinalText != "All quiet." || res.Iterations != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(chat.messages) != 1 || chat.messages[0] != "All quiet." {
		t.Fatalf("unexpected messages: %v", chat.messages)
	}
}

func TestToolChainOneCallPerRoundTrip(t *testing.T) {
	// The first response carries two calls; only the first may be
	// resolved before re-reading the backend's state.
	backend := &fakeBackend{steps: []step{
		{resp: &Response{Text: "[react: 👀]", ToolCalls: []ToolCall{
			{ID: "call_1", Name: "shell", Arguments: map[string]any{"command": "git status"}},
			{ID: "call_stale", Name: "shell"},
		}}},
		{resp: &Response{Text: "Clean tree.", ToolCalls: nil}},
	}}
	disp := &fakeDispatcher{outcomes: []dispatch.Outcome{
		{Kind: dispatch.KindExecuted, Result: "nothing to commit"},
	}}
	chat := &fakeMessenger{}
	o := NewOrchestrator(backend, disp, chat, 10, nil)

	res, err := o.ProcessMessage(context.Background(), "chat", "msg", "check the repo")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.Iterations != 1 || res.FinalText != "Clean tree." {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(disp.dispatched) != 1 || disp.dispatched[0] != "shell" {
		t.Fatalf("stale call dispatched: %v", disp.dispatched)
	}
	want := []string{"message", "result:call_1:success"}
	if fmt.Sprint(backend.calls) != fmt.Sprint(want) {
		t.Fatalf("unexpected backend calls: %v", backend.calls)
	}
	if len(chat.reactions) != 1 || chat.reactions[0] != "👀" {
		t.Fatalf("incremental reaction missing: %v", chat.reactions)
	}
}

func TestIterationCapStopsGracefully(t *testing.T) {
	loop := &Response{ToolCalls: []ToolCall{
		{ID: "call_1", Name: "read_file"},
		{ID: "call_2", Name: "read_file"},
		{ID: "call_3", Name: "read_file"},
		{ID: "call_4", Name: "read_file"},
		{ID: "call_5", Name: "read_file"},
	}}
	backend := &fakeBackend{repeat: loop}
	disp := &fakeDispatcher{}
	o := NewOrchestrator(backend, disp, &fakeMessenger{}, 2, nil)

	res, err := o.ProcessMessage(context.Background(), "chat", "msg", "loop forever")
	if err != nil {
		t.Fatalf("cap must not be an error: %v", err)
	}
	if !res.CapReached {
		t.Fatal("CapReached not set")
	}
	if res.Iterations != 2 || len(disp.dispatched) != 2 {
		t.Fatalf("expected exactly 2 round-trips, got %d (%v)", res.Iterations, disp.dispatched)
	}
}

func TestBusyRetriesOnceAndUsesSecondResponse(t *testing.T) {
	backend := &fakeBackend{steps: []step{
		{err: ErrBackendBusy},
		{resp: &Response{Text: "Back now."}},
	}}
	chat := &fakeMessenger{}
	o := NewOrchestrator(backend, &fakeDispatcher{}, chat, 10, nil)

	res, err := o.ProcessMessage(context.Background(), "chat", "msg", "hello")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.FinalText != "Back now." {
		t.Fatalf("final text must come from the retry, got %q", res.FinalText)
	}
	if len(chat.messages) == 0 || !strings.Contains(chat.messages[0], "Reorganizing") {
		t.Fatalf("busy notice not posted: %v", chat.messages)
	}
}

func TestBusyTwiceGivesUp(t *testing.T) {
	backend := &fakeBackend{steps: []step{
		{err: ErrBackendBusy},
		{err: ErrBackendBusy},
	}}
	o := NewOrchestrator(backend, &fakeDispatcher{}, &fakeMessenger{}, 10, nil)

	if _, err := o.ProcessMessage(context.Background(), "chat", "msg", "hello"); err == nil {
		t.Fatal("expected error after second busy")
	}
	// Exactly two sends: original plus one retry, no loop.
	sends := 0
	for _, c := range backend.calls {
		if c == "message" {
			sends++
		}
	}
	if sends != 2 {
		t.Fatalf("expected 2 send attempts, got %d", sends)
	}
}

func TestConflictClearsOrphansThenRetries(t *testing.T) {
	backend := &fakeBackend{
		steps: []step{
			{err: ErrBackendConflict},               // initial send
			{resp: &Response{}},                     // interrupt call_a
			{resp: &Response{}},                     // interrupt call_b
			{resp: &Response{Text: "Fresh start."}}, // retried send
		},
		pending: []PendingCall{{ID: "call_a", Name: "shell"}, {ID: "call_b", Name: "write_file"}},
	}
	o := NewOrchestrator(backend, &fakeDispatcher{}, &fakeMessenger{}, 10, nil)

	res, err := o.ProcessMessage(context.Background(), "chat", "msg", "hello")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.FinalText != "Fresh start." {
		t.Fatalf("unexpected final text: %q", res.FinalText)
	}
	want := []string{"message", "result:call_a:error", "result:call_b:error", "message"}
	if fmt.Sprint(backend.calls) != fmt.Sprint(want) {
		t.Fatalf("unexpected call order: %v", backend.calls)
	}
}

func TestConflictWithNoOrphansFails(t *testing.T) {
	backend := &fakeBackend{steps: []step{
		{err: ErrBackendConflict},
	}}
	o := NewOrchestrator(backend, &fakeDispatcher{}, &fakeMessenger{}, 10, nil)
	if _, err := o.ProcessMessage(context.Background(), "chat", "msg", "hello"); err == nil {
		t.Fatal("expected error when no orphans are discoverable")
	}
}

func TestMismatchedCallIDRetriedWithExpected(t *testing.T) {
	backend := &fakeBackend{steps: []step{
		{resp: &Response{ToolCalls: []ToolCall{{ID: "call_old", Name: "shell"}}}},
		{err: &CallMismatchError{Sent: "call_old", Expected: "call_new"}},
		{resp: &Response{Text: "done"}},
	}}
	o := NewOrchestrator(backend, &fakeDispatcher{}, &fakeMessenger{}, 10, nil)

	res, err := o.ProcessMessage(context.Background(), "chat", "msg", "go")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.FinalText != "done" {
		t.Fatalf("unexpected final text: %q", res.FinalText)
	}
	last := backend.calls[len(backend.calls)-1]
	if last != "result:call_new:success" {
		t.Fatalf("expected retry with corrected id, got %v", backend.calls)
	}
}

func TestQueuedOutcomeReportedAsPendingApproval(t *testing.T) {
	backend := &fakeBackend{steps: []step{
		{resp: &Response{ToolCalls: []ToolCall{{ID: "call_1", Name: "shell"}}}},
		{resp: &Response{Text: "I asked for approval."}},
	}}
	disp := &fakeDispatcher{outcomes: []dispatch.Outcome{
		{Kind: dispatch.KindQueued, ApprovalID: "abc12345", Reason: "command not in allowlist"},
	}}
	o := NewOrchestrator(backend, disp, &fakeMessenger{}, 10, nil)

	if _, err := o.ProcessMessage(context.Background(), "chat", "msg", "run it"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	// A queued call is a successful dispatch, not an error result.
	if backend.calls[1] != "result:call_1:success" {
		t.Fatalf("queued outcome sent as error: %v", backend.calls)
	}
}
