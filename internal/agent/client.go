// Package agent drives conversational turns against the agent backend:
// send a prompt, execute the tool calls it emits, feed results back,
// and surface the assistant's text as chat actions.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// ToolCall is a tool invocation emitted by the backend. The ID is the
// backend's correlation handle and must be echoed when the result is
// sent back.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// PendingCall identifies a tool call the backend is still waiting on.
type PendingCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Response is one backend round-trip: assistant text plus any tool
// calls that must be resolved before the turn can finish.
type Response struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Client is the conversational backend surface the orchestrator needs.
// ListPendingCalls exists so conflict recovery can enumerate orphaned
// calls instead of guessing from message history.
type Client interface {
	SendMessage(ctx context.Context, text string) (*Response, error)
	SendToolResult(ctx context.Context, callID, result, status string) (*Response, error)
	ListPendingCalls(ctx context.Context) ([]PendingCall, error)
}

// Sentinel errors the orchestrator recovers from. Anything else is a
// turn-level failure.
var (
	// ErrBackendBusy means the backend is reorganizing its memory and
	// the same send may succeed shortly.
	ErrBackendBusy = errors.New("backend busy: memory reorganization in progress")
	// ErrBackendConflict means an earlier turn left tool calls
	// unresolved and the backend refuses new input until they are.
	ErrBackendConflict = errors.New("backend has unresolved tool calls")
)

// CallMismatchError is returned when a tool result names a call id the
// backend is not waiting on. Expected carries the id it wants, when
// the backend discloses it.
type CallMismatchError struct {
	Sent     string
	Expected string
}

func (e *CallMismatchError) Error() string {
	return fmt.Sprintf("tool call id mismatch: sent %q, backend expects %q", e.Sent, e.Expected)
}
