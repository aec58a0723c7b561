// Package dispatch routes tool calls through the approval gate: safe
// calls execute immediately, gated calls become pending approvals.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/penates/penates/internal/bus"
	"github.com/penates/penates/internal/policy"
	"github.com/penates/penates/internal/store"
	"github.com/penates/penates/internal/tools"
)

// Outcome kinds.
const (
	KindExecuted = "executed"
	KindQueued   = "queued"
	KindFailed   = "failed"
)

// Outcome is the result of dispatching a tool call. Exactly one of the
// three kinds applies: the call ran, it is waiting for a human, or it
// could not be handled at all.
type Outcome struct {
	Kind       string `json:"kind"`
	Result     string `json:"result,omitempty"`      // executed
	ApprovalID string `json:"approval_id,omitempty"` // queued
	Reason     string `json:"reason,omitempty"`
	Err        string `json:"error,omitempty"` // failed
}

func executed(result, reason string) Outcome {
	return Outcome{Kind: KindExecuted, Result: result, Reason: reason}
}

func queued(approvalID, reason string) Outcome {
	return Outcome{Kind: KindQueued, ApprovalID: approvalID, Reason: reason}
}

func failed(format string, args ...any) Outcome {
	return Outcome{Kind: KindFailed, Err: fmt.Sprintf(format, args...)}
}

// Dispatcher owns the gate table: which tools run freely, which consult
// policy, and which always wait for a human.
type Dispatcher struct {
	registry *tools.Registry
	store    *store.Store
	policy   *policy.CommandPolicy
	events   *bus.EventBus
	logger   *slog.Logger

	// alwaysApprove tools are queued unconditionally; there is no
	// auto-approval path for public actions.
	alwaysApprove map[string]bool
}

func New(registry *tools.Registry, st *store.Store, pol *policy.CommandPolicy, events *bus.EventBus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		store:    st,
		policy:   pol,
		events:   events,
		logger:   logger.With("component", "dispatch"),
		alwaysApprove: map[string]bool{
			"bluesky_post":  true,
			"bluesky_reply": true,
		},
	}
}

// Dispatch routes one tool call. Unknown tools fail without touching the
// store; gated tools are queued unless policy clears them.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, params map[string]any) Outcome {
	if _, ok := d.registry.Get(toolName); !ok {
		return failed("unknown tool: %s", toolName)
	}

	if d.alwaysApprove[toolName] {
		return d.queue(toolName, params, "public action always requires approval")
	}

	switch toolName {
	case "shell":
		command := tools.GetString(params, "command", "")
		decision := d.policy.CheckCommand(command)
		if !decision.Allow {
			return d.queue(toolName, params, decision.Reason)
		}
		return d.execute(ctx, toolName, params, decision.Reason)

	case "write_file":
		path := tools.GetString(params, "path", "")
		decision := d.policy.CheckPath(path)
		if !decision.Allow {
			return d.queue(toolName, params, decision.Reason)
		}
		return d.execute(ctx, toolName, params, decision.Reason)
	}

	// Everything else is read-only or internal and runs unguarded.
	return d.execute(ctx, toolName, params, "not approval-gated")
}

func (d *Dispatcher) execute(ctx context.Context, toolName string, params map[string]any, reason string) Outcome {
	result, err := d.registry.Execute(ctx, toolName, params)
	if err != nil {
		return failed("tool %s failed: %v", toolName, err)
	}
	return executed(result, reason)
}

func (d *Dispatcher) queue(toolName string, params map[string]any, reason string) Outcome {
	args, err := json.Marshal(params)
	if err != nil {
		return failed("unserializable tool args: %v", err)
	}
	approval, err := d.store.Submit(toolName, string(args), describe(toolName, params))
	if err != nil {
		return failed("failed to queue approval: %v", err)
	}
	d.logger.Info("tool call queued for approval", "tool", toolName, "approval_id", approval.ApprovalID, "reason", reason)
	if d.events != nil {
		d.events.Publish(bus.EventApprovalNeeded, map[string]any{
			"approval_id": approval.ApprovalID,
			"tool":        toolName,
			"description": approval.Description,
			"reason":      reason,
		})
	}
	return queued(approval.ApprovalID, reason)
}

// ExecuteApproved runs the tool behind an approval that has already been
// flipped to approved, stores its result, and broadcasts the outcome.
// Execution failures are captured into the record, never returned as an
// error to the approver path.
func (d *Dispatcher) ExecuteApproved(ctx context.Context, approval *store.Approval) string {
	var params map[string]any
	if err := json.Unmarshal([]byte(approval.Args), &params); err != nil {
		result := fmt.Sprintf("Error: stored tool args unreadable: %v", err)
		d.finish(approval.ApprovalID, approval.Tool, result)
		return result
	}

	result, err := d.registry.Execute(ctx, approval.Tool, params)
	if err != nil {
		result = fmt.Sprintf("Error: %v", err)
	}
	d.finish(approval.ApprovalID, approval.Tool, result)
	return result
}

func (d *Dispatcher) finish(approvalID, toolName, result string) {
	if err := d.store.SetResult(approvalID, result); err != nil {
		d.logger.Error("failed to store approval result", "approval_id", approvalID, "error", err)
	}
	status := store.StatusApproved
	if strings.HasPrefix(result, "Error:") {
		status = "error"
	}
	if d.events != nil {
		d.events.Publish(bus.EventApprovalResult, map[string]any{
			"approval_id": approvalID,
			"tool":        toolName,
			"status":      status,
			"result":      truncate(result, 500),
		})
	}
}

// describe renders a short human-readable summary for the approval
// prompt. Shell commands show the command itself; everything else shows
// compact JSON args, truncated.
func describe(toolName string, params map[string]any) string {
	if toolName == "shell" {
		return "$ " + truncate(tools.GetString(params, "command", ""), 500)
	}
	args, err := json.Marshal(params)
	if err != nil {
		return toolName
	}
	return fmt.Sprintf("%s %s", toolName, truncate(string(args), 500))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
