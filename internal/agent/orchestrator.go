package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/penates/penates/internal/dispatch"
)

const defaultMaxIterations = 10

// busyNotice is posted to the chat while the backend reorganizes its
// memory, so the silence has a visible cause.
const busyNotice = "💭 *Reorganizing my thoughts...*"

// interruptedResult is sent for orphaned tool calls left behind by an
// abandoned turn.
const interruptedResult = "Error: interrupted by a new request"

// ToolDispatcher routes one tool call and reports what happened.
// Satisfied by dispatch.Dispatcher.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, toolName string, params map[string]any) dispatch.Outcome
}

// Messenger is the slice of the channel surface the orchestrator uses
// for inline actions. Satisfied by channels.Channel.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, content string) (string, error)
	SendReply(ctx context.Context, chatID, messageID, content string) (string, error)
	React(ctx context.Context, chatID, messageID, emoji string) error
}

// TurnResult summarizes one completed conversational turn.
type TurnResult struct {
	FinalText     string
	Iterations    int
	ToolCallsMade []string
	CapReached    bool
}

// Orchestrator runs the turn state machine: send prompt, execute one
// tool call per round-trip, feed the result back, repeat until the
// backend stops asking for tools or the iteration cap is hit.
type Orchestrator struct {
	client        Client
	dispatcher    ToolDispatcher
	channel       Messenger
	logger        *slog.Logger
	maxIterations int
}

func NewOrchestrator(client Client, dispatcher ToolDispatcher, channel Messenger, maxIterations int, logger *slog.Logger) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:        client,
		dispatcher:    dispatcher,
		channel:       channel,
		logger:        logger.With("component", "orchestrator"),
		maxIterations: maxIterations,
	}
}

// ProcessMessage runs one full turn. chatID and messageID locate the
// triggering chat message; messageID may be empty for scheduled
// prompts, in which case reactions and replies degrade to plain sends.
func (o *Orchestrator) ProcessMessage(ctx context.Context, chatID, messageID, prompt string) (*TurnResult, error) {
	resp, err := o.sendRecovering(ctx, chatID, func() (*Response, error) {
		return o.client.SendMessage(ctx, prompt)
	})
	if err != nil {
		o.notify(ctx, chatID, fmt.Sprintf("⚠️ %v", err))
		return nil, err
	}

	res := &TurnResult{}
	for i := 0; ; i++ {
		o.executeActions(ctx, chatID, messageID, resp.Text)
		if len(resp.ToolCalls) == 0 {
			res.FinalText = resp.Text
			return res, nil
		}
		if i >= o.maxIterations {
			o.logger.Warn("max tool iterations reached, stopping turn",
				"limit", o.maxIterations, "pending", len(resp.ToolCalls))
			res.FinalText = resp.Text
			res.CapReached = true
			return res, nil
		}

		// Resolve only the first call. Feeding one result back changes
		// the backend's state, so the rest of the batch is stale; the
		// next response carries whatever is still pending.
		call := resp.ToolCalls[0]
		outcome := o.dispatcher.Dispatch(ctx, call.Name, call.Arguments)
		result, status := describeOutcome(outcome)
		o.logger.Info("tool call resolved",
			"tool", call.Name, "call_id", call.ID, "kind", outcome.Kind)
		res.ToolCallsMade = append(res.ToolCallsMade, call.Name)
		res.Iterations++

		resp, err = o.sendToolResult(ctx, chatID, call.ID, result, status)
		if err != nil {
			o.notify(ctx, chatID, fmt.Sprintf("⚠️ %v", err))
			return res, err
		}
	}
}

// describeOutcome renders a dispatch outcome as the tool-result string
// the backend sees. A queued call is not a failure: the backend is told
// approval is pending so it can phrase its reply accordingly.
func describeOutcome(out dispatch.Outcome) (result, status string) {
	switch out.Kind {
	case dispatch.KindExecuted:
		return out.Result, "success"
	case dispatch.KindQueued:
		return fmt.Sprintf("Approval required (id=%s): %s. The user has been asked; the result will arrive separately.",
			out.ApprovalID, out.Reason), "success"
	default:
		return "Error: " + out.Err, "error"
	}
}

// sendRecovering applies the recoverable-error ladder to one send:
// a single busy retry after notifying the chat, and conflict recovery
// that clears orphaned calls before resending. The clearing loop is
// bounded by the number of orphans the backend reports, not a counter.
func (o *Orchestrator) sendRecovering(ctx context.Context, chatID string, send func() (*Response, error)) (*Response, error) {
	resp, err := send()
	if errors.Is(err, ErrBackendBusy) {
		o.logger.Info("backend busy, retrying once")
		o.notify(ctx, chatID, busyNotice)
		resp, err = send()
		if errors.Is(err, ErrBackendBusy) {
			return nil, fmt.Errorf("backend still busy after retry: %w", err)
		}
	}
	for errors.Is(err, ErrBackendConflict) {
		cleared, clearErr := o.clearOrphans(ctx)
		if clearErr != nil {
			return nil, fmt.Errorf("conflict recovery failed: %w", clearErr)
		}
		if cleared == 0 {
			return nil, fmt.Errorf("backend conflict with no discoverable orphans: %w", err)
		}
		o.logger.Info("cleared orphaned tool calls", "count", cleared)
		resp, err = send()
	}
	return resp, err
}

// clearOrphans sends an interruption result for every tool call the
// backend is still waiting on.
func (o *Orchestrator) clearOrphans(ctx context.Context) (int, error) {
	pending, err := o.client.ListPendingCalls(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending calls: %w", err)
	}
	for _, call := range pending {
		o.logger.Warn("interrupting orphaned tool call", "tool", call.Name, "call_id", call.ID)
		if _, err := o.client.SendToolResult(ctx, call.ID, interruptedResult, "error"); err != nil {
			return 0, fmt.Errorf("failed to interrupt call %s: %w", call.ID, err)
		}
	}
	return len(pending), nil
}

// sendToolResult feeds one result back, recovering from busy/conflict
// and retrying once with the corrected id when the backend says the
// call id does not match what it is waiting on.
func (o *Orchestrator) sendToolResult(ctx context.Context, chatID, callID, result, status string) (*Response, error) {
	resp, err := o.sendRecovering(ctx, chatID, func() (*Response, error) {
		return o.client.SendToolResult(ctx, callID, result, status)
	})
	var mismatch *CallMismatchError
	if errors.As(err, &mismatch) && mismatch.Expected != "" {
		o.logger.Warn("tool call id mismatch, retrying with backend's id",
			"sent", callID, "expected", mismatch.Expected)
		resp, err = o.client.SendToolResult(ctx, mismatch.Expected, result, status)
	}
	return resp, err
}

// executeActions runs the inline actions parsed from assistant text.
// Action failures are logged, never fatal to the turn.
func (o *Orchestrator) executeActions(ctx context.Context, chatID, messageID, text string) {
	if o.channel == nil {
		return
	}
	for _, action := range ParseResponse(text) {
		switch action.Type {
		case ActionReact:
			if messageID == "" {
				continue
			}
			if err := o.channel.React(ctx, chatID, messageID, action.Emoji); err != nil {
				o.logger.Warn("reaction failed", "emoji", action.Emoji, "error", err)
			}
		case ActionReply:
			var err error
			if messageID != "" {
				_, err = o.channel.SendReply(ctx, chatID, messageID, action.Content)
			} else {
				_, err = o.channel.SendMessage(ctx, chatID, action.Content)
			}
			if err != nil {
				o.logger.Warn("reply failed", "error", err)
			}
		case ActionMessage:
			if _, err := o.channel.SendMessage(ctx, chatID, action.Content); err != nil {
				o.logger.Warn("send failed", "error", err)
			}
		case ActionSilent:
			o.logger.Debug("staying silent")
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, chatID, content string) {
	if o.channel == nil {
		return
	}
	if _, err := o.channel.SendMessage(ctx, chatID, content); err != nil {
		o.logger.Warn("notification failed", "error", err)
	}
}
