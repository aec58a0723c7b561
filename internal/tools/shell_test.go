package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestShellExecute(t *testing.T) {
	tool := NewShellTool(10*time.Second, t.TempDir())

	out, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestShellNoOutput(t *testing.T) {
	tool := NewShellTool(10*time.Second, "")
	out, _ := tool.Execute(context.Background(), map[string]any{"command": "true"})
	if out != "(no output)" {
		t.Fatalf("expected (no output), got %q", out)
	}
}

func TestShellExitCode(t *testing.T) {
	tool := NewShellTool(10*time.Second, "")
	out, err := tool.Execute(context.Background(), map[string]any{"command": "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "STDERR:") || !strings.Contains(out, "Exit code: 3") {
		t.Fatalf("missing stderr or exit code: %q", out)
	}
}

func TestShellTimeout(t *testing.T) {
	tool := NewShellTool(200*time.Millisecond, "")
	start := time.Now()
	out, err := tool.Execute(context.Background(), map[string]any{"command": "sleep 5"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout not enforced")
	}
	if !strings.Contains(out, "timed out after") {
		t.Fatalf("timeout not reported distinctly: %q", out)
	}
}

func TestShellTimeoutKillsBackgroundChildren(t *testing.T) {
	// A backgrounded child inherits the output pipes. If only sh dies on
	// timeout, the child keeps the pipes open and Execute blocks until
	// the child exits on its own.
	tool := NewShellTool(200*time.Millisecond, "")
	start := time.Now()
	out, err := tool.Execute(context.Background(), map[string]any{"command": "sleep 30 & sleep 30"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not stop background children")
	}
	if !strings.Contains(out, "timed out after") {
		t.Fatalf("timeout not reported distinctly: %q", out)
	}
}

func TestShellMissingCommand(t *testing.T) {
	tool := NewShellTool(time.Second, "")
	out, _ := tool.Execute(context.Background(), map[string]any{})
	if !strings.Contains(out, "command is required") {
		t.Fatalf("unexpected output: %q", out)
	}
}
