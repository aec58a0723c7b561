package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultShellTimeout is the hard cap for a single command.
const DefaultShellTimeout = 60 * time.Second

// ShellTool executes shell commands. Whether a command may run without a
// human approval is decided by the dispatcher, not here; this tool only
// runs what it is given.
type ShellTool struct {
	Timeout time.Duration
	WorkDir string
}

// NewShellTool creates a new ShellTool.
func NewShellTool(timeout time.Duration, workDir string) *ShellTool {
	return &ShellTool{Timeout: timeout, WorkDir: workDir}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Execute a shell command and return its output."
}

func (t *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	command := GetString(params, "command", "")
	workingDir := GetString(params, "working_dir", t.WorkDir)

	if command == "" {
		return "Error: command is required", nil
	}

	timeout := t.Timeout
	if timeout == 0 {
		timeout = DefaultShellTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	// Run the command in its own process group and kill the whole group
	// on timeout. Killing only sh leaves grandchildren holding the output
	// pipes, which keeps Run blocked past the deadline. WaitDelay bounds
	// the pipe drain for anything that survives the kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var result strings.Builder
	if stdout.Len() > 0 {
		result.WriteString(stdout.String())
	}
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.WriteString(stderr.String())
	}

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %v\n%s", timeout, result.String()), nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.WriteString(fmt.Sprintf("\nExit code: %d", exitErr.ExitCode()))
		} else {
			return fmt.Sprintf("Error executing command: %v", err), nil
		}
	}

	if result.Len() == 0 {
		return "(no output)", nil
	}

	return result.String(), nil
}
