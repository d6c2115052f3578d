package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// defaultCommandTimeout applies when neither the call nor the config sets one.
	defaultCommandTimeout = 60 * time.Second
	// maxCommandTimeout caps any requested timeout (5 minutes).
	maxCommandTimeout = 300 * time.Second
	// defaultMaxOutput is the number of output bytes returned to the model.
	defaultMaxOutput = 50000
)

// ExecConfig controls execute_command.
type ExecConfig struct {
	Timeout   time.Duration
	MaxOutput int
	// Sandbox runs commands under bubblewrap when it is installed.
	Sandbox bool
}

// ExecuteCommandTool runs a shell command in the workspace
type ExecuteCommandTool struct {
	Workspace *Workspace
	Sandbox   Sandbox
	timeout   time.Duration
	maxOutput int
}

// NewExecuteCommandTool creates the tool, picking a sandbox when enabled.
func NewExecuteCommandTool(ws *Workspace, cfg ExecConfig) *ExecuteCommandTool {
	t := &ExecuteCommandTool{
		Workspace: ws,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutput,
	}
	if t.timeout <= 0 {
		t.timeout = defaultCommandTimeout
	}
	if t.maxOutput <= 0 {
		t.maxOutput = defaultMaxOutput
	}
	t.Sandbox = PickSandbox(cfg.Sandbox)
	return t
}

func (t *ExecuteCommandTool) Schema() Schema {
	return Schema{
		Name:        string(KindExecuteCommand),
		Kind:        KindExecuteCommand,
		Description: "Execute a shell command in the project directory. Use for builds, tests, git and other CLI operations. Output is captured and returned.",
		Parameters: []ParamSpec{
			{Name: "command", Description: "The command to run with bash -c.", Required: true},
			{Name: "timeout", Description: "Timeout in seconds (1-300)."},
		},
	}
}

func (t *ExecuteCommandTool) Permission() PermissionLevel {
	return PermissionExecute
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, params Params) (string, error) {
	p := params.(ExecuteCommandParams)

	if err := CheckCommandSafety(p.Command); err != nil {
		return "", err
	}

	timeout := t.timeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout) * time.Second
	}
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sb := t.Sandbox
	if sb == nil {
		sb = shell{}
	}
	argv := sb.Argv(p.Command, t.Workspace.Root())

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = t.Workspace.Root()
	cmd.Env = hostEnv()
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// The turn was cancelled: report that rather than the kill signal.
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var result strings.Builder
	result.Write(stdout.Bytes())
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.Write(stderr.Bytes())
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %s", timeout)
		}
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		fmt.Fprintf(&result, "Exit code: %v", err)
	}

	output := result.String()
	if output == "" {
		output = "(no output)"
	}
	if len(output) > t.maxOutput {
		output = output[:t.maxOutput] + "\n... (output truncated)"
	}
	return output, nil
}
