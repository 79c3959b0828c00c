package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"conduit/internal/tools"
)

// ShellArgs are the shell tool arguments.
type ShellArgs struct {
	Command string `json:"command" jsonschema:"description=The shell command to execute,required"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds (default: 30)"`
	WorkDir string `json:"work_dir,omitempty" jsonschema:"description=Working directory for the command"`
}

// ShellTool runs a shell command. Deployments normally gate it behind approval.
type ShellTool struct {
	tools.BaseTool
	MaxOutputSize int
}

// NewShellTool creates the shell tool.
func NewShellTool() *ShellTool {
	return &ShellTool{
		BaseTool: tools.BaseTool{
			ToolName:        "shell",
			ToolDescription: "Execute a shell command and return its output.",
			ToolParameters:  tools.BuildSchema(ShellArgs{}),
		},
		MaxOutputSize: 64 * 1024,
	}
}

// Execute runs the command.
func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	var a ShellArgs
	if err := tools.DecodeArgs(t.Name(), args, &a); err != nil {
		return tools.ToolResult{}, err
	}
	if strings.TrimSpace(a.Command) == "" {
		return tools.ToolResult{}, tools.NewInvalidArgsError(t.Name(), "command is required", nil)
	}
	if a.Timeout <= 0 {
		a.Timeout = 30
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(a.Timeout)*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(execCtx, "cmd", "/C", a.Command)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", a.Command)
	}
	cmd.Dir = a.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	var out strings.Builder
	out.WriteString(t.truncate(stdout.String()))
	if stderr.Len() > 0 {
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString("STDERR:\n")
		out.WriteString(t.truncate(stderr.String()))
	}

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return tools.ToolResult{}, tools.NewToolTimeoutError(t.Name(), fmt.Sprintf("%ds", a.Timeout))
		}
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		fmt.Fprintf(&out, "Exit error: %v", err)
		return tools.NewErrorResult(out.String()), nil
	}
	if out.Len() == 0 {
		return tools.NewSuccessResult("(no output)"), nil
	}
	return tools.NewSuccessResult(out.String()), nil
}

func (t *ShellTool) truncate(s string) string {
	if len(s) > t.MaxOutputSize {
		return s[:t.MaxOutputSize] + "\n... (output truncated)"
	}
	return s
}
