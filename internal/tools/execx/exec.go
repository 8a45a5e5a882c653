// Package execx implements the shell exec tool: guarded, policy
// checked, and able to run commands in foreground, background, or
// auto-yield mode.
package execx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sharphq/sharpbot/internal/approval"
	"github.com/sharphq/sharpbot/internal/process"
	"github.com/sharphq/sharpbot/internal/tools"
)

// Security is the base exec policy.
type Security string

const (
	SecurityDeny      Security = "deny"
	SecurityAllowlist Security = "allowlist"
	SecurityFull      Security = "full"
)

// AskMode controls when the operator is consulted.
type AskMode string

const (
	AskOff    AskMode = "off"
	AskOnMiss AskMode = "on-miss"
	AskAlways AskMode = "always"
)

// denyPatterns blocks obviously destructive commands before any policy
// evaluation.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-z]*\s+)*-[a-z]*r[a-z]*f|\brm\s+(-[a-z]*\s+)*-[a-z]*f[a-z]*r`),
	regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`\bdd\s+[^|;]*of=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;`),
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
}

// Options configures the exec tool.
type Options struct {
	Processes *process.Manager
	Approvals *approval.Manager

	Security Security
	Ask      AskMode

	// Workspace is the working directory for commands.
	Workspace string

	// RestrictToWorkspace rejects absolute paths outside Workspace
	// appearing in the command string.
	RestrictToWorkspace bool

	// Timeout bounds foreground commands.
	Timeout time.Duration
}

// Tool is the exec tool.
type Tool struct {
	opts Options
}

// New creates the exec tool.
func New(opts Options) *Tool {
	if opts.Security == "" {
		opts.Security = SecurityAllowlist
	}
	if opts.Ask == "" {
		opts.Ask = AskOnMiss
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Tool{opts: opts}
}

func (t *Tool) Name() string { return "exec" }

func (t *Tool) Description() string {
	return "Run a shell command. Set background=true for long-running commands, or yield_ms to auto-background after a grace period."
}

func (t *Tool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"command":    tools.StringProp("The shell command to run"),
		"cwd":        tools.StringProp("Working directory (defaults to the workspace)"),
		"background": map[string]any{"type": "boolean", "description": "Start in the background and return immediately"},
		"yield_ms":   map[string]any{"type": "integer", "description": "Wait this long, then background if still running"},
	}, "command")
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}
	cwd, _ := args["cwd"].(string)
	if cwd == "" {
		cwd = t.opts.Workspace
	}
	background, _ := args["background"].(bool)
	yieldMs := intArg(args, "yield_ms")

	if reason := t.guard(command); reason != "" {
		return "", fmt.Errorf("command blocked: %s", reason)
	}
	if allowed, reason := t.approve(ctx, command); !allowed {
		return "", fmt.Errorf("command not approved: %s", reason)
	}

	switch {
	case background:
		return t.runBackground(ctx, command, cwd)
	case yieldMs > 0:
		return t.runAutoYield(ctx, command, cwd, time.Duration(yieldMs)*time.Millisecond)
	default:
		return t.runForeground(ctx, command, cwd)
	}
}

// guard applies the deny regexes and the workspace path restriction.
func (t *Tool) guard(command string) string {
	lower := strings.ToLower(command)
	for _, re := range denyPatterns {
		if re.MatchString(lower) {
			return "matches the destructive-command deny list"
		}
	}
	if t.opts.RestrictToWorkspace && t.opts.Workspace != "" {
		root, err := filepath.Abs(t.opts.Workspace)
		if err != nil {
			return "cannot resolve workspace"
		}
		for _, token := range strings.Fields(command) {
			token = strings.Trim(token, `"'`)
			if !filepath.IsAbs(token) {
				continue
			}
			cleaned := filepath.Clean(token)
			if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
				return fmt.Sprintf("path %s is outside the workspace", token)
			}
		}
	}
	return ""
}

// approve evaluates the security x ask policy matrix.
func (t *Tool) approve(ctx context.Context, command string) (bool, string) {
	if t.opts.Security == SecurityDeny {
		return false, "exec is disabled (security=deny)"
	}

	executable := resolveExecutable(command)
	listed := false
	if t.opts.Approvals != nil && executable != "" {
		listed = t.opts.Approvals.Allowlisted(executable)
	}

	needAsk := false
	switch t.opts.Ask {
	case AskAlways:
		needAsk = true
	case AskOnMiss:
		needAsk = t.opts.Security == SecurityAllowlist && !listed
	}

	if !needAsk {
		if t.opts.Security == SecurityAllowlist && !listed && t.opts.Ask == AskOff {
			return false, fmt.Sprintf("%s is not on the allowlist", displayExecutable(executable, command))
		}
		return true, ""
	}

	if t.opts.Approvals == nil {
		return false, "approval required but no approval manager is configured"
	}
	switch t.opts.Approvals.Ask(ctx, command, executable) {
	case approval.AllowOnce, approval.AllowAlways:
		return true, ""
	default:
		return false, "denied by operator"
	}
}

func (t *Tool) runForeground(ctx context.Context, command, cwd string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	cmd := process.ShellCommand(runCtx, command)
	if cwd != "" {
		cmd.Dir = cwd
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s; partial output:\n%s",
			t.opts.Timeout, tail(output.String(), 2000))
	}
	if err != nil {
		return fmt.Sprintf("exit code %d\n%s", exitCode(err), output.String()), nil
	}
	result := output.String()
	if result == "" {
		result = "(no output)"
	}
	return result, nil
}

func (t *Tool) runBackground(ctx context.Context, command, cwd string) (string, error) {
	if t.opts.Processes == nil {
		return "", fmt.Errorf("background execution is not available")
	}
	session, err := t.opts.Processes.Start(ctx, command, cwd)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Started in background.\nSession ID: %s\nPID: %d\nUse the process tool to poll output.",
		session.ID, session.PID()), nil
}

func (t *Tool) runAutoYield(ctx context.Context, command, cwd string, yield time.Duration) (string, error) {
	if t.opts.Processes == nil {
		return t.runForeground(ctx, command, cwd)
	}
	session, err := t.opts.Processes.Start(ctx, command, cwd)
	if err != nil {
		return "", err
	}
	if session.WaitForExit(yield) {
		// Give the output reader a moment to drain the pipe.
		time.Sleep(20 * time.Millisecond)
		out := session.Tail(0)
		if out == "" {
			out = "(no output)"
		}
		return fmt.Sprintf("exit code %d\n%s", session.ExitCode(), out), nil
	}
	return fmt.Sprintf("Still running after %s; backgrounded.\nSession ID: %s\nPID: %d\nOutput so far:\n%s",
		yield, session.ID, session.PID(), tail(session.Tail(0), 2000)), nil
}

// resolveExecutable finds the absolute path of the command's first word.
func resolveExecutable(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	name := fields[0]
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	resolved, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return resolved
	}
	return abs
}

func displayExecutable(executable, command string) string {
	if executable != "" {
		return executable
	}
	if fields := strings.Fields(command); len(fields) > 0 {
		return fields[0]
	}
	return command
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
