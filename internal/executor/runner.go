// Package executor runs the assistant CLI as a subprocess with a tool allow-list,
// an optional MCP server configuration and a wall-clock timeout.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KafClaw/clibridge/internal/session"
)

var (
	// ErrTimeout is returned when the CLI does not finish within the timeout.
	ErrTimeout = errors.New("claude timed out")
	// ErrPromptTooLong is returned before execution when the prompt exceeds the cap.
	ErrPromptTooLong = errors.New("prompt too long")
	// ErrEmptyPrompt is returned before execution for a blank prompt.
	ErrEmptyPrompt = errors.New("empty prompt")
)

// ExitError reports a non-zero exit of the CLI.
type ExitError struct {
	Code   int
	Stderr string
	Stdout string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	stdout := strings.TrimSpace(e.Stdout)
	if stderr == "" && stdout == "" {
		return fmt.Sprintf("claude exited with status %d: unknown error", e.Code)
	}
	msg := fmt.Sprintf("claude exited with status %d", e.Code)
	if stderr != "" {
		msg += ": " + stderr
	}
	if stdout != "" {
		msg += "\nstdout: " + stdout
	}
	return msg
}

// Options configures a Runner.
type Options struct {
	Command         string
	Model           string
	AllowedTools    string
	MCPConfig       *MCPConfig
	Timeout         time.Duration
	MaxPromptLength int
	// Env is appended to the inherited process environment.
	Env    []string
	Logger *slog.Logger
}

// Request is one CLI invocation. Zero-valued overrides fall back to Options.
type Request struct {
	Prompt       string
	WorkDir      string
	History      []session.Message
	Model        string
	AllowedTools string
	Timeout      time.Duration
	MCPConfig    *MCPConfig
}

// Result is the captured outcome of a successful run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// Output returns stdout with surrounding whitespace removed.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Stdout)
}

// Runner executes the CLI.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Command == "" {
		opts.Command = "claude"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{opts: opts, logger: logger}
}

// MaxPromptLength returns the configured prompt cap in characters; zero means no cap.
func (r *Runner) MaxPromptLength() int { return r.opts.MaxPromptLength }

// CheckPrompt validates a prompt against the emptiness and length rules.
func (r *Runner) CheckPrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	if r.opts.MaxPromptLength > 0 && utf8.RuneCountInString(prompt) > r.opts.MaxPromptLength {
		return fmt.Errorf("%w: %d > %d characters", ErrPromptTooLong, utf8.RuneCountInString(prompt), r.opts.MaxPromptLength)
	}
	return nil
}

// Args builds the argument vector for req, without the command itself.
func (r *Runner) Args(req Request) ([]string, error) {
	model := firstNonEmpty(req.Model, r.opts.Model)
	tools := firstNonEmpty(req.AllowedTools, r.opts.AllowedTools)
	mcp := req.MCPConfig
	if mcp == nil {
		mcp = r.opts.MCPConfig
	}

	var args []string
	if model != "" {
		args = append(args, "--model", model)
	}
	if tools != "" {
		args = append(args, "--allowedTools", tools)
	}
	if mcp != nil && len(mcp.Servers) > 0 {
		raw, err := mcp.JSON()
		if err != nil {
			return nil, err
		}
		args = append(args, "--mcp-config", raw)
	}
	args = append(args, "-p", withHistory(req.History, req.Prompt))
	return args, nil
}

// Run executes the CLI once. The prompt is checked before anything is started.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := r.CheckPrompt(req.Prompt); err != nil {
		return nil, err
	}
	args, err := r.Args(req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.opts.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.opts.Command, args...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	cmd.Env = append(append(os.Environ(), r.opts.Env...), "CLAUDE_NO_COLOR=1")
	// Children holding the pipes open must not stall Wait past the deadline.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("claude exec", "command", r.opts.Command, "args", len(args), "dir", req.WorkDir, "timeout", timeout)
	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		r.logger.Warn("claude timed out", "timeout", timeout, "elapsed", elapsed)
		return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String(), Stdout: stdout.String()}
		}
		return nil, fmt.Errorf("run %s: %w", r.opts.Command, err)
	}

	r.logger.Debug("claude finished", "elapsed", elapsed, "stdout_bytes", stdout.Len())
	return &Result{Stdout: stdout.String(), Stderr: stderr.String(), Elapsed: elapsed}, nil
}

// Version runs `<command> --version` and returns its trimmed output.
func (r *Runner) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.opts.Command, "--version")
	cmd.Env = append(os.Environ(), "CLAUDE_NO_COLOR=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String(), Stdout: stdout.String()}
		}
		return "", fmt.Errorf("run %s --version: %w", r.opts.Command, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func withHistory(history []session.Message, prompt string) string {
	if len(history) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, m := range history {
		role := "User"
		if m.Role == session.RoleAssistant {
			role = "Assistant"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n")
	}
	b.WriteString("\nCurrent request:\n")
	b.WriteString(prompt)
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
