package diag

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Variant is one way of passing the prompt to the CLI. Shell variants run
// through `sh -c`.
type Variant struct {
	Name  string
	Args  []string
	Shell string
}

// VariantResult is the outcome of running one Variant.
type VariantResult struct {
	Variant  Variant
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
	Err      error
}

// Variants builds the argument forms worth comparing when the CLI rejects the
// bot's invocation.
func Variants(command, model, tools, prompt string) []Variant {
	if command == "" {
		command = "claude"
	}
	var base []string
	if model != "" {
		base = append(base, "--model", model)
	}
	if tools != "" {
		base = append(base, "--allowedTools", tools)
	}
	with := func(extra ...string) []string {
		args := append([]string{command}, base...)
		return append(args, extra...)
	}
	quoted := make([]string, 0, len(base)+3)
	for _, a := range with("-p", prompt) {
		quoted = append(quoted, shellQuote(a))
	}
	return []Variant{
		{Name: "flag", Args: with("-p", prompt)},
		{Name: "flag=", Args: with("-p=" + prompt)},
		{Name: "trailing", Args: with(prompt)},
		{Name: "shell", Shell: strings.Join(quoted, " ")},
	}
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`*?![]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RunVariants runs each variant with its own timeout. Output is kept to the first
// 100 characters, which is enough to tell a usage error from an answer.
func RunVariants(ctx context.Context, variants []Variant, timeout time.Duration) []VariantResult {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	results := make([]VariantResult, 0, len(variants))
	for _, v := range variants {
		results = append(results, runVariant(ctx, v, timeout))
	}
	return results
}

func runVariant(ctx context.Context, v Variant, timeout time.Duration) VariantResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if v.Shell != "" {
		cmd = exec.CommandContext(ctx, "sh", "-c", v.Shell)
	} else {
		cmd = exec.CommandContext(ctx, v.Args[0], v.Args[1:]...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := VariantResult{
		Variant: v,
		Stdout:  truncate(strings.TrimSpace(stdout.String()), 100),
		Stderr:  truncate(strings.TrimSpace(stderr.String()), 100),
		Elapsed: time.Since(start),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() == context.DeadlineExceeded {
			res.Err = ctx.Err()
		}
	default:
		res.ExitCode = -1
		res.Err = err
	}
	return res
}
