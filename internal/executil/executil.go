// Package executil wraps every shell-out to host network tooling (ip, nft,
// iptables, tor, nmcli, systemctl, chattr, ...) in one abstraction that (i)
// validates inputs, (ii) bounds runtime to a fixed timeout, (iii) captures
// stderr, and (iv) surfaces the exit code as a typed fault — per the design
// notes' instruction for shelling out. Mirrors the teacher's RunHelper
// (internal/sandbox/exec_helper.go): spawn, pipe, capture, classify.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/anonmanager/anonmanager/internal/types"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultTimeout is the 2-second syscall/tool-invocation bound used
// throughout the orchestrator's hot path.
const DefaultTimeout = 2 * time.Second

// Result holds the outcome of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands. A fake implementation backs the unit
// tests for every component that would otherwise need a live host.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
	// RunWithStdin behaves like Run but pipes stdin to the child's standard
	// input, for restore tools that read a ruleset blob from stdin (nft -f
	// -, iptables-restore).
	RunWithStdin(ctx context.Context, timeout time.Duration, name string, stdin string, args ...string) (Result, error)
}

// HostRunner is the production Runner: os/exec with a bounded context.
type HostRunner struct{}

// NewHostRunner returns the production Runner.
func NewHostRunner() *HostRunner { return &HostRunner{} }

// Run executes name with args, bounded by timeout. It never invokes a shell:
// args are passed directly to exec.Command, and each argument is validated by
// parsing it as a single, substitution-free shell word — this rejects
// accidental shell metacharacters or command substitution in
// Profile-supplied or rule-compiled arguments before they ever reach
// os/exec, even though os/exec itself never interprets them.
func (HostRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	return runWithOptionalStdin(ctx, timeout, name, "", args...)
}

// RunWithStdin behaves like Run but pipes stdin to the child process, for
// restore tools that read a ruleset blob from standard input.
func (HostRunner) RunWithStdin(ctx context.Context, timeout time.Duration, name string, stdin string, args ...string) (Result, error) {
	return runWithOptionalStdin(ctx, timeout, name, stdin, args...)
}

func runWithOptionalStdin(ctx context.Context, timeout time.Duration, name string, stdin string, args ...string) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	for _, a := range args {
		if err := ValidateArgument(a); err != nil {
			return Result{}, types.NewFault(types.ErrStepFault,
				fmt.Sprintf("refusing to execute %s: invalid argument %q", name, a), "report this as a bug", err)
		}
	}

	if _, err := exec.LookPath(name); err != nil {
		return Result{}, types.NewFault(types.ErrExternalToolMissing,
			fmt.Sprintf("%s not found in PATH", name), fmt.Sprintf("install the package providing %q", name), err)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...) //nolint:gosec // args validated above, never shell-interpreted
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = bytes.NewReader([]byte(stdin))
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if cctx.Err() == context.DeadlineExceeded {
		return res, types.NewFault(types.ErrTransient,
			fmt.Sprintf("%s did not complete within %s", name, timeout), "retry; the host may be under load", cctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, types.NewFault(types.ErrStepFault,
			fmt.Sprintf("%s exited %d: %s", name, res.ExitCode, firstLine(res.Stderr)), "inspect the security log for the full command output", err)
	}
	if err != nil {
		return res, types.NewFault(types.ErrStepFault, fmt.Sprintf("%s failed to start", name), "check that the binary is executable", err)
	}
	return res, nil
}

// ValidateArgument rejects any argument string that would not parse as a
// single literal shell word with no substitution, redirection, or pipeline —
// i.e. anything that looks like it was meant to escape the argv boundary.
// Legitimate arguments (CIDRs, port numbers, interface names, paths) always
// parse this way; a string is only rejected here if it carries shell syntax
// that has no business in an argv slot that is never shell-interpreted.
func ValidateArgument(arg string) error {
	if arg == "" {
		return nil
	}
	parser := syntax.NewParser()
	file, err := parser.Parse(bytes.NewReader([]byte(arg)), "")
	if err != nil {
		return fmt.Errorf("argument does not parse as shell input: %w", err)
	}
	if len(file.Stmts) > 1 {
		return fmt.Errorf("argument contains multiple statements")
	}
	if len(file.Stmts) == 1 {
		stmt := file.Stmts[0]
		if stmt.Redirects != nil && len(stmt.Redirects) > 0 {
			return fmt.Errorf("argument contains a redirection")
		}
		if _, ok := stmt.Cmd.(*syntax.BinaryCmd); ok {
			return fmt.Errorf("argument contains a pipeline or command list")
		}
		if call, ok := stmt.Cmd.(*syntax.CallExpr); ok {
			for _, word := range call.Args {
				for _, part := range word.Parts {
					switch part.(type) {
					case *syntax.CmdSubst, *syntax.ParamExp, *syntax.ArithmExp, *syntax.ExtGlob:
						return fmt.Errorf("argument contains shell expansion syntax")
					}
				}
			}
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
