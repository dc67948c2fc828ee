package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is one process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env holds KEY=VALUE overrides applied on top of the process environment.
	Env     []string
	Timeout time.Duration
}

// String renders the command line for transcripts and audit logs.
func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Failed reports a non-zero exit.
func (r *Result) Failed() bool {
	return r.ExitCode != 0
}

// Runner executes commands. A non-zero exit is reported in Result, not as an
// error; errors mean the command could not be started or was cut short.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", c.Name, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("run %s: %w", c.Name, err)
	}
	return res, nil
}

// asUser wraps c in sudo -u when user is set and differs from current.
// Environment overrides are forwarded with --preserve-env since sudo
// resets the environment.
func asUser(c Command, user, current string) Command {
	if user == "" || user == current {
		return c
	}

	args := []string{"-u", user}
	if len(c.Env) > 0 {
		names := make([]string, 0, len(c.Env))
		for _, kv := range c.Env {
			if name, _, ok := strings.Cut(kv, "="); ok {
				names = append(names, name)
			}
		}
		args = append(args, "--preserve-env="+strings.Join(names, ","))
	}
	args = append(args, c.Name)
	args = append(args, c.Args...)

	c.Name = "sudo"
	c.Args = args
	return c
}

// normalizeScript converts line endings to LF and trims every line.
func normalizeScript(script string) string {
	script = strings.ReplaceAll(script, "\r\n", "\n")
	script = strings.ReplaceAll(script, "\r", "\n")
	lines := strings.Split(script, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// failureText picks the most useful description of a failed command.
func failureText(res *Result, err error) string {
	if res != nil {
		if s := strings.TrimSpace(res.Stderr); s != "" {
			return s
		}
	}
	if err != nil {
		return err.Error()
	}
	if res != nil {
		return fmt.Sprintf("exit status %d", res.ExitCode)
	}
	return "unknown error"
}
