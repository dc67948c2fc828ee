// Package services controls system services through the host's init system.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/deploy"
)

const commandTimeout = 30 * time.Second

var (
	// ErrNoInitSystem is returned by Detect when no supported init system runs.
	ErrNoInitSystem = errors.New("no supported init system detected")

	serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9@._:-]+$`)
)

// Result describes the outcome of a control action.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Output  string `json:"output,omitempty"`
}

// Controller manages system services.
type Controller interface {
	IsActive(ctx context.Context, name string) (bool, error)
	Reload(ctx context.Context, name string) (*Result, error)
	Restart(ctx context.Context, name string) (*Result, error)
}

// Systemd controls services with systemctl.
type Systemd struct {
	runner deploy.Runner
}

// NewSystemd creates a systemd controller. A nil runner executes commands locally.
func NewSystemd(runner deploy.Runner) *Systemd {
	if runner == nil {
		runner = deploy.ExecRunner{}
	}
	return &Systemd{runner: runner}
}

// Detect returns the controller for the running init system.
func Detect(runner deploy.Runner) (Controller, error) {
	return detect(runner, "/run/systemd/system")
}

func detect(runner deploy.Runner, systemdDir string) (Controller, error) {
	if info, err := os.Stat(systemdDir); err == nil && info.IsDir() {
		return NewSystemd(runner), nil
	}
	return nil, ErrNoInitSystem
}

// IsActive reports whether the unit is active. Any non-zero exit of
// systemctl is-active means not active.
func (s *Systemd) IsActive(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	res, err := s.systemctl(ctx, "is-active", name)
	if err != nil {
		return false, err
	}
	return !res.Failed() && strings.TrimSpace(res.Stdout) == "active", nil
}

// Reload reloads the unit's configuration.
func (s *Systemd) Reload(ctx context.Context, name string) (*Result, error) {
	return s.action(ctx, "reload", name)
}

// Restart restarts the unit.
func (s *Systemd) Restart(ctx context.Context, name string) (*Result, error) {
	return s.action(ctx, "restart", name)
}

func (s *Systemd) action(ctx context.Context, verb, name string) (*Result, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	res, err := s.systemctl(ctx, verb, name)
	if err != nil {
		return nil, err
	}

	output := strings.TrimSpace(res.Stdout + "\n" + res.Stderr)
	if res.Failed() {
		return &Result{
			Success: false,
			Message: fmt.Sprintf("Failed to %s %s", verb, name),
			Output:  output,
		}, nil
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("%s %sed successfully", name, verb),
		Output:  output,
	}, nil
}

// systemctl returns an error only when the command could not run.
func (s *Systemd) systemctl(ctx context.Context, args ...string) (*deploy.Result, error) {
	cmd := deploy.Command{Name: "systemctl", Args: args, Timeout: commandTimeout}
	res, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", cmd, err)
	}
	return res, nil
}

// ValidateName rejects names that are not plain unit names.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, "-") || !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid service name %q", name)
	}
	return nil
}
