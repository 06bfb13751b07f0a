// Package system wraps external command execution behind a small
// interface so provisioning steps stay testable without a live host.
package system

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes external commands. Provisioning packages depend on
// this interface instead of os/exec directly.
type Runner interface {
	// Look reports whether name resolves on PATH and to what.
	Look(name string) (string, bool)
	// Run executes a command, discarding stdout. Stderr is captured
	// and folded into the returned error on failure.
	Run(ctx context.Context, name string, args ...string) error
	// Output executes a command and returns trimmed stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)
	// Interactive executes a command wired to the caller's terminal.
	// Used for login flows that need a human.
	Interactive(ctx context.Context, name string, args ...string) error
}

// Exec is the os/exec backed Runner used outside of tests.
type Exec struct{}

func NewExec() *Exec { return &Exec{} }

func (e *Exec) Look(name string) (string, bool) {
	p, err := exec.LookPath(name)
	return p, err == nil
}

func (e *Exec) Run(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(name, args, err, stderr.String())
	}
	return nil
}

func (e *Exec) Output(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError(name, args, err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (e *Exec) Interactive(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

func commandError(name string, args []string, err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), msg, err)
}
