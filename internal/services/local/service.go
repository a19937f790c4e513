// Package local runs commands on the operator's machine.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for local command execution.
type Service interface {
	Run(ctx context.Context, command string) (*models.CommandOutput, error)
	Exec(ctx context.Context, name string, args ...string) (*models.CommandOutput, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its stdout and stderr.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new local service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new local service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Run executes command through "sh -c".
func (s *Impl) Run(ctx context.Context, command string) (*models.CommandOutput, error) {
	if strings.TrimSpace(command) == "" {
		return nil, models.NewConfigError("empty command")
	}

	s.logger.Debug().Str("command", command).Msg("running local command")
	return s.Exec(ctx, "sh", "-c", command)
}

// Exec runs name with args. A non-zero exit status is returned as an error
// together with the collected output.
func (s *Impl) Exec(ctx context.Context, name string, args ...string) (*models.CommandOutput, error) {
	stdout, stderr, err := s.executor.Execute(ctx, name, args...)
	out := &models.CommandOutput{
		Stdout: string(stdout),
		Stderr: string(stderr),
	}

	if err != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		} else {
			out.ExitCode = -1
		}
		if ctx.Err() != nil {
			return out, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		if msg := strings.TrimSpace(out.Stderr); msg != "" {
			return out, fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s failed: %w", name, err)
	}

	return out, nil
}
