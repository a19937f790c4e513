// Package dispatcher fans commands and scripts out to hosts and collects
// one result per host.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/fgeck/gofleet/internal/services/credentials"
	"github.com/fgeck/gofleet/internal/services/ssh"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service defines the interface for dispatch operations.
type Service interface {
	Dispatch(ctx context.Context, req models.ExecutionRequest, creds credentials.Source) (*models.Aggregate, error)
	DispatchScript(ctx context.Context, req models.ScriptRequest, creds credentials.Source) (*models.Aggregate, error)
}

// Impl implements the dispatcher Service interface.
type Impl struct {
	transport ssh.Service
	cfg       models.DispatchConfig
	script    models.ScriptConfig
	logger    zerolog.Logger

	readFile func(name string) ([]byte, error)
}

// New creates a new dispatcher.
func New(transport ssh.Service, cfg models.DispatchConfig, script models.ScriptConfig, logger zerolog.Logger) *Impl {
	return &Impl{
		transport: transport,
		cfg:       cfg,
		script:    script,
		logger:    logger,
		readFile:  os.ReadFile,
	}
}

// ParseElevation reports whether command asks for elevation and returns the
// command without the leading "sudo" token.
func ParseElevation(command string) (string, bool) {
	trimmed := strings.TrimSpace(command)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 || fields[0] != "sudo" {
		return trimmed, false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "sudo")), true
}

// elevate wraps inner so that it runs as root. With a password, sudo reads it
// from stdin; without one, sudo must not prompt.
func elevate(inner string, cred models.Credential) models.RemoteCommand {
	if cred.IsZero() {
		return models.RemoteCommand{Command: "sudo -n sh -c " + ssh.Quote(inner)}
	}
	return models.RemoteCommand{
		Command: "sudo -S -p '' sh -c " + ssh.Quote(inner),
		Stdin:   []byte(cred.Password + "\n"),
	}
}

// dedupe drops repeated hosts keeping the first occurrence.
func dedupe(hosts []models.Host) []models.Host {
	seen := make(map[string]bool, len(hosts))
	out := make([]models.Host, 0, len(hosts))
	for _, h := range hosts {
		if seen[h.Key()] {
			continue
		}
		seen[h.Key()] = true
		out = append(out, h)
	}
	return out
}

// resolveAll looks up credentials for every target in order before any
// remote work starts, so that prompts never interleave.
func (s *Impl) resolveAll(targets []models.Host, creds credentials.Source) ([]models.Credential, []error) {
	resolved := make([]models.Credential, len(targets))
	errs := make([]error, len(targets))
	for i, h := range targets {
		resolved[i], errs[i] = creds.Resolve(h)
	}
	return resolved, errs
}

// fanOut calls fn for every index according to policy and waits for all.
func fanOut(n int, policy models.ConcurrencyPolicy, fn func(i int)) {
	if policy.Mode == models.Serial {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var g errgroup.Group
	if policy.Limit > 0 {
		g.SetLimit(policy.Limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Impl) parallel() models.ConcurrencyPolicy {
	return models.ConcurrencyPolicy{Mode: models.Parallel, Limit: s.cfg.Concurrency}
}

// Dispatch runs req.Command on every target and returns one result per
// target in target order. Host failures are recorded in their result; the
// returned error is only set when the request is rejected before dispatch.
func (s *Impl) Dispatch(ctx context.Context, req models.ExecutionRequest, creds credentials.Source) (*models.Aggregate, error) {
	agg := &models.Aggregate{Command: req.Command, StartTime: time.Now()}

	inner, elevated := ParseElevation(req.Command)
	if inner == "" {
		return agg, models.NewConfigError("empty command")
	}
	if req.Repetitions < 1 {
		return agg, models.NewConfigError("repetitions must be >= 1, got %d", req.Repetitions)
	}
	if req.Interval < 0 {
		return agg, models.NewConfigError("interval must be >= 0, got %s", req.Interval)
	}

	targets := dedupe(req.Targets)
	if len(targets) == 0 {
		return agg, models.NewValidationError("no target hosts selected")
	}

	policy := s.parallel()
	if elevated {
		policy = models.ConcurrencyPolicy{Mode: models.Serial}
	}

	s.logger.Info().
		Str("command", req.Command).
		Int("hosts", len(targets)).
		Str("policy", describePolicy(policy)).
		Int("repetitions", req.Repetitions).
		Msg("dispatching command")

	resolved, credErrs := s.resolveAll(targets, creds)

	agg.Results = make([]models.HostResult, len(targets))
	fanOut(len(targets), policy, func(i int) {
		host := targets[i]
		if credErrs[i] != nil {
			agg.Results[i] = s.fail(host, credErrs[i], nil, 0, 0)
			return
		}

		cmd := models.RemoteCommand{Command: inner}
		if elevated {
			cmd = elevate(inner, resolved[i])
		}
		agg.Results[i] = s.runHost(ctx, host, resolved[i], cmd, req.Repetitions, req.Interval)
	})

	agg.EndTime = time.Now()
	s.logSummary(agg)
	return agg, nil
}

// runHost runs cmd repetitions times on host, pausing interval between runs.
func (s *Impl) runHost(ctx context.Context, host models.Host, cred models.Credential, cmd models.RemoteCommand, repetitions int, interval time.Duration) models.HostResult {
	start := time.Now()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	var stdout strings.Builder
	for run := 0; run < repetitions; run++ {
		if run > 0 && interval > 0 {
			if err := sleep(ctx, interval); err != nil {
				res := s.fail(host, models.NewTransportError(host, "wait", err), nil, run, time.Since(start))
				res.Output = stdout.String()
				return res
			}
		}

		out, err := s.transport.Run(ctx, host, cred, cmd)
		if out != nil {
			stdout.WriteString(out.Stdout)
		}
		if err != nil {
			res := s.fail(host, err, out, run, time.Since(start))
			res.Output = stdout.String()
			return res
		}
	}

	result := models.HostResult{
		Host:     host,
		Status:   models.StatusSuccess,
		Output:   stdout.String(),
		Runs:     repetitions,
		Duration: time.Since(start),
	}

	s.logger.Info().
		Str("host", host.Key()).
		Dur("duration", result.Duration).
		Msg("host succeeded")

	return result
}

func (s *Impl) fail(host models.Host, err error, out *models.CommandOutput, runs int, d time.Duration) models.HostResult {
	var me *models.Error
	if !errors.As(err, &me) {
		err = models.NewTransportError(host, "run", err)
	}

	result := models.HostResult{
		Host:     host,
		Status:   models.StatusFailure,
		Runs:     runs,
		Duration: d,
		Error:    err,
	}
	if out != nil {
		result.ExitCode = out.ExitCode
		result.Stderr = out.Stderr
	}

	s.logger.Error().
		Err(err).
		Str("host", host.Key()).
		Int("exit_code", result.ExitCode).
		Msg("host failed")

	return result
}

func (s *Impl) logSummary(agg *models.Aggregate) {
	s.logger.Info().
		Int("hosts", len(agg.Results)).
		Int("succeeded", agg.SuccessCount()).
		Int("failed", len(agg.Results)-agg.SuccessCount()).
		Dur("duration", agg.Duration()).
		Msg("dispatch finished")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// interpreter returns the program used to run a script with base name.
func (s *Impl) interpreter(base string) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	switch ext {
	case "py":
		return s.script.Python, nil
	case "sh", "bash":
		return s.script.Shell, nil
	case "":
		return "", models.NewValidationError("script %q has no extension", base)
	default:
		return "", models.NewValidationError("unsupported script extension %q", ext)
	}
}

// DispatchScript uploads a local script to every target, runs it with the
// interpreter matching its extension and removes it again.
func (s *Impl) DispatchScript(ctx context.Context, req models.ScriptRequest, creds credentials.Source) (*models.Aggregate, error) {
	agg := &models.Aggregate{Command: req.LocalPath, StartTime: time.Now()}

	if strings.Contains(req.LocalPath, "..") {
		return agg, models.NewValidationError("script path %q must not contain '..'", req.LocalPath)
	}
	base := filepath.Base(req.LocalPath)
	minLen := s.script.MinNameLength
	if minLen <= 0 {
		minLen = 4
	}
	if req.LocalPath == "" || len(base) < minLen {
		return agg, models.NewValidationError("script name %q is shorter than %d characters", base, minLen)
	}
	program, err := s.interpreter(base)
	if err != nil {
		return agg, err
	}
	content, err := s.readFile(req.LocalPath)
	if err != nil {
		return agg, models.NewValidationError("reading script: %v", err)
	}

	targets := dedupe(req.Targets)
	if len(targets) == 0 {
		return agg, models.NewValidationError("no target hosts selected")
	}

	remoteDir := s.script.RemoteDir
	if remoteDir == "" {
		remoteDir = "/tmp"
	}
	remotePath := path.Join(remoteDir, base)
	agg.Command = program + " " + remotePath

	s.logger.Info().
		Str("script", req.LocalPath).
		Str("remote_path", remotePath).
		Int("hosts", len(targets)).
		Msg("dispatching script")

	resolved, credErrs := s.resolveAll(targets, creds)
	agg.Results = make([]models.HostResult, len(targets))
	uploaded := make([]bool, len(targets))

	runCmd := models.RemoteCommand{Command: program + " " + ssh.Quote(remotePath)}

	fanOut(len(targets), s.parallel(), func(i int) {
		host := targets[i]
		if credErrs[i] != nil {
			agg.Results[i] = s.fail(host, credErrs[i], nil, 0, 0)
			return
		}

		start := time.Now()
		uctx := ctx
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			uctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		if err := s.transport.Upload(uctx, host, resolved[i], remotePath, content); err != nil {
			agg.Results[i] = s.fail(host, err, nil, 0, time.Since(start))
			return
		}
		uploaded[i] = true

		agg.Results[i] = s.runHost(ctx, host, resolved[i], runCmd, 1, 0)
	})

	s.cleanup(ctx, targets, resolved, uploaded, remotePath)

	agg.EndTime = time.Now()
	s.logSummary(agg)
	return agg, nil
}

// cleanup removes the uploaded script from every host that received it.
// Failures are only logged.
func (s *Impl) cleanup(ctx context.Context, targets []models.Host, resolved []models.Credential, uploaded []bool, remotePath string) {
	rm := models.RemoteCommand{Command: "rm -f " + ssh.Quote(remotePath)}

	fanOut(len(targets), s.parallel(), func(i int) {
		if !uploaded[i] {
			return
		}
		cctx := context.WithoutCancel(ctx)
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(cctx, s.cfg.Timeout)
			defer cancel()
		}
		if _, err := s.transport.Run(cctx, targets[i], resolved[i], rm); err != nil {
			s.logger.Warn().
				Err(err).
				Str("host", targets[i].Key()).
				Str("path", remotePath).
				Msg("failed to remove uploaded script")
		}
	})
}

func describePolicy(p models.ConcurrencyPolicy) string {
	if p.Mode == models.Serial {
		return "serial"
	}
	if p.Limit == 0 {
		return "parallel"
	}
	return fmt.Sprintf("parallel(%d)", p.Limit)
}
