// Package ssh runs commands, uploads files and opens shells on remote hosts.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

// Service defines the interface for remote execution.
type Service interface {
	Run(ctx context.Context, host models.Host, cred models.Credential, cmd models.RemoteCommand) (*models.CommandOutput, error)
	Upload(ctx context.Context, host models.Host, cred models.Credential, remotePath string, content []byte) error
	Shell(ctx context.Context, host models.Host, cred models.Credential, stdin *os.File, stdout, stderr io.Writer) error
	HasKeyAuth() bool
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	Run(cmd string, stdin io.Reader, stdout, stderr io.Writer) error
	Shell(stdin io.Reader, stdout, stderr io.Writer, termType string, height, width int) error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Run(cmd string, stdin io.Reader, stdout, stderr io.Writer) error {
	s.session.Stdin = stdin
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	return s.session.Run(cmd)
}

func (s *defaultSSHSession) Shell(stdin io.Reader, stdout, stderr io.Writer, termType string, height, width int) error {
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := s.session.RequestPty(termType, height, width, modes); err != nil {
		return fmt.Errorf("requesting pty: %w", err)
	}
	s.session.Stdin = stdin
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	if err := s.session.Shell(); err != nil {
		return err
	}
	return s.session.Wait()
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	cfg           models.SSHConfig
	clientFactory ClientFactory
	logger        zerolog.Logger

	signerOnce sync.Once
	signer     ssh.Signer
	signerErr  error

	agentOnce sync.Once
	agentAuth ssh.AuthMethod

	hostKeyOnce sync.Once
	hostKeyCB   ssh.HostKeyCallback
	hostKeyErr  error
}

// New creates a new SSH service.
func New(cfg models.SSHConfig, logger zerolog.Logger) *Impl {
	return &Impl{
		cfg:           cfg,
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(cfg models.SSHConfig, logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		cfg:           cfg,
		clientFactory: factory,
		logger:        logger,
	}
}

// HasKeyAuth reports whether a private key or a reachable agent can authenticate.
func (s *Impl) HasKeyAuth() bool {
	if len(s.cfg.PrivateKey) > 0 || s.cfg.KeyPath != "" {
		return true
	}
	return s.cfg.UseAgent && os.Getenv("SSH_AUTH_SOCK") != ""
}

func (s *Impl) loadSigner() (ssh.Signer, error) {
	s.signerOnce.Do(func() {
		key := s.cfg.PrivateKey
		if len(key) == 0 {
			if s.cfg.KeyPath == "" {
				return
			}
			data, err := os.ReadFile(s.cfg.KeyPath)
			if err != nil {
				s.signerErr = fmt.Errorf("failed to read private key from %s: %w", s.cfg.KeyPath, err)
				return
			}
			key = data
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			s.signerErr = fmt.Errorf("failed to parse private key: %w", err)
			return
		}
		s.signer = signer
	})
	return s.signer, s.signerErr
}

func (s *Impl) loadAgent() ssh.AuthMethod {
	s.agentOnce.Do(func() {
		if !s.cfg.UseAgent {
			return
		}
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			s.logger.Debug().Err(err).Msg("ssh agent not reachable")
			return
		}
		s.agentAuth = ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
	})
	return s.agentAuth
}

func (s *Impl) hostKeyCallback() (ssh.HostKeyCallback, error) {
	s.hostKeyOnce.Do(func() {
		if s.cfg.KnownHosts != "" {
			cb, err := knownhosts.New(s.cfg.KnownHosts)
			if err != nil {
				s.hostKeyErr = fmt.Errorf("loading known_hosts %s: %w", s.cfg.KnownHosts, err)
				return
			}
			s.hostKeyCB = cb
			return
		}

		logger := s.logger
		s.hostKeyCB = func(hostname string, _ net.Addr, _ ssh.PublicKey) error {
			logger.Debug().Str("host", hostname).Msg("host key not verified, no known_hosts configured")
			return nil
		}
	})
	return s.hostKeyCB, s.hostKeyErr
}

func (s *Impl) buildConfig(host models.Host, cred models.Credential) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if agentAuth := s.loadAgent(); agentAuth != nil {
		auth = append(auth, agentAuth)
	}

	signer, err := s.loadSigner()
	if err != nil {
		return nil, err
	}
	if signer != nil {
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if !cred.IsZero() {
		password := cred.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}

	hostKeyCB, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         s.cfg.ConnectTimeout,
	}, nil
}

// connect dials host, giving up when ctx is done.
func (s *Impl) connect(ctx context.Context, host models.Host, cred models.Credential) (SSHClient, error) {
	sshConfig, err := s.buildConfig(host, cred)
	if err != nil {
		return nil, models.NewTransportError(host, "auth setup", err)
	}

	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", host.Addr(), sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		// close a late connection so it does not leak
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, models.NewTransportError(host, "connect", ctx.Err())
	case res := <-clientChan:
		if res.err != nil {
			return nil, models.NewTransportError(host, "connect", fmt.Errorf("failed to connect: %w", res.err))
		}
		return res.client, nil
	}
}

// Run executes cmd on host in a fresh session. A non-zero exit status is
// returned as a TransportError alongside the collected output.
func (s *Impl) Run(ctx context.Context, host models.Host, cred models.Credential, cmd models.RemoteCommand) (*models.CommandOutput, error) {
	s.logger.Debug().Str("host", host.Key()).Str("command", cmd.Command).Msg("running remote command")

	client, err := s.connect(ctx, host, cred)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return nil, models.NewTransportError(host, "session", fmt.Errorf("failed to create session: %w", err))
	}
	defer func() { _ = session.Close() }()

	var stdin io.Reader
	if cmd.Stdin != nil {
		stdin = bytes.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd.Command, stdin, &stdout, &stderr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		// unblock the remote command
		_ = session.Close()
		_ = client.Close()
		return nil, models.NewTransportError(host, "run", ctx.Err())
	case runErr = <-done:
	}

	out := &models.CommandOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runErr != nil {
		var exitErr interface{ ExitStatus() int }
		if errors.As(runErr, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()
			cause := fmt.Errorf("exit status %d", out.ExitCode)
			if msg := strings.TrimSpace(out.Stderr); msg != "" {
				cause = fmt.Errorf("exit status %d: %s", out.ExitCode, msg)
			}
			return out, models.NewTransportError(host, "run", cause)
		}
		out.ExitCode = -1
		return out, models.NewTransportError(host, "run", runErr)
	}

	return out, nil
}

// Upload writes content to remotePath on host with mode 0700.
func (s *Impl) Upload(ctx context.Context, host models.Host, cred models.Credential, remotePath string, content []byte) error {
	quoted := Quote(remotePath)
	cmd := models.RemoteCommand{
		Command: fmt.Sprintf("cat > %s && chmod 700 %s", quoted, quoted),
		Stdin:   content,
	}

	s.logger.Debug().
		Str("host", host.Key()).
		Str("path", remotePath).
		Int("bytes", len(content)).
		Msg("uploading file")

	if _, err := s.Run(ctx, host, cred, cmd); err != nil {
		var e *models.Error
		if errors.As(err, &e) && e.Op == "run" {
			e.Op = "upload"
		}
		return err
	}
	return nil
}

// Shell opens an interactive PTY shell on host. stdin must be a terminal.
func (s *Impl) Shell(ctx context.Context, host models.Host, cred models.Credential, stdin *os.File, stdout, stderr io.Writer) error {
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("stdin is not a terminal, cannot open an interactive shell")
	}

	client, err := s.connect(ctx, host, cred)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return models.NewTransportError(host, "session", fmt.Errorf("failed to create session: %w", err))
	}
	defer func() { _ = session.Close() }()

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("setting terminal raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	width, height, err := term.GetSize(fd)
	if err != nil {
		width, height = 80, 24
	}

	termType := os.Getenv("TERM")
	if termType == "" {
		termType = "xterm-256color"
	}

	s.logger.Debug().Str("host", host.Key()).Msg("opening interactive shell")

	if err := session.Shell(stdin, stdout, stderr, termType, height, width); err != nil {
		var exitErr interface{ ExitStatus() int }
		if errors.As(err, &exitErr) {
			// the remote shell's last exit status is not a transport failure
			return nil
		}
		return models.NewTransportError(host, "shell", err)
	}
	return nil
}

// Quote returns s single-quoted for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
