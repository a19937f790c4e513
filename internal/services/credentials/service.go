// Package credentials resolves the secret used to authenticate to each host.
package credentials

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// ErrNotTerminal is returned by a Prompter that cannot ask interactively.
var ErrNotTerminal = errors.New("stdin is not a terminal")

// ErrNoSecret means no password was found and no key authentication is available.
var ErrNoSecret = errors.New("no password stored and no key or agent authentication configured")

// Source hands out a credential per host.
type Source interface {
	Resolve(host models.Host) (models.Credential, error)
}

// Prompter asks the operator for a host password.
type Prompter interface {
	Prompt(host models.Host) (string, error)
}

// Resolver looks up the stored password first, then prompts, then falls back
// to key or agent authentication with an empty password.
type Resolver struct {
	stored   map[string]models.Credential
	prompter Prompter
	keyAuth  bool
	logger   zerolog.Logger

	mu       sync.Mutex
	prompted map[string]models.Credential
}

// NewResolver creates a resolver over stored credentials. prompter may be nil
// to disable interactive prompts.
func NewResolver(stored map[string]models.Credential, prompter Prompter, keyAuth bool, logger zerolog.Logger) *Resolver {
	return &Resolver{
		stored:   stored,
		prompter: prompter,
		keyAuth:  keyAuth,
		logger:   logger,
		prompted: make(map[string]models.Credential),
	}
}

// Resolve returns the credential to use for host. Prompted secrets are kept
// for the lifetime of the resolver but never written back to the registry.
func (r *Resolver) Resolve(host models.Host) (models.Credential, error) {
	key := host.Key()

	if c, ok := r.stored[key]; ok && !c.IsZero() {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.prompted[key]; ok {
		return c, nil
	}

	if r.prompter != nil {
		secret, err := r.prompter.Prompt(host)
		switch {
		case err == nil && secret != "":
			c := models.Credential{Password: secret}
			r.prompted[key] = c
			return c, nil
		case err != nil && !errors.Is(err, ErrNotTerminal):
			return models.Credential{}, models.NewCredentialError(host, err)
		}
	}

	if r.keyAuth {
		r.logger.Debug().Str("host", key).Msg("no password, using key authentication")
		return models.Credential{}, nil
	}

	return models.Credential{}, models.NewCredentialError(host, ErrNoSecret)
}

// TerminalPrompter reads a password from a terminal without echo.
type TerminalPrompter struct {
	in  *os.File
	out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads from stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr}
}

// NewTerminalPrompterWith creates a prompter on explicit streams.
func NewTerminalPrompterWith(in *os.File, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: in, out: out}
}

// Prompt asks for the password of host. It returns ErrNotTerminal when the
// input is not a terminal.
func (p *TerminalPrompter) Prompt(host models.Host) (string, error) {
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNotTerminal
	}

	if _, err := fmt.Fprintf(p.out, "Password for %s: ", host.Key()); err != nil {
		return "", fmt.Errorf("writing prompt: %w", err)
	}
	secret, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return strings.TrimRight(string(secret), "\r\n"), nil
}
