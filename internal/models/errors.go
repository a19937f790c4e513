package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by where they are detected and what they abort.
type ErrorKind int

const (
	// ConfigError covers bad host syntax, invalid ports and empty commands.
	// Raised before any network action.
	ConfigError ErrorKind = iota
	// CredentialError means no secret was available for one host.
	CredentialError
	// TransportError covers connect, auth, run and timeout failures of one host.
	TransportError
	// ValidationError covers rejected scripts and empty targets. Raised before dispatch.
	ValidationError
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ConfigError:
		return "config"
	case CredentialError:
		return "credential"
	case TransportError:
		return "transport"
	case ValidationError:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified error. Host is empty for errors not scoped to a host.
type Error struct {
	Kind ErrorKind
	Host string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Host != "" {
		msg += " on " + e.Host
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NewConfigError returns a ConfigError with a formatted cause.
func NewConfigError(format string, args ...any) error {
	return &Error{Kind: ConfigError, Err: fmt.Errorf(format, args...)}
}

// NewValidationError returns a ValidationError with a formatted cause.
func NewValidationError(format string, args ...any) error {
	return &Error{Kind: ValidationError, Err: fmt.Errorf(format, args...)}
}

// NewCredentialError returns a CredentialError for host.
func NewCredentialError(host Host, err error) error {
	return &Error{Kind: CredentialError, Host: host.Key(), Op: "credential lookup", Err: err}
}

// NewTransportError returns a TransportError for host and op.
func NewTransportError(host Host, op string, err error) error {
	return &Error{Kind: TransportError, Host: host.Key(), Op: op, Err: err}
}
