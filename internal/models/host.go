package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// DefaultUser is used when a host spec has no "user@" part.
	DefaultUser = "root"
	// DefaultPort is used when a host spec has no ":port" part.
	DefaultPort = 22
)

// Host identifies a remote machine. Hosts are compared by Key.
type Host struct {
	User    string
	Address string
	Port    int
}

// Key returns the canonical user@address:port form.
func (h Host) Key() string {
	return h.User + "@" + net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// String implements fmt.Stringer.
func (h Host) String() string {
	return h.Key()
}

// Addr returns address:port suitable for dialing.
func (h Host) Addr() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// ParseHost parses "user@address:port". User defaults to root and port to 22.
// IPv6 addresses must be bracketed when a port is given.
func ParseHost(spec string) (Host, error) {
	spec = strings.TrimSpace(spec)
	host := Host{User: DefaultUser, Port: DefaultPort}

	if spec == "" {
		return host, NewConfigError("empty host specification")
	}
	if strings.ContainsAny(spec, " \t") {
		return host, NewConfigError("host specification %q contains whitespace", spec)
	}

	rest := spec
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		if i == 0 {
			return host, NewConfigError("empty user in host specification %q", spec)
		}
		host.User = rest[:i]
		rest = rest[i+1:]
	}

	var portStr string
	switch {
	case strings.HasPrefix(rest, "["):
		end := strings.Index(rest, "]")
		if end == -1 {
			return host, NewConfigError("invalid IPv6 address in %q: missing closing bracket", spec)
		}
		host.Address = rest[1:end]
		remainder := rest[end+1:]
		if remainder != "" {
			if !strings.HasPrefix(remainder, ":") {
				return host, NewConfigError("unexpected %q after address in %q", remainder, spec)
			}
			portStr = remainder[1:]
		}
	case strings.Count(rest, ":") > 1:
		// bare IPv6 address without port
		host.Address = rest
	default:
		if i := strings.Index(rest, ":"); i >= 0 {
			host.Address = rest[:i]
			portStr = rest[i+1:]
		} else {
			host.Address = rest
		}
	}

	if host.Address == "" {
		return host, NewConfigError("empty address in host specification %q", spec)
	}

	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return host, NewConfigError("invalid port %q in %q", portStr, spec)
		}
		if port < 1 || port > 65535 {
			return host, NewConfigError("port %d out of range (1-65535) in %q", port, spec)
		}
		host.Port = port
	}

	return host, nil
}

// MustParseHost is ParseHost for literals known to be valid. It panics on error.
func MustParseHost(spec string) Host {
	h, err := ParseHost(spec)
	if err != nil {
		panic(fmt.Sprintf("models.MustParseHost(%q): %v", spec, err))
	}
	return h
}

// Credential is the secret stored for a host. An empty Password means none.
type Credential struct {
	Password string
}

// IsZero reports whether no secret is present.
func (c Credential) IsZero() bool {
	return c.Password == ""
}

// HostEntry is one parsed line of a host list.
type HostEntry struct {
	Host       Host
	Credential *Credential // nil if the list carried no secret
}
