package models

import "time"

// SSHConfig holds transport authentication and connection settings.
type SSHConfig struct {
	KeyPath        string // optional private key file
	PrivateKey     []byte // loaded key, takes precedence over KeyPath
	UseAgent       bool   // also offer keys from SSH_AUTH_SOCK
	KnownHosts     string // known_hosts file; empty disables verification
	ConnectTimeout time.Duration
}

// HasKeyAuth reports whether public key authentication is configured.
func (c SSHConfig) HasKeyAuth() bool {
	return len(c.PrivateKey) > 0 || c.KeyPath != "" || c.UseAgent
}
