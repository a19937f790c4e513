// Package inventory reads host lists from plain text and YAML files.
package inventory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Service defines the interface for host list operations.
type Service interface {
	LoadFile(path string) ([]models.HostEntry, error)
	AppendHost(path string, host models.Host, cred *models.Credential) error
}

// Impl implements the inventory Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new inventory service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// yamlInventory is the structure of a YAML host list.
type yamlInventory struct {
	Hosts []yamlHost `yaml:"hosts"`
}

type yamlHost struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

// LoadFile reads a host list. Files ending in .yml or .yaml are parsed as YAML
// inventories, everything else as one "user@address:port [secret]" per line.
func (s *Impl) LoadFile(path string) ([]models.HostEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening host list %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return s.ParseYAML(f)
	default:
		return s.ParseText(f)
	}
}

// ParseText parses the line-oriented host list format. Blank lines and lines
// starting with '#' are skipped. A line with more than two fields keeps only
// the host. Lines whose host cannot be parsed are skipped with a warning.
func (s *Impl) ParseText(r io.Reader) ([]models.HostEntry, error) {
	scanner := bufio.NewScanner(r)
	var entries []models.HostEntry
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		host, err := models.ParseHost(fields[0])
		if err != nil {
			s.logger.Warn().Err(err).Int("line", lineNum).Msg("skipping malformed host line")
			continue
		}

		entry := models.HostEntry{Host: host}
		switch len(fields) {
		case 1:
		case 2:
			entry.Credential = &models.Credential{Password: fields[1]}
		default:
			s.logger.Warn().
				Int("line", lineNum).
				Str("host", host.Key()).
				Msg("unexpected fields after host, ignoring secret")
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading host list: %w", err)
	}

	return entries, nil
}

// ParseYAML parses a YAML inventory with a top-level "hosts" list.
func (s *Impl) ParseYAML(r io.Reader) ([]models.HostEntry, error) {
	var inv yamlInventory
	if err := yaml.NewDecoder(r).Decode(&inv); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing YAML inventory: %w", err)
	}

	entries := make([]models.HostEntry, 0, len(inv.Hosts))
	for i, h := range inv.Hosts {
		if h.Address == "" {
			s.logger.Warn().Int("index", i).Msg("skipping inventory host without address")
			continue
		}

		host := models.Host{User: h.User, Address: h.Address, Port: h.Port}
		if host.User == "" {
			host.User = models.DefaultUser
		}
		if host.Port == 0 {
			host.Port = models.DefaultPort
		}
		if host.Port < 1 || host.Port > 65535 {
			s.logger.Warn().Int("index", i).Int("port", host.Port).Msg("skipping inventory host with invalid port")
			continue
		}

		entry := models.HostEntry{Host: host}
		if h.Password != "" {
			entry.Credential = &models.Credential{Password: os.ExpandEnv(h.Password)}
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// AppendHost appends a host line to a plain text host list, creating it if needed.
func (s *Impl) AppendHost(path string, host models.Host, cred *models.Credential) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening host list %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	line := host.Key()
	if cred != nil && !cred.IsZero() {
		line += " " + cred.Password
	}

	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("writing host list %s: %w", path, err)
	}

	s.logger.Debug().Str("host", host.Key()).Str("file", path).Msg("host appended to list")
	return nil
}
