// Package state persists the registry snapshot as a JSON document.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/rs/zerolog"
)

// Store defines the interface for snapshot persistence.
type Store interface {
	Load() (*models.Snapshot, error)
	Save(snap *models.Snapshot) error
}

// FileStore stores the snapshot in a single JSON file.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// New creates a store backed by path.
func New(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// document is the on-disk layout.
type document struct {
	AllHosts      []string          `json:"all_hosts"`
	SelectedHosts []string          `json:"selected_hosts"`
	Credentials   map[string]string `json:"credentials"`
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (s *FileStore) Load() (*models.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug().Str("path", s.path).Msg("state file not found, starting empty")
		return models.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, models.NewConfigError("state file %s is corrupt: %v", s.path, err)
	}

	return s.fromDocument(doc)
}

func (s *FileStore) fromDocument(doc document) (*models.Snapshot, error) {
	snap := models.NewSnapshot()

	for _, key := range doc.AllHosts {
		host, err := models.ParseHost(key)
		if err != nil {
			return nil, models.NewConfigError("state file %s: invalid host %q: %v", s.path, key, err)
		}
		if snap.Contains(host.Key()) {
			continue
		}
		snap.AllHosts = append(snap.AllHosts, host)
	}

	for _, key := range doc.SelectedHosts {
		host, err := models.ParseHost(key)
		if err != nil || !snap.Contains(host.Key()) {
			s.logger.Warn().Str("host", key).Msg("dropping selected host not present in fleet")
			continue
		}
		if snap.IsSelected(host.Key()) {
			continue
		}
		snap.SelectedHosts = append(snap.SelectedHosts, host)
	}

	for key, secret := range doc.Credentials {
		host, err := models.ParseHost(key)
		if err != nil {
			s.logger.Warn().Str("host", key).Msg("dropping credential for invalid host")
			continue
		}
		snap.Credentials[host.Key()] = models.Credential{Password: secret}
	}

	return snap, nil
}

// Save writes the snapshot atomically through a temp file in the same directory.
func (s *FileStore) Save(snap *models.Snapshot) error {
	doc := document{
		AllHosts:      make([]string, 0, len(snap.AllHosts)),
		SelectedHosts: make([]string, 0, len(snap.SelectedHosts)),
		Credentials:   make(map[string]string, len(snap.Credentials)),
	}
	for _, h := range snap.AllHosts {
		doc.AllHosts = append(doc.AllHosts, h.Key())
	}
	for _, h := range snap.SelectedHosts {
		doc.SelectedHosts = append(doc.SelectedHosts, h.Key())
	}
	for k, c := range snap.Credentials {
		if !c.IsZero() {
			doc.Credentials[k] = c.Password
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".gofleet-state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting state file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}

	s.logger.Debug().
		Str("path", s.path).
		Int("hosts", len(doc.AllHosts)).
		Int("selected", len(doc.SelectedHosts)).
		Msg("state saved")

	return nil
}
