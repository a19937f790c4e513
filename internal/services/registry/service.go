// Package registry maintains the fleet, its selection and stored credentials.
package registry

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/fgeck/gofleet/internal/services/state"
	"github.com/rs/zerolog"
)

// AddOptions controls Add.
type AddOptions struct {
	// Select also appends the new host to the selection.
	Select bool
}

// Service defines the interface for registry operations.
type Service interface {
	Add(host models.Host, cred *models.Credential, opts AddOptions) (bool, error)
	BulkLoad(entries []models.HostEntry, selectLoaded bool) (int, error)
	Select(indices []int) ([]models.Host, error)
	SelectTokens(tokens []string) ([]models.Host, error)
	SelectWhere(pred func(models.Host) bool) ([]models.Host, error)
	List() (*models.Snapshot, error)
	Remove(host models.Host) (bool, error)
}

// Impl implements the registry Service on top of a snapshot store.
// Every operation re-reads the store so that separate invocations observe
// each other's changes.
type Impl struct {
	mu     sync.Mutex
	store  state.Store
	logger zerolog.Logger
}

// New creates a new registry.
func New(store state.Store, logger zerolog.Logger) *Impl {
	return &Impl{store: store, logger: logger}
}

// update loads the snapshot, applies fn and saves when fn reports a change.
func (r *Impl) update(fn func(snap *models.Snapshot) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.store.Load()
	if err != nil {
		return err
	}

	changed, err := fn(snap)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := r.store.Save(snap); err != nil {
		return fmt.Errorf("persisting registry: %w", err)
	}
	return nil
}

// Add appends host unless it is already registered. It reports whether the
// host was inserted.
func (r *Impl) Add(host models.Host, cred *models.Credential, opts AddOptions) (bool, error) {
	var inserted bool

	err := r.update(func(snap *models.Snapshot) (bool, error) {
		key := host.Key()
		if snap.Contains(key) {
			r.logger.Info().Str("host", key).Msg("host already registered")
			return false, nil
		}

		snap.AllHosts = append(snap.AllHosts, host)
		if cred != nil && !cred.IsZero() {
			snap.Credentials[key] = *cred
		}
		if opts.Select {
			snap.SelectedHosts = append(snap.SelectedHosts, host)
		}
		inserted = true

		r.logger.Info().Str("host", key).Bool("selected", opts.Select).Msg("host added")
		return true, nil
	})

	return inserted, err
}

// BulkLoad merges entries into the fleet. Duplicates, against the fleet or
// within entries, are skipped; a provided secret replaces the stored one.
// It returns the number of newly inserted hosts.
func (r *Impl) BulkLoad(entries []models.HostEntry, selectLoaded bool) (int, error) {
	var added int

	err := r.update(func(snap *models.Snapshot) (bool, error) {
		changed := false

		for _, e := range entries {
			key := e.Host.Key()
			if !snap.Contains(key) {
				snap.AllHosts = append(snap.AllHosts, e.Host)
				added++
				changed = true
			}
			if e.Credential != nil && !e.Credential.IsZero() {
				if snap.Credentials[key] != *e.Credential {
					snap.Credentials[key] = *e.Credential
					changed = true
				}
			}
		}

		if selectLoaded {
			snap.SelectedHosts = append([]models.Host{}, snap.AllHosts...)
			changed = true
		}

		r.logger.Info().
			Int("entries", len(entries)).
			Int("added", added).
			Int("total", len(snap.AllHosts)).
			Msg("hosts loaded")

		return changed, nil
	})

	return added, err
}

// Select replaces the selection with the hosts at the given 0-based
// positions. Out-of-range positions are dropped and repeats keep their first
// occurrence. When no valid position remains, every host is selected.
func (r *Impl) Select(indices []int) ([]models.Host, error) {
	var selected []models.Host

	err := r.update(func(snap *models.Snapshot) (bool, error) {
		if len(snap.AllHosts) == 0 {
			r.logger.Warn().Msg("no hosts registered, nothing to select")
			return false, nil
		}

		seen := make(map[int]bool, len(indices))
		for _, i := range indices {
			if i < 0 || i >= len(snap.AllHosts) {
				r.logger.Debug().Int("index", i).Msg("ignoring out-of-range index")
				continue
			}
			if seen[i] {
				continue
			}
			seen[i] = true
			selected = append(selected, snap.AllHosts[i])
		}

		if len(selected) == 0 {
			r.logger.Info().Msg("no valid indices given, selecting all hosts")
			selected = append([]models.Host{}, snap.AllHosts...)
		}

		snap.SelectedHosts = selected
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return selected, nil
}

// SelectTokens parses space or comma separated indices and calls Select.
// Tokens that are not integers are ignored.
func (r *Impl) SelectTokens(tokens []string) ([]models.Host, error) {
	var indices []int
	for _, tok := range ParseTokens(tokens) {
		i, err := strconv.Atoi(tok)
		if err != nil {
			r.logger.Debug().Str("token", tok).Msg("ignoring non-numeric token")
			continue
		}
		indices = append(indices, i)
	}
	return r.Select(indices)
}

// ParseTokens splits tokens further on commas and whitespace.
func ParseTokens(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		out = append(out, strings.FieldsFunc(t, func(c rune) bool {
			return c == ',' || c == ' ' || c == '\t'
		})...)
	}
	return out
}

// SelectWhere narrows the selection to the hosts satisfying pred, keeping
// their order. An empty selection is treated as the whole fleet. The result
// may be empty.
func (r *Impl) SelectWhere(pred func(models.Host) bool) ([]models.Host, error) {
	selected := []models.Host{}

	err := r.update(func(snap *models.Snapshot) (bool, error) {
		if len(snap.AllHosts) == 0 {
			return false, nil
		}
		for _, h := range SelectionOrAll(snap) {
			if pred(h) {
				selected = append(selected, h)
			}
		}
		snap.SelectedHosts = selected
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return selected, nil
}

// List returns a copy of the current snapshot.
func (r *Impl) List() (*models.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	return snap.Clone(), nil
}

// Remove deletes host from the fleet, the selection and the credentials.
func (r *Impl) Remove(host models.Host) (bool, error) {
	var removed bool

	err := r.update(func(snap *models.Snapshot) (bool, error) {
		key := host.Key()
		idx := snap.IndexOf(key)
		if idx < 0 {
			return false, nil
		}

		snap.AllHosts = append(snap.AllHosts[:idx], snap.AllHosts[idx+1:]...)
		kept := snap.SelectedHosts[:0]
		for _, h := range snap.SelectedHosts {
			if h.Key() != key {
				kept = append(kept, h)
			}
		}
		snap.SelectedHosts = kept
		delete(snap.Credentials, key)
		removed = true

		r.logger.Info().Str("host", key).Msg("host removed")
		return true, nil
	})

	return removed, err
}

// SelectionOrAll returns the selection, or the whole fleet when nothing is selected.
func SelectionOrAll(snap *models.Snapshot) []models.Host {
	if len(snap.SelectedHosts) > 0 {
		return append([]models.Host{}, snap.SelectedHosts...)
	}
	return append([]models.Host{}, snap.AllHosts...)
}
