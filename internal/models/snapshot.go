package models

// Snapshot is the persisted registry state: the fleet, the current selection
// and the stored credentials keyed by canonical host key.
type Snapshot struct {
	AllHosts      []Host
	SelectedHosts []Host
	Credentials   map[string]Credential
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		AllHosts:      []Host{},
		SelectedHosts: []Host{},
		Credentials:   map[string]Credential{},
	}
}

// Contains reports whether the fleet holds a host with key.
func (s *Snapshot) Contains(key string) bool {
	return s.IndexOf(key) >= 0
}

// IndexOf returns the position of key in AllHosts, or -1.
func (s *Snapshot) IndexOf(key string) int {
	for i, h := range s.AllHosts {
		if h.Key() == key {
			return i
		}
	}
	return -1
}

// IsSelected reports whether key is part of the selection.
func (s *Snapshot) IsSelected(key string) bool {
	for _, h := range s.SelectedHosts {
		if h.Key() == key {
			return true
		}
	}
	return false
}

// Credential returns the stored credential for host, if any.
func (s *Snapshot) Credential(host Host) (Credential, bool) {
	c, ok := s.Credentials[host.Key()]
	if !ok || c.IsZero() {
		return Credential{}, false
	}
	return c, true
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		AllHosts:      append([]Host{}, s.AllHosts...),
		SelectedHosts: append([]Host{}, s.SelectedHosts...),
		Credentials:   make(map[string]Credential, len(s.Credentials)),
	}
	for k, v := range s.Credentials {
		out.Credentials[k] = v
	}
	return out
}
