package delegation

import (
	"fmt"
	"sync"
)

var (
	// ErrNotFound indicates no delegation under the given ID.
	ErrNotFound = fmt.Errorf("delegation: not found")
	// ErrDuplicate indicates an attempt to register an ID twice.
	ErrDuplicate = fmt.Errorf("delegation: already registered")
)

// Store is an in-memory delegation store. Mutation of the delegations
// themselves is per-delegation; the store lock only guards the map.
type Store struct {
	mu          sync.RWMutex
	delegations map[string]*Delegation
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{delegations: make(map[string]*Delegation)}
}

// Register adds a delegation.
func (s *Store) Register(d *Delegation) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("delegation: missing ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.delegations[d.ID]; exists {
		return ErrDuplicate
	}
	s.delegations[d.ID] = d
	return nil
}

// Get returns the delegation for id, or ErrNotFound.
func (s *Store) Get(id string) (*Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// Revoke terminates the delegation with the given id.
func (s *Store) Revoke(id string) error {
	d, err := s.Get(id)
	if err != nil {
		return err
	}
	d.Revoke()
	return nil
}

// Snapshot returns persistence records for every registered delegation.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.delegations))
	for _, d := range s.delegations {
		out = append(out, d.Snapshot())
	}
	return out
}
