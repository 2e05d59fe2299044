package target

import "sync"

// Store holds the last adopted TargetState and signals replacements.
// The change channel has capacity one; concurrent signals coalesce into a
// single pending notification, which is what lets the reconciliation loop
// run "once more" instead of queueing a pass per update.
type Store struct {
	mu      sync.RWMutex
	state   *TargetState
	changed chan struct{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		changed: make(chan struct{}, 1),
	}
}

// Set replaces the held state wholesale and signals the change channel.
func (s *Store) Set(state TargetState) {
	copied := cloneState(state)

	s.mu.Lock()
	s.state = &copied
	s.mu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Get returns a copy of the held state, or false if none was adopted yet.
// The copy is deep enough that callers can mutate the service map freely.
func (s *Store) Get() (TargetState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return TargetState{}, false
	}
	return cloneState(*s.state), true
}

func cloneState(state TargetState) TargetState {
	copied := state
	copied.Services = make(map[string]ServiceConfig, len(state.Services))
	for name, cfg := range state.Services {
		copied.Services[name] = cfg
	}
	return copied
}

// Version returns the version of the held state, or -1 if none.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return -1
	}
	return s.state.Version
}

// Changed exposes the coalescing change notification channel.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}
