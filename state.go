package apns

import "sync"

// state is the open flag of a manager.
type state struct {
	open bool
	mu   sync.RWMutex
}

// IsOpen reports whether the manager accepts notifications.
func (s *state) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Open sets the flag.
func (s *state) Open() {
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
}

// Shut clears the flag and reports whether it was set.
func (s *state) Shut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.open
	s.open = false
	return was
}
