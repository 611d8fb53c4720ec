// Package creationset implements the insertion-ordered, origin-keyed
// collection of creations a record or replay worldview accumulates: every
// creation touched during execution must be added exactly once per origin,
// and a second, non-identical creation claiming an already-seen origin is a
// worldview inconsistency the caller must abort on.
package creationset

import (
	"errors"
	"sync"

	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// Set errors.
var (
	// ErrInconsistentWorldview is returned when two distinct *creation.Creation
	// values claim the same origin within one set.
	ErrInconsistentWorldview = errors.New("inconsistent worldview")
)

// Set is an insertion-ordered collection of creations, unique by origin.
type Set struct {
	mu       sync.RWMutex
	order    []*creation.Creation
	byOrigin map[string]*creation.Creation
}

// New returns an empty set.
func New() *Set {
	return &Set{byOrigin: make(map[string]*creation.Creation)}
}

// Add inserts c, keyed by c.Origin. Adding the same *creation.Creation
// pointer twice (the same origin) is a no-op. Adding a different pointer
// under an already-present origin is a worldview inconsistency.
func (s *Set) Add(c *creation.Creation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(c)
}

func (s *Set) addLocked(c *creation.Creation) error {
	if c == nil {
		return nil
	}
	if existing, ok := s.byOrigin[c.Origin]; ok {
		if existing == c {
			return nil
		}
		return ErrInconsistentWorldview
	}
	s.byOrigin[c.Origin] = c
	s.order = append(s.order, c)
	return nil
}

// Has reports whether a creation with c's origin is already present.
func (s *Set) Has(c *creation.Creation) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byOrigin[c.Origin]
	return ok
}

// Get looks up a creation by origin.
func (s *Set) Get(origin string) (*creation.Creation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byOrigin[origin]
	return c, ok
}

// List returns the set's members in insertion order. The returned slice is
// a fresh copy; mutating it does not affect the set.
func (s *Set) List() []*creation.Creation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*creation.Creation, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of members.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Merge adds every member of other into s, in other's insertion order,
// stopping at the first inconsistency.
func (s *Set) Merge(other *Set) error {
	for _, c := range other.List() {
		if err := s.Add(c); err != nil {
			return err
		}
	}
	return nil
}
