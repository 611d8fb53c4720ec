// Package membrane implements the protocol's single point of access
// control: every creation, and every owned inner object reachable from one,
// is wrapped in a membrane enforcing immutability, privacy, serializability,
// and record-keeping on every get/set/delete/call.
//
// spec.md §9 calls for "a tagged-union value type behind a handle; all
// operations go through an AccessControl interface with one method per
// trap; the target and handler live in an arena and hold integer ids, not
// pointers" — Go has no Proxy, so that's exactly what this package is: an
// Arena mapping integer IDs to *Membrane, with Get/Set/Delete/Call methods
// (Set also serves as the defineProperty trap) taking an ID rather than
// holding a live reference callers could bypass. Grounded stylistically on internal/backend's Registry
// (integer/string-keyed lookup table behind a mutex).
package membrane

import (
	"sync"

	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/dynamic"
)

// Rules is the membrane rule bit-field (spec.md §4.5).
type Rules uint32

const (
	RuleImmutable Rules = 1 << iota
	RulePrivacy
	RuleHasBindings
	RuleRecordReads
	RuleRecordUpdates
	RuleRecordCalls
	RuleAdminBypass
	RuleSmartAPI
	RuleFinalMethods
)

// DefaultJigRules is the rule set a live jig instance membrane carries.
const DefaultJigRules = RulePrivacy | RuleHasBindings | RuleRecordReads | RuleRecordUpdates | RuleRecordCalls | RuleSmartAPI | RuleFinalMethods

// DefaultInnerRules is the rule set an owned inner object (not itself a
// creation) inherits from its owning root — no bindings, same privacy/
// recording posture.
const DefaultInnerRules = RulePrivacy | RuleRecordReads | RuleRecordUpdates

// ID is an arena handle: an opaque reference to a *Membrane that callers
// hold instead of a live pointer, per spec.md §9's redesign strategy.
type ID uint64

// Membrane is one node of the interposition layer: either a creation's root
// membrane, or an owned inner object's membrane, always tracing back to a
// Root creation.
type Membrane struct {
	ID     ID
	Target any
	Root   *creation.Creation
	Parent ID     // 0 for a root membrane
	Key    string // property name this membrane was reached through, from Parent
	Rules  Rules

	// Handle is set when Target is itself a Code/Jig whose method dispatch
	// must go through internal/dynamic (handles method-upgrade resolution).
	Handle dynamic.Handle
}

// Arena owns every live membrane and the child-proxy cache that makes
// repeated gets of the same property return the same child ID (spec.md
// §4.5's "child-proxy cache ... preserves identity of membraned inner
// objects across multiple accesses").
type Arena struct {
	mu       sync.RWMutex
	next     ID
	byID     map[ID]*Membrane
	children map[ID]map[string]ID // parent ID -> property name -> child ID
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{
		byID:     make(map[ID]*Membrane),
		children: make(map[ID]map[string]ID),
	}
}

// Wrap allocates a fresh root membrane around a creation and returns its ID.
func (a *Arena) Wrap(root *creation.Creation, rules Rules, handle dynamic.Handle) ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	id := a.next
	a.byID[id] = &Membrane{ID: id, Target: root, Root: root, Rules: rules, Handle: handle}
	return id
}

// wrapChild allocates (or returns the cached) membrane for an owned inner
// value reached from parent via key.
func (a *Arena) wrapChild(parent ID, key string, value any, rules Rules) ID {
	a.mu.Lock()
	defer a.mu.Unlock()

	cache, ok := a.children[parent]
	if !ok {
		cache = make(map[string]ID)
		a.children[parent] = cache
	}
	if existing, ok := cache[key]; ok {
		if m, ok := a.byID[existing]; ok && m.Target == value {
			return existing
		}
	}

	parentM := a.byID[parent]
	a.next++
	id := a.next
	m := &Membrane{ID: id, Target: value, Rules: rules, Parent: parent, Key: key}
	if parentM != nil {
		m.Root = parentM.Root
	}
	a.byID[id] = m
	cache[key] = id
	return id
}

// Lookup returns the membrane for id, or nil if unknown (e.g. released).
func (a *Arena) Lookup(id ID) *Membrane {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.byID[id]
}

// Release forgets id and its child cache entry, used when a creation is
// destroyed and its membrane should no longer answer traps.
func (a *Arena) Release(id ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byID, id)
	delete(a.children, id)
}
