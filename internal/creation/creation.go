// Package creation defines the common creation model shared by code, jig
// instances, and berries: the five bindings every creation carries and the
// location URI schemes that encode them on and off chain.
package creation

import (
	"fmt"
	"sync"
)

// Kind distinguishes the three creation variants.
type Kind int

const (
	// KindCode is a deployed class or function.
	KindCode Kind = iota
	// KindJig is an instance of a Code creation.
	KindJig
	// KindBerry is an immutable value plucked from a foreign protocol.
	KindBerry
)

func (k Kind) String() string {
	switch k {
	case KindCode:
		return "code"
	case KindJig:
		return "jig"
	case KindBerry:
		return "berry"
	default:
		return "unknown"
	}
}

// Owner is a lock descriptor opaque to this package; the concrete shape is
// provided by internal/lock. nil means the creation is destroyed.
type Owner interface {
	// String renders a stable identity for the owner, used only for
	// equality/debugging here — the locking-script capability lives in
	// internal/lock.Descriptor.
	String() string
}

// Bindings are the five protocol properties every creation carries.
type Bindings struct {
	Origin   string
	Location string
	Nonce    uint64
	Owner    Owner
	Satoshis uint64
}

// Destroyed reports whether the bindings reflect a terminal, destroyed state.
func (b Bindings) Destroyed() bool {
	return b.Owner == nil && b.Satoshis == 0
}

// Creation is the common supertype for code, jig, and berry.
//
// Props holds the creation's own serializable properties, already stripped
// of bindings; for Code it also carries Src (stringified source) and Deps
// (name -> Creation globals). Jig carries Cls, a reference to its Code.
// Berry carries Query/ContentHash identifying what was plucked.
type Creation struct {
	mu sync.RWMutex

	Kind Kind
	Bindings

	Src   string
	Deps  map[string]*Creation
	Cls   *Creation
	Props map[string]any

	Query       string
	ContentHash string
}

// New allocates an empty creation of the given kind with a zeroed props map.
func New(kind Kind) *Creation {
	return &Creation{Kind: kind, Props: make(map[string]any)}
}

// Lock acquires the per-creation mutex; membrane traps hold it for the
// duration of a get/set/call so concurrent cooperative tasks never observe
// a half-updated creation (§5: invariants restored between suspension
// points).
func (c *Creation) Lock()    { c.mu.Lock() }
func (c *Creation) Unlock()  { c.mu.Unlock() }
func (c *Creation) RLock()   { c.mu.RLock() }
func (c *Creation) RUnlock() { c.mu.RUnlock() }

// SameOrigin reports whether two creations represent the same logical
// creation (the worldview-consistency predicate from spec.md §3/§4.3).
func SameOrigin(a, b *Creation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Origin != "" && a.Origin == b.Origin
}

// IsNative reports whether a creation is a built-in never deployed on chain.
func (c *Creation) IsNative() bool {
	return IsNativeLocation(c.Origin)
}

// String implements a debug-friendly representation.
func (c *Creation) String() string {
	return fmt.Sprintf("%s(origin=%s,location=%s,nonce=%d)", c.Kind, c.Origin, c.Location, c.Nonce)
}
