// Package snapshot implements the rollback primitive every mutating call
// needs before it touches a creation: capture enough state up front to put
// the creation back exactly where it was if the surrounding record later
// fails, including the "permanently poisoned but observable" first-deploy
// failure path.
//
// Grounded on swap/coordinator_timeout.go's capture-before-risky-action,
// restore-on-expiry shape (there: snapshot a swap leg before attempting a
// refund; here: snapshot a creation before a mutating call), generalized
// from one fixed struct to an arbitrary owned property map.
package snapshot

import (
	"github.com/klingon-exchange/jigkernel/internal/clone"
	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// Kind distinguishes how much state a Snapshot captured.
type Kind int

const (
	// BindingsOnly captures just the five protocol bindings, enough to
	// restore a creation that was only read, never mutated.
	BindingsOnly Kind = iota
	// Full additionally captures a deep clone of the owned property map
	// (plus, for Code, source and inner-type), required before any
	// mutating call or the creation's first deploy.
	Full
)

// Snapshot is the captured pre-image of one creation.
type Snapshot struct {
	Target   *creation.Creation
	Kind     Kind
	Bindings creation.Bindings

	// Present only for Kind == Full.
	Props map[string]any
	Src   string
	Cls   *creation.Creation

	// FirstDeploy marks a snapshot taken before a creation's very first
	// publish attempt: on rollback-with-error this creation is poisoned
	// (origin/location become error://<reason>) rather than merely
	// restored, since it never had a prior good state to return to.
	FirstDeploy bool
}

// Capture snapshots c. bindingsOnly captures only the five bindings; native
// code is never captured for mutation purposes (spec.md §4.6: "native code
// is never rolled back") but its bindings may still be read back harmlessly.
func Capture(c *creation.Creation, bindingsOnly bool, firstDeploy bool, isCreation clone.IsCreationFunc) (*Snapshot, error) {
	c.RLock()
	defer c.RUnlock()

	s := &Snapshot{
		Target:      c,
		Bindings:    c.Bindings,
		FirstDeploy: firstDeploy,
	}
	if bindingsOnly {
		s.Kind = BindingsOnly
		return s, nil
	}

	s.Kind = Full
	props, err := clone.DeepClone(c.Props, isCreation)
	if err != nil {
		return nil, err
	}
	s.Props = props.(map[string]any)
	s.Src = c.Src
	s.Cls = c.Cls
	return s, nil
}

// Rollback restores s.Target to its captured pre-image. If reason is
// non-empty and s was a first-deploy snapshot, the creation is poisoned
// (origin/location set to error://reason) instead of restored to its
// (nonexistent) prior state. Native code is left untouched either way.
func Rollback(s *Snapshot, reason string) {
	c := s.Target
	if c.IsNative() {
		return
	}

	c.Lock()
	defer c.Unlock()

	if reason != "" && s.FirstDeploy {
		poisoned := creation.ErrorLocation(reason)
		c.Origin = poisoned
		c.Location = poisoned
		c.Owner = nil
		c.Satoshis = 0
		c.Nonce = s.Bindings.Nonce
		return
	}

	c.Bindings = s.Bindings
	if s.Kind == Full {
		c.Props = s.Props
		c.Src = s.Src
		c.Cls = s.Cls
	}
}
