package membrane

import (
	"reflect"
	"sync"

	"github.com/klingon-exchange/jigkernel/internal/clone"
	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// PendingSet tracks values a method assigned to `this.*` that have no
// membrane yet; Finalize runs when the method's outer crossing completes,
// turning every pending value into a proper claim. Arena.Get does not
// consult it: a pending map value read back through Get is wrapped in a
// child membrane like any other map value.
type PendingSet struct {
	mu      sync.Mutex
	byOwner map[*creation.Creation][]any
}

// NewPendingSet returns an empty pending-claim tracker.
func NewPendingSet() *PendingSet {
	return &PendingSet{byOwner: make(map[*creation.Creation][]any)}
}

// Claim marks value as pending on owner.
func (p *PendingSet) Claim(owner *creation.Creation, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byOwner[owner] = append(p.byOwner[owner], value)
}

// Finalize validates and resolves ownership for every value pending on
// owner, per spec.md §4.5's ownership-claim rules:
//   - primitives pass through unchanged (by value already);
//   - creations pass through unchanged (referenced as-is);
//   - values already owned by a different creation are deep-cloned,
//     stripping any foreign membrane state, so ownership never becomes
//     ambiguous;
//   - everything else is simply adopted (it was never owned by anyone).
//
// isCreation/ownerOf let this package stay ignorant of the concrete
// ownership-tracking scheme a caller uses.
func (p *PendingSet) Finalize(owner *creation.Creation, isCreation clone.IsCreationFunc, ownerOf func(v any) *creation.Creation) error {
	p.mu.Lock()
	values := p.byOwner[owner]
	delete(p.byOwner, owner)
	p.mu.Unlock()

	for i, v := range values {
		if isCreation != nil && isCreation(v) {
			continue
		}
		if ownerOf != nil {
			if prior := ownerOf(v); prior != nil && prior != owner {
				cloned, err := clone.DeepClone(v, isCreation)
				if err != nil {
					return err
				}
				values[i] = cloned
			}
		}
	}
	return nil
}

// Pending reports whether v is currently pending on owner (used by Get to
// decide whether to return v raw rather than through a child membrane).
func (p *PendingSet) Pending(owner *creation.Creation, v any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, x := range p.byOwner[owner] {
		if sameValue(x, v) {
			return true
		}
	}
	return false
}

// sameValue compares two property values for pending-set membership. Map
// and slice values compare by identity (comparing them with == panics at
// runtime); everything else compares by ordinary equality.
func sameValue(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Map || ra.Kind() == reflect.Slice {
		if rb.Kind() != ra.Kind() {
			return false
		}
		if ra.IsNil() || rb.IsNil() {
			return ra.IsNil() && rb.IsNil()
		}
		return ra.Pointer() == rb.Pointer()
	}
	if !ra.Comparable() {
		return false
	}
	return a == b
}
