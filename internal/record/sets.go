package record

import (
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// orderedSet is an insertion-ordered set of creation pointers; plain Go
// maps are unordered and the derived-set formulas must be deterministic.
//
// Membership here is by pointer identity, not origin: a record routinely
// holds several freshly created, still-undeployed creations that all share
// an empty origin until Action() assigns them one, so origin-keyed
// deduplication (internal/creationset) would wrongly flag them as
// conflicting. Cross-creation worldview consistency is instead checked
// where it actually matters — unifying a replay's already-located inputs
// and refs (internal/replay) — not here.
type orderedSet struct {
	order []*creation.Creation
	has   map[*creation.Creation]bool
}

func (s *orderedSet) add(c *creation.Creation) bool {
	if s.has == nil {
		s.has = make(map[*creation.Creation]bool)
	}
	if s.has[c] {
		return false
	}
	s.has[c] = true
	s.order = append(s.order, c)
	return true
}

func (s *orderedSet) contains(c *creation.Creation) bool { return s.has[c] }

func (s *orderedSet) list() []*creation.Creation {
	out := make([]*creation.Creation, len(s.order))
	copy(out, s.order)
	return out
}

// Create adds c to the creates set. Idempotent; rejects native code.
func (r *Record) Create(c *creation.Creation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(c)
}

func (r *Record) createLocked(c *creation.Creation) error {
	if c.IsNative() {
		return fmt.Errorf("record: cannot create native code %s", c)
	}
	r.creates.add(c)
	return nil
}

// Read adds c to the reads set. Idempotent.
func (r *Record) Read(c *creation.Creation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked(c)
}

func (r *Record) readLocked(c *creation.Creation) error {
	r.reads.add(c)
	return nil
}

// Update adds c to the updates set, requiring bound state, and runs
// authCallers (spec.md §4.7: "if calling a method on A produces a change in
// B, then A ... must be authorized as an input").
func (r *Record) Update(c *creation.Creation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(c)
}

func (r *Record) updateLocked(c *creation.Creation) error {
	if c.Bindings.Destroyed() {
		return fmt.Errorf("record: cannot update destroyed creation %s", c)
	}
	r.updates.add(c)
	return r.authCallersLocked(c)
}

// Delete adds c to the deletes set, requiring the creation to already
// reflect the destroyed invariant (null owner, 0 satoshis) — the executor
// nulls those bindings before calling Delete.
func (r *Record) Delete(c *creation.Creation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !c.Bindings.Destroyed() {
		return fmt.Errorf("record: delete requires owner=null and satoshis=0 on %s", c)
	}
	r.deletes.add(c)
	return nil
}

// Auth adds c to the auths set. Idempotent.
func (r *Record) Auth(c *creation.Creation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authLocked(c)
}

func (r *Record) authLocked(c *creation.Creation) error {
	r.auths.add(c)
	return nil
}

// authCallersLocked authorizes every creation currently on the call stack
// other than target and not already a fresh creation of this record.
func (r *Record) authCallersLocked(target *creation.Creation) error {
	for _, caller := range r.stack {
		if caller == target || r.creates.contains(caller) {
			continue
		}
		if err := r.authLocked(caller); err != nil {
			return err
		}
	}
	return nil
}

// Link records that c was produced by another, still-publishing record:
// writes across that open upstream transaction are forbidden, reads are
// allowed and added to this record's read set plus its upstream-commit
// dependency set.
func (r *Record) Link(c *creation.Creation, readonly bool, upstreamCommitID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !readonly {
		return fmt.Errorf("record: cannot write across an open upstream transaction for %s", c)
	}
	r.upstream[upstreamCommitID] = true
	return r.readLocked(c)
}

// Upstream returns every upstream commit id this record depends on via Link.
func (r *Record) Upstream() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.upstream))
	for id := range r.upstream {
		out = append(out, id)
	}
	return out
}
