package record

import (
	"context"

	"github.com/klingon-exchange/jigkernel/internal/clone"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/snapshot"
)

// EnsureSnapshot captures c's pre-image the first time this record is about
// to touch it; later calls for the same creation are no-ops, so rollback
// always restores the state as of the record's very first observation of
// c, not some intermediate mutation.
func (r *Record) EnsureSnapshot(c *creation.Creation, bindingsOnly bool, firstDeploy bool, isCreation clone.IsCreationFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.snapshots[c]; ok {
		return nil
	}
	snap, err := snapshot.Capture(c, bindingsOnly, firstDeploy, isCreation)
	if err != nil {
		return err
	}
	r.snapshots[c] = snap
	return nil
}

// Rollback restores every snapshotted creation to its pre-image. If err is
// non-nil, first-deploy snapshots are poisoned (error:// origin/location)
// rather than restored — matching a creation that never had a prior good
// state to fall back to. The caller is responsible for replacing the
// current record globally afterward (spec.md §4.7's "rollback ... replace
// the current record globally" — record has no notion of "the current
// record"; that's a property of whatever holds it, e.g. internal/kctx).
func (r *Record) Rollback(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	for _, snap := range r.snapshots {
		snapshot.Rollback(snap, reason)
	}
}

// Capture runs f inside a nested begin/end scope, rolling back every
// snapshot taken during f if it returns an error (spec.md §4.7's
// "capture(f) — begin/f/end with rollback on error").
func (r *Record) Capture(ctx context.Context, f func() error) error {
	r.Begin()
	if err := f(); err != nil {
		r.Rollback(err)
		r.mu.Lock()
		r.depth--
		r.mu.Unlock()
		return err
	}
	return r.End(ctx)
}
