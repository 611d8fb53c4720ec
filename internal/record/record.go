// Package record implements the live action log every commit is built
// from: the begin/end nested scope, the call stack, the create/read/update/
// delete/auth bookkeeping sets with their idempotent-add invariants, the
// derived input/output/ref sets, and record://-location assignment
// (spec.md §4.7).
//
// Grounded on internal/swap/coordinator.go's shape: one long-lived struct
// threading named, ordered sub-steps through shared mutable state guarded
// by a single mutex, with a pkg/logging component logger, generalized from
// swap-leg orchestration to action bookkeeping.
package record

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/snapshot"
	"github.com/klingon-exchange/jigkernel/pkg/logging"
)

// AutoCommitFunc is invoked when End() closes the outermost scope and
// auto-commit is enabled.
type AutoCommitFunc func(ctx context.Context, r *Record) error

// Record is one in-progress transaction: every creation it has touched,
// every top-level action appended so far, and the call stack of the method
// currently executing.
type Record struct {
	mu sync.Mutex

	id         string
	depth      int
	replaying  bool
	autoCommit AutoCommitFunc

	stack []*creation.Creation

	creates orderedSet
	reads   orderedSet
	updates orderedSet
	deletes orderedSet
	auths   orderedSet

	upstream map[string]bool // commit ids of still-open records this one reads from

	actions []action.Action

	inputs  []*creation.Creation
	outputs []*creation.Creation
	refs    []*creation.Creation

	snapshots map[*creation.Creation]*snapshot.Snapshot

	err error

	log *logging.Logger
}

// Option configures a new Record.
type Option func(*Record)

// Replaying marks the record as running in replay mode: no auto-publish,
// no kernel events (spec.md §4.10 step 3).
func Replaying() Option { return func(r *Record) { r.replaying = true } }

// WithAutoCommit installs a commit hook run when the outermost End() fires.
func WithAutoCommit(f AutoCommitFunc) Option { return func(r *Record) { r.autoCommit = f } }

// New starts a fresh, empty record.
func New(opts ...Option) *Record {
	r := &Record{
		id:        uuid.NewString(),
		upstream:  make(map[string]bool),
		snapshots: make(map[*creation.Creation]*snapshot.Snapshot),
		log:       logging.GetDefault().Component("record"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ID returns the record's id, used to build record://<id>_o<n> locations.
func (r *Record) ID() string { return r.id }

// Replaying reports whether this record runs in replay mode.
func (r *Record) Replaying() bool { return r.replaying }

// Err returns the first bookkeeping error recorded via a non-error-returning
// trap callback (RecordRead/RecordUpdate/EmitCall), if any.
func (r *Record) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Record) fail(err error) {
	if err != nil && r.err == nil {
		r.err = err
	}
}

// Begin opens a nested scope.
func (r *Record) Begin() {
	r.mu.Lock()
	r.depth++
	r.mu.Unlock()
}

// End closes a nested scope; at depth 0 it runs the auto-commit hook, if
// one was installed.
func (r *Record) End(ctx context.Context) error {
	r.mu.Lock()
	if r.depth == 0 {
		r.mu.Unlock()
		return fmt.Errorf("record: End called with no matching Begin")
	}
	r.depth--
	depth := r.depth
	commit := r.autoCommit
	r.mu.Unlock()

	if depth == 0 && commit != nil {
		return commit(ctx, r)
	}
	return nil
}

// PushCall implements membrane.Recorder/CallRecorder's call-stack half.
func (r *Record) PushCall(c *creation.Creation) {
	r.mu.Lock()
	r.stack = append(r.stack, c)
	r.mu.Unlock()
}

// PopCall pops the call stack.
func (r *Record) PopCall() {
	r.mu.Lock()
	if len(r.stack) > 0 {
		r.stack = r.stack[:len(r.stack)-1]
	}
	r.mu.Unlock()
}

// Stack returns a defensive copy of the current call stack.
func (r *Record) Stack() []*creation.Creation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*creation.Creation, len(r.stack))
	copy(out, r.stack)
	return out
}

// RecordRead implements membrane.Recorder.
func (r *Record) RecordRead(c *creation.Creation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail(r.readLocked(c))
}

// RecordUpdate implements membrane.Recorder.
func (r *Record) RecordUpdate(c *creation.Creation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail(r.updateLocked(c))
}

// EmitCall implements membrane.CallRecorder: it appends a top-level CALL
// action exactly when the stack has unwound back to empty, i.e. this
// crossing was the outermost one (spec.md §4.7's "action(a) ... assert
// empty stack" invariant, satisfied automatically here since nested
// crossings always still have their caller on the stack when they emit).
func (r *Record) EmitCall(receiver *creation.Creation, method string, args []any, passthrough bool) {
	if passthrough {
		return
	}
	r.mu.Lock()
	topLevel := len(r.stack) == 0
	r.mu.Unlock()
	if !topLevel {
		return
	}
	r.fail(r.Action(action.Call(receiver, method, args)))
}

// Creates, Reads, Updates, Deletes, Auths return defensive copies of the
// five bookkeeping sets, in insertion order.
func (r *Record) Creates() []*creation.Creation { return r.creates.list() }
func (r *Record) Reads() []*creation.Creation   { return r.reads.list() }
func (r *Record) Updates() []*creation.Creation { return r.updates.list() }
func (r *Record) Deletes() []*creation.Creation { return r.deletes.list() }
func (r *Record) Auths() []*creation.Creation   { return r.auths.list() }

// Inputs, Outputs, Refs return the derived sets as of the last Action call.
func (r *Record) Inputs() []*creation.Creation  { return cloneSlice(r.inputs) }
func (r *Record) Outputs() []*creation.Creation { return cloneSlice(r.outputs) }
func (r *Record) Refs() []*creation.Creation    { return cloneSlice(r.refs) }

// Actions returns every top-level action appended so far.
func (r *Record) Actions() []action.Action { return append([]action.Action(nil), r.actions...) }

func cloneSlice(s []*creation.Creation) []*creation.Creation {
	out := make([]*creation.Creation, len(s))
	copy(out, s)
	return out
}
