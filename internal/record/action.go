package record

import (
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// Action appends a top-level action, asserting an empty call stack,
// regenerates the derived input/output/ref sets, and assigns record://
// locations to every output and delete (spec.md §4.7).
func (r *Record) Action(a action.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.stack) != 0 {
		return fmt.Errorf("record: Action called with non-empty call stack (depth %d)", len(r.stack))
	}

	r.actions = append(r.actions, a)
	r.recomputeDerivedLocked()
	r.assignLocationsLocked()
	return nil
}

// recomputeDerivedLocked implements spec.md §4.7's derived-set formulas:
//
//	inputs  = (updates ∪ auths ∪ deletes) \ creates
//	outputs = (inputs ∪ creates) \ deletes
//	refs    = reads \ inputs \ outputs \ deletes
func (r *Record) recomputeDerivedLocked() {
	var inputs orderedSet
	for _, c := range r.updates.list() {
		if !r.creates.contains(c) {
			inputs.add(c)
		}
	}
	for _, c := range r.auths.list() {
		if !r.creates.contains(c) {
			inputs.add(c)
		}
	}
	for _, c := range r.deletes.list() {
		if !r.creates.contains(c) {
			inputs.add(c)
		}
	}
	r.inputs = inputs.list()

	var outputs orderedSet
	for _, c := range inputs.list() {
		if !r.deletes.contains(c) {
			outputs.add(c)
		}
	}
	for _, c := range r.creates.list() {
		if !r.deletes.contains(c) {
			outputs.add(c)
		}
	}
	r.outputs = outputs.list()

	var refs orderedSet
	for _, c := range r.reads.list() {
		if inputs.contains(c) || outputs.contains(c) || r.deletes.contains(c) {
			continue
		}
		refs.add(c)
	}
	r.refs = refs.list()
}

// assignLocationsLocked assigns record://<id>_o<n> / record://<id>_d<n>
// locations after every top-level action, per spec.md §4.7's closing rule.
func (r *Record) assignLocationsLocked() {
	for n, c := range r.outputs {
		loc := fmt.Sprintf("record://%s_o%d", r.id, n)
		c.Lock()
		c.Nonce = c.Nonce + 1
		if c.Origin == "" || creation.IsRecordLocation(c.Origin) {
			c.Origin = loc
		}
		c.Location = loc
		c.Unlock()
	}
	for n, c := range r.deletes.list() {
		loc := fmt.Sprintf("record://%s_d%d", r.id, n)
		c.Lock()
		c.Nonce = c.Nonce + 1
		c.Location = loc
		c.Unlock()
	}
}
