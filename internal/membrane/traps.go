package membrane

import (
	"context"
	"fmt"
	"strings"

	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/kctx"
)

// Recorder is the subset of *record.Record the membrane needs; an interface
// to avoid an import cycle (record will, in turn, drive membrane calls).
type Recorder interface {
	RecordRead(c *creation.Creation)
	RecordUpdate(c *creation.Creation)
}

// Error is a rule-violation raised at the membrane (spec.md §7 kind
// "rule-violation").
type Error struct{ Message string }

func (e *Error) Error() string { return e.Message }

func violation(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

var bindingNames = map[string]bool{
	"origin": true, "location": true, "nonce": true, "owner": true, "satoshis": true,
}

func isPrivate(key string) bool { return strings.HasPrefix(key, "_") }

func isReserved(key string) bool {
	return key == "constructor" || key == "prototype" || bindingNames[key]
}

// sameClass reports whether caller is privileged to read/call caller's
// privates on root — true when caller IS root, or caller is root's class,
// or caller is an instance of root (jig instances may access class
// privates; the class may access its instances' privates).
func sameClass(root, caller *creation.Creation) bool {
	if root == nil || caller == nil {
		return false
	}
	if root == caller {
		return true
	}
	if root.Kind == creation.KindJig && caller == root.Cls {
		return true
	}
	if caller.Kind == creation.KindJig && caller.Cls == root {
		return true
	}
	return false
}

// Get implements the get trap (spec.md §4.5).
func (a *Arena) Get(ctx context.Context, id ID, caller *creation.Creation, key string, rec Recorder) (any, bool, error) {
	m := a.Lookup(id)
	if m == nil {
		return nil, false, violation("membrane: unknown handle")
	}

	admin := kctx.IsAdmin(ctx)

	if !admin && bindingNames[key] && caller != m.Root {
		return nil, false, nil // undefined
	}

	// Privacy gates calls, not reads: a non-owning caller may read `_secret`
	// as a value, it just can't invoke it as a method (enforced in Call).

	props, ok := propsOf(m.Target)
	if !ok {
		return nil, false, violation("membrane: target has no own properties")
	}

	val, present := props[key]
	if !present {
		return nil, false, nil
	}

	if !admin && m.Rules&RuleRecordReads != 0 && rec != nil && m.Root != nil {
		rec.RecordRead(m.Root)
	}

	if isOwnableContainer(val) {
		childRules := DefaultInnerRules
		if m.Rules&RuleSmartAPI != 0 {
			childRules |= RuleSmartAPI
		}
		childID := a.wrapChild(id, key, val, childRules)
		return childID, true, nil
	}

	return val, true, nil
}

// Set implements the set/defineProperty traps (spec.md §4.5). pending
// marks the written value pending on the owning root, to be finalized when
// the current crossing call completes.
func (a *Arena) Set(ctx context.Context, id ID, caller *creation.Creation, key string, value any, rec Recorder, pending *PendingSet) error {
	m := a.Lookup(id)
	if m == nil {
		return violation("membrane: unknown handle")
	}
	admin := kctx.IsAdmin(ctx)

	if !admin {
		if isReserved(key) {
			return violation("membrane: cannot set reserved property %q", key)
		}
		if m.Rules&RuleImmutable != 0 {
			return violation("membrane: target is immutable")
		}
		if m.Rules&RuleSmartAPI != 0 && kctx.CurrentRecord(ctx) == nil {
			return violation("membrane: updates must happen from inside a method")
		}
	}

	props, ok := propsOf(m.Target)
	if !ok {
		return violation("membrane: target has no own properties")
	}
	props[key] = value

	if pending != nil && m.Root != nil {
		pending.Claim(m.Root, value)
	}

	if !admin && m.Rules&RuleRecordUpdates != 0 && rec != nil && m.Root != nil {
		rec.RecordUpdate(m.Root)
	}
	return nil
}

// Delete implements the delete trap.
func (a *Arena) Delete(ctx context.Context, id ID, key string, rec Recorder) error {
	m := a.Lookup(id)
	if m == nil {
		return violation("membrane: unknown handle")
	}
	admin := kctx.IsAdmin(ctx)
	if !admin {
		if isReserved(key) {
			return violation("membrane: cannot delete reserved property %q", key)
		}
		if m.Rules&RuleImmutable != 0 {
			return violation("membrane: target is immutable")
		}
	}
	props, ok := propsOf(m.Target)
	if !ok {
		return violation("membrane: target has no own properties")
	}
	delete(props, key)
	if !admin && m.Rules&RuleRecordUpdates != 0 && rec != nil && m.Root != nil {
		rec.RecordUpdate(m.Root)
	}
	return nil
}

// PreventExtensions is always rejected on membrane targets (spec.md §8
// boundary behavior) — no Go call wires to it since Go structs/maps have no
// "extensible" flag to toggle, but the trap exists so callers attempting it
// get a uniform error instead of silent success.
func (a *Arena) PreventExtensions(id ID) error {
	return violation("membrane: preventExtensions is never allowed")
}

// propsOf returns the mutable string-keyed property map backing v, if v is
// one of the container shapes a membrane can wrap.
func propsOf(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case *creation.Creation:
		return val.Props, true
	case map[string]any:
		return val, true
	default:
		return nil, false
	}
}

// isOwnableContainer reports whether v is a value that should itself be
// wrapped in a child membrane when read, rather than returned raw.
func isOwnableContainer(v any) bool {
	switch v.(type) {
	case map[string]any, *creation.Creation:
		return true
	default:
		return false
	}
}
