package membrane

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/clone"
	"github.com/klingon-exchange/jigkernel/internal/codec"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/dynamic"
	"github.com/klingon-exchange/jigkernel/internal/kctx"
)

// CallRecorder is the subset of *record.Record the call trap drives: the
// call stack and the top-level CALL action.
type CallRecorder interface {
	Recorder
	PushCall(c *creation.Creation)
	PopCall()
	Stack() []*creation.Creation
	EmitCall(receiver *creation.Creation, method string, args []any, passthrough bool)
}

// CallSite describes one method invocation against a membraned creation.
type CallSite struct {
	// Method is the name being invoked.
	Method string
	// AtVersion is the dynamic vtable version the caller's reference to
	// this method was resolved against when it first observed the
	// receiver — used for the method-time-travel check.
	AtVersion int
	// Args are the raw (unwrapped) arguments.
	Args []any
	// Passthrough marks sidekicks/berry-init/native-init calls that never
	// emit a CALL action even though they cross the membrane.
	Passthrough bool
}

// TimeTravelError is returned when a call resolves to a method whose
// installed version is older than the version the caller expected.
type TimeTravelError struct {
	Method           string
	ExpectedVersion  int
	InstalledVersion int
}

func (e *TimeTravelError) Error() string {
	return fmt.Sprintf("method time travel: %s expected at least version %d, installed version %d",
		e.Method, e.ExpectedVersion, e.InstalledVersion)
}

// Call implements the call trap (spec.md §4.5's six numbered steps).
func (a *Arena) Call(ctx context.Context, id ID, caller *creation.Creation, site CallSite, rec CallRecorder, isCreation clone.IsCreationFunc, ownerOf func(any) *creation.Creation, pending *PendingSet) (any, error) {
	m := a.Lookup(id)
	if m == nil {
		return nil, violation("membrane: unknown handle")
	}
	admin := kctx.IsAdmin(ctx)

	crossing := admin == false && (caller == nil || caller != m.Root)

	args := site.Args
	if crossing {
		cloned, err := clone.DeepClone(args, isCreation)
		if err != nil {
			return nil, err
		}
		args = cloned.([]any)
		// Worldview unification (resolving same-origin duplicates between
		// args and the receiver to one consistent location) is performed
		// by the caller before invoking Call — it needs a creationset.Set
		// this package does not hold, to avoid an import cycle.
	}

	if !admin && m.Rules&RulePrivacy != 0 && isPrivate(site.Method) {
		if crossing && !sameClass(m.Root, caller) {
			return nil, violation("Cannot call private method %s", site.Method)
		}
	}

	method, ok := dynamic.ResolveMethod(m.Handle, dynamic.CurrentVersion(m.Handle), site.Method)
	if !ok {
		return nil, violation("no such method %s", site.Method)
	}
	if installed := dynamic.CurrentVersion(m.Handle); installed < site.AtVersion {
		return nil, &TimeTravelError{Method: site.Method, ExpectedVersion: site.AtVersion, InstalledVersion: installed}
	}

	if rec != nil {
		rec.PushCall(m.Root)
	}
	result, callErr := method.Fn(ctx, m.Target, args)
	if rec != nil {
		rec.PopCall()
	}
	if callErr != nil {
		return nil, callErr
	}

	if crossing {
		if err := checkSerializable(result, isCreation); err != nil {
			return nil, err
		}
	}

	if pending != nil && m.Root != nil {
		if err := pending.Finalize(m.Root, isCreation, ownerOf); err != nil {
			return nil, err
		}
	}

	if !admin && m.Rules&RuleRecordCalls != 0 && rec != nil && !site.Passthrough {
		rec.EmitCall(m.Root, site.Method, site.Args, site.Passthrough)
	}

	return result, nil
}

// checkSerializable enforces spec.md §4.5's serializable-values universe:
// primitives, plain object/array, set, map, byte array, arbitrary objects
// whose class is a Code creation, and creation references. Anything else
// (a bare Go func, channel, etc.) is rejected.
func checkSerializable(v any, isCreation clone.IsCreationFunc) error {
	if v == nil {
		return nil
	}
	if isCreation != nil && isCreation(v) {
		return nil
	}
	switch v.(type) {
	case bool, string, float64, int, int64, uint64,
		map[string]any, []any, []byte, codec.Bytes,
		*codec.Object, *codec.Set, *codec.Map, *codec.Arbitrary, *codec.KeyedArray,
		codec.Undefined, codec.NegZero:
		return nil
	default:
		return violation("value of type %T is not serializable", v)
	}
}
