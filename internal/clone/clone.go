// Package clone implements ownership-aware deep copy, traversal, and
// in-place replacement over the property graphs creations carry: the same
// container shapes internal/codec serializes (plain maps, slices,
// *codec.Object/Set/Map/Arbitrary/KeyedArray, byte slices), plus raw Go
// maps and slices built up during execution.
//
// All three operations share one cycle-safety rule with the codec: a
// container is registered in the visited set before its children are
// visited, so a self-referential graph terminates instead of recursing
// forever, and two properties that alias the same object keep aliasing
// after a clone.
//
// Creations are never cloned. IsCreationFunc lets a caller mark values that
// must pass through by reference — ownership of a creation moves by
// pointer, never by copy, matching spec.md §4.2's representation-preserving
// clone contract.
package clone

import "reflect"

// IsCreationFunc reports whether v is a creation reference that must pass
// through untouched rather than be traversed or copied.
type IsCreationFunc func(v any) bool

// identity returns a stable key for reference-typed values so repeated
// visits of the same object are recognized, and whether v is such a type.
func identity(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
		return rv.Pointer(), true
	default:
		return nil, false
	}
}
