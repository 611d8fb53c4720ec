package clone

import "github.com/klingon-exchange/jigkernel/internal/codec"

// VisitFunc is called once per distinct value encountered during DeepVisit,
// including v itself on the initial call. Returning stop=true prunes
// descent into v's children (useful once a visitor has found what it needs
// inside a particular subtree).
type VisitFunc func(v any) (stop bool, err error)

// DeepVisit walks v and every reachable map/slice/codec-container value
// exactly once, calling visit on each. Creations are visited but never
// descended into — visit sees the reference itself, never its properties.
func DeepVisit(v any, isCreation IsCreationFunc, visit VisitFunc) error {
	w := &walker{isCreation: isCreation, visit: visit, seen: make(map[any]bool)}
	return w.walk(v)
}

type walker struct {
	isCreation IsCreationFunc
	visit      VisitFunc
	seen       map[any]bool
}

func (w *walker) walk(v any) error {
	if v == nil {
		return nil
	}

	if key, ok := identity(v); ok {
		if w.seen[key] {
			return nil
		}
		w.seen[key] = true
	}

	stop, err := w.visit(v)
	if err != nil || stop {
		return err
	}

	if w.isCreation != nil && w.isCreation(v) {
		return nil
	}

	switch val := v.(type) {
	case []any:
		for _, el := range val {
			if err := w.walk(el); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, el := range val {
			if err := w.walk(el); err != nil {
				return err
			}
		}
	case *codec.Object:
		for _, k := range val.Keys {
			raw, _ := val.Get(k)
			if err := w.walk(raw); err != nil {
				return err
			}
		}
	case *codec.KeyedArray:
		for _, el := range val.Entries {
			if err := w.walk(el); err != nil {
				return err
			}
		}
	case *codec.Set:
		for _, el := range val.Values {
			if err := w.walk(el); err != nil {
				return err
			}
		}
		for _, el := range val.Props {
			if err := w.walk(el); err != nil {
				return err
			}
		}
	case *codec.Map:
		for _, ent := range val.Entries {
			if err := w.walk(ent.Key); err != nil {
				return err
			}
			if err := w.walk(ent.Value); err != nil {
				return err
			}
		}
		for _, el := range val.Props {
			if err := w.walk(el); err != nil {
				return err
			}
		}
	case *codec.Arbitrary:
		for _, el := range val.Props {
			if err := w.walk(el); err != nil {
				return err
			}
		}
		if err := w.walk(val.Class); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceFunc is called once per distinct value; returning ok=true replaces
// v with the returned value in its parent container and does not descend
// into the original v's children (descent continues into the replacement's
// children only if the replacement itself is later reached through another
// path).
type ReplaceFunc func(v any) (replacement any, ok bool)

// DeepReplace returns a copy of v with every value matched by replace
// substituted. It shares DeepClone's cycle-safety and creation-passthrough
// rules; containers not touched by replace are still rebuilt fresh, same as
// DeepClone.
func DeepReplace(v any, isCreation IsCreationFunc, replace ReplaceFunc) (any, error) {
	r := &replacer{isCreation: isCreation, replace: replace, seen: make(map[any]any)}
	return r.apply(v)
}

type replacer struct {
	isCreation IsCreationFunc
	replace    ReplaceFunc
	seen       map[any]any
}

func (r *replacer) apply(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if repl, ok := r.replace(v); ok {
		return repl, nil
	}
	if r.isCreation != nil && r.isCreation(v) {
		return v, nil
	}

	key, isRef := identity(v)
	if isRef {
		if existing, found := r.seen[key]; found {
			return existing, nil
		}
	}

	switch val := v.(type) {
	case codec.Bytes:
		out := make(codec.Bytes, len(val))
		copy(out, val)
		return out, nil

	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out, nil

	case []any:
		out := make([]any, len(val))
		r.seen[key] = out
		for i, el := range val {
			cv, err := r.apply(el)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil

	case map[string]any:
		out := make(map[string]any, len(val))
		r.seen[key] = out
		for k, el := range val {
			cv, err := r.apply(el)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil

	case *codec.Object:
		out := codec.NewObject()
		r.seen[key] = out
		for _, k := range val.Keys {
			raw, _ := val.Get(k)
			cv, err := r.apply(raw)
			if err != nil {
				return nil, err
			}
			out.Set(k, cv)
		}
		return out, nil

	case *codec.KeyedArray:
		out := codec.NewKeyedArray(val.Length)
		r.seen[key] = out
		for idx, el := range val.Entries {
			cv, err := r.apply(el)
			if err != nil {
				return nil, err
			}
			out.Entries[idx] = cv
		}
		return out, nil

	case *codec.Set:
		out := &codec.Set{Values: make([]any, len(val.Values))}
		r.seen[key] = out
		for i, el := range val.Values {
			cv, err := r.apply(el)
			if err != nil {
				return nil, err
			}
			out.Values[i] = cv
		}
		if val.Props != nil {
			props, err := r.applyStringMap(val.Props)
			if err != nil {
				return nil, err
			}
			out.Props = props
		}
		return out, nil

	case *codec.Map:
		out := &codec.Map{Entries: make([]codec.MapEntry, len(val.Entries))}
		r.seen[key] = out
		for i, ent := range val.Entries {
			ck, err := r.apply(ent.Key)
			if err != nil {
				return nil, err
			}
			cv, err := r.apply(ent.Value)
			if err != nil {
				return nil, err
			}
			out.Entries[i] = codec.MapEntry{Key: ck, Value: cv}
		}
		if val.Props != nil {
			props, err := r.applyStringMap(val.Props)
			if err != nil {
				return nil, err
			}
			out.Props = props
		}
		return out, nil

	case *codec.Arbitrary:
		out := &codec.Arbitrary{}
		r.seen[key] = out
		props, err := r.applyStringMap(val.Props)
		if err != nil {
			return nil, err
		}
		out.Props = props
		cls, err := r.apply(val.Class)
		if err != nil {
			return nil, err
		}
		out.Class = cls
		return out, nil

	default:
		return v, nil
	}
}

func (r *replacer) applyStringMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		cv, err := r.apply(v)
		if err != nil {
			return nil, err
		}
		out[k] = cv
	}
	return out, nil
}
