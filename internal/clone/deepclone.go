package clone

import (
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/codec"
)

// DeepClone returns a structural copy of v: every map, slice, and codec
// container is rebuilt fresh, creations pass through by reference, and
// scalars are returned as-is (they're already immutable in Go).
func DeepClone(v any, isCreation IsCreationFunc) (any, error) {
	c := &cloner{isCreation: isCreation, seen: make(map[any]any)}
	return c.clone(v)
}

type cloner struct {
	isCreation IsCreationFunc
	seen       map[any]any
}

func (c *cloner) clone(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if c.isCreation != nil && c.isCreation(v) {
		return v, nil
	}

	if key, ok := identity(v); ok {
		if existing, found := c.seen[key]; found {
			return existing, nil
		}
		return c.cloneContainer(v, key)
	}

	// scalars (bool, string, numeric types, codec.Undefined, codec.NegZero)
	return v, nil
}

// cloneContainer allocates the destination container and registers it under
// key before populating it, so a cycle back to this container resolves to
// the still-being-built copy instead of recursing forever.
func (c *cloner) cloneContainer(v any, key any) (any, error) {
	switch val := v.(type) {
	case codec.Bytes:
		out := make(codec.Bytes, len(val))
		copy(out, val)
		c.seen[key] = out
		return out, nil

	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		c.seen[key] = out
		return out, nil

	case []any:
		out := make([]any, len(val))
		c.seen[key] = out
		for i, el := range val {
			cv, err := c.clone(el)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil

	case map[string]any:
		out := make(map[string]any, len(val))
		c.seen[key] = out
		for k, el := range val {
			cv, err := c.clone(el)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil

	case *codec.Object:
		out := codec.NewObject()
		c.seen[key] = out
		for _, k := range val.Keys {
			raw, _ := val.Get(k)
			cv, err := c.clone(raw)
			if err != nil {
				return nil, err
			}
			out.Set(k, cv)
		}
		return out, nil

	case *codec.KeyedArray:
		out := codec.NewKeyedArray(val.Length)
		c.seen[key] = out
		for idx, el := range val.Entries {
			cv, err := c.clone(el)
			if err != nil {
				return nil, err
			}
			out.Entries[idx] = cv
		}
		return out, nil

	case *codec.Set:
		out := &codec.Set{Values: make([]any, len(val.Values))}
		c.seen[key] = out
		for i, el := range val.Values {
			cv, err := c.clone(el)
			if err != nil {
				return nil, err
			}
			out.Values[i] = cv
		}
		if val.Props != nil {
			props, err := c.cloneStringMap(val.Props)
			if err != nil {
				return nil, err
			}
			out.Props = props
		}
		return out, nil

	case *codec.Map:
		out := &codec.Map{Entries: make([]codec.MapEntry, len(val.Entries))}
		c.seen[key] = out
		for i, ent := range val.Entries {
			ck, err := c.clone(ent.Key)
			if err != nil {
				return nil, err
			}
			cv, err := c.clone(ent.Value)
			if err != nil {
				return nil, err
			}
			out.Entries[i] = codec.MapEntry{Key: ck, Value: cv}
		}
		if val.Props != nil {
			props, err := c.cloneStringMap(val.Props)
			if err != nil {
				return nil, err
			}
			out.Props = props
		}
		return out, nil

	case *codec.Arbitrary:
		out := &codec.Arbitrary{}
		c.seen[key] = out
		props, err := c.cloneStringMap(val.Props)
		if err != nil {
			return nil, err
		}
		out.Props = props
		cls, err := c.clone(val.Class)
		if err != nil {
			return nil, err
		}
		out.Class = cls
		return out, nil

	default:
		return nil, fmt.Errorf("clone: unsupported reference type %T", v)
	}
}

func (c *cloner) cloneStringMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		cv, err := c.clone(v)
		if err != nil {
			return nil, err
		}
		out[k] = cv
	}
	return out, nil
}
