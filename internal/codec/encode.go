package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Encoder carries the per-call state needed for deterministic, $dup-aware
// encoding: the hooks resolving creation references, and an identity->path
// map recording where every reference-typed value was first seen.
type Encoder struct {
	Hook       EncodeHook
	IsCreation IsCreationFunc

	seenPath map[uintptr]string
	seenPtr  map[any]string
}

// NewEncoder constructs an Encoder. hook may be nil only if the value graph
// is known to contain no creation references.
func NewEncoder(hook EncodeHook, isCreation IsCreationFunc) *Encoder {
	return &Encoder{
		Hook:       hook,
		IsCreation: isCreation,
		seenPath:   make(map[uintptr]string),
		seenPtr:    make(map[any]string),
	}
}

// Encode renders v into canonical, deterministic JSON bytes.
func Encode(v any, hook EncodeHook, isCreation IsCreationFunc) (json.RawMessage, error) {
	enc := NewEncoder(hook, isCreation)
	wire, err := enc.encode(v, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// identity returns a stable dedup key for reference-typed values, and
// whether v is a reference type that can legally participate in $dup.
func identity(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map:
		if rv.IsNil() {
			return nil, false
		}
		return rv.Pointer(), true
	case reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
		return rv.Pointer(), true
	default:
		return nil, false
	}
}

func (e *Encoder) markSeen(v any, path string) (dupPath string, isDup bool) {
	key, ok := identity(v)
	if !ok {
		return "", false
	}
	if p, exists := e.seenPtr[key]; exists {
		return p, true
	}
	e.seenPtr[key] = path
	return "", false
}

func dupNode(path string) any {
	o := NewObject()
	o.Set(TagDup, []any{path})
	return o
}

func (e *Encoder) encode(v any, path string) (any, error) {
	if v == nil {
		return nil, nil
	}

	if e.IsCreation != nil && e.IsCreation(v) {
		if dp, dup := e.markSeen(v, path); dup {
			return dupNode(dp), nil
		}
		if e.Hook == nil {
			return nil, errf("unsupported-type", "creation reference at %s but no encode hook configured", path)
		}
		ref, err := e.Hook(v)
		if err != nil {
			return nil, err
		}
		o := NewObject()
		o.Set(TagJig, ref)
		return o, nil
	}

	switch val := v.(type) {
	case bool, string:
		return val, nil
	case int:
		return e.encodeNumber(float64(val))
	case int32:
		return e.encodeNumber(float64(val))
	case int64:
		return e.encodeNumber(float64(val))
	case uint:
		return e.encodeNumber(float64(val))
	case uint32:
		return e.encodeNumber(float64(val))
	case uint64:
		return e.encodeNumber(float64(val))
	case float32:
		return e.encodeNumber(float64(val))
	case float64:
		return e.encodeNumber(val)
	case Undefined:
		o := NewObject()
		o.Set(TagUndefined, 1)
		return o, nil
	case NegZero:
		o := NewObject()
		o.Set(TagNegZero, 1)
		return o, nil
	case Bytes:
		return e.encodeBytes([]byte(val), path)
	case []byte:
		return e.encodeBytes(val, path)
	case []any:
		return e.encodeArray(val, path)
	case *KeyedArray:
		return e.encodeKeyedArray(val, path)
	case *Object:
		return e.encodeObject(val, path)
	case *Set:
		return e.encodeSet(val, path)
	case *Map:
		return e.encodeMap(val, path)
	case *Arbitrary:
		return e.encodeArbitrary(val, path)
	default:
		return nil, errf("unsupported-type", "value of type %T at %s cannot be encoded", v, path)
	}
}

func (e *Encoder) encodeNumber(f float64) (any, error) {
	switch {
	case math.IsNaN(f):
		o := NewObject()
		o.Set(TagNaN, 1)
		return o, nil
	case math.IsInf(f, 1):
		o := NewObject()
		o.Set(TagInf, 1)
		return o, nil
	case math.IsInf(f, -1):
		o := NewObject()
		o.Set(TagNegInf, 1)
		return o, nil
	case f == 0 && math.Signbit(f):
		o := NewObject()
		o.Set(TagNegZero, 1)
		return o, nil
	default:
		return f, nil
	}
}

func (e *Encoder) encodeBytes(b []byte, path string) (any, error) {
	if dp, dup := e.markSeen(b, path); dup {
		return dupNode(dp), nil
	}
	o := NewObject()
	o.Set(TagBytes, b64(b))
	return o, nil
}

func (e *Encoder) encodeArray(arr []any, path string) (any, error) {
	if dp, dup := e.markSeen(arr, path); dup {
		return dupNode(dp), nil
	}
	out := make([]any, len(arr))
	for i, el := range arr {
		child, err := e.encode(el, fmt.Sprintf("%s/%d", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = child
	}
	return out, nil
}

func (e *Encoder) encodeKeyedArray(ka *KeyedArray, path string) (any, error) {
	if dp, dup := e.markSeen(ka, path); dup {
		return dupNode(dp), nil
	}
	inner := NewObject()
	indices := make([]int, 0, len(ka.Entries))
	for idx := range ka.Entries {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		child, err := e.encode(ka.Entries[idx], fmt.Sprintf("%s/%d", path, idx))
		if err != nil {
			return nil, err
		}
		inner.Set(fmt.Sprintf("%d", idx), child)
	}
	inner.Set("length", float64(ka.Length))
	o := NewObject()
	o.Set(TagArray, inner)
	return o, nil
}

func (e *Encoder) encodeObject(obj *Object, path string) (any, error) {
	if dp, dup := e.markSeen(obj, path); dup {
		return dupNode(dp), nil
	}
	for _, k := range obj.Keys {
		if ReservedKeys[k] {
			return nil, errf("reserved-key", "property %q is reserved", k)
		}
	}
	out := NewObject()
	for _, k := range obj.Keys {
		child, err := e.encode(obj.Vals[k], path+"/"+k)
		if err != nil {
			return nil, err
		}
		out.Set(k, child)
	}
	if out.FirstKey() != "" && len(out.FirstKey()) > 0 && out.FirstKey()[0] == '$' {
		wrapper := NewObject()
		wrapper.Set(TagObject, out)
		return wrapper, nil
	}
	return out, nil
}

func (e *Encoder) encodeSet(s *Set, path string) (any, error) {
	if dp, dup := e.markSeen(s, path); dup {
		return dupNode(dp), nil
	}
	values := make([]any, len(s.Values))
	for i, v := range s.Values {
		child, err := e.encode(v, fmt.Sprintf("%s/$set/%d", path, i))
		if err != nil {
			return nil, err
		}
		values[i] = child
	}
	o := NewObject()
	o.Set(TagSet, values)
	if len(s.Props) > 0 {
		props, err := e.encodePropsMap(s.Props, path+"/props")
		if err != nil {
			return nil, err
		}
		o.Set("props", props)
	}
	return o, nil
}

func (e *Encoder) encodeMap(m *Map, path string) (any, error) {
	if dp, dup := e.markSeen(m, path); dup {
		return dupNode(dp), nil
	}
	entries := make([]any, len(m.Entries))
	for i, ent := range m.Entries {
		k, err := e.encode(ent.Key, fmt.Sprintf("%s/$map/%d/0", path, i))
		if err != nil {
			return nil, err
		}
		v, err := e.encode(ent.Value, fmt.Sprintf("%s/$map/%d/1", path, i))
		if err != nil {
			return nil, err
		}
		entries[i] = []any{k, v}
	}
	o := NewObject()
	o.Set(TagMap, entries)
	if len(m.Props) > 0 {
		props, err := e.encodePropsMap(m.Props, path+"/props")
		if err != nil {
			return nil, err
		}
		o.Set("props", props)
	}
	return o, nil
}

func (e *Encoder) encodeArbitrary(a *Arbitrary, path string) (any, error) {
	if dp, dup := e.markSeen(a, path); dup {
		return dupNode(dp), nil
	}
	props, err := e.encodePropsMap(a.Props, path+"/$arb")
	if err != nil {
		return nil, err
	}
	classWire, err := e.encode(a.Class, path+"/T")
	if err != nil {
		return nil, err
	}
	o := NewObject()
	o.Set(TagArbitrary, props)
	o.Set("T", classWire)
	return o, nil
}

// encodePropsMap encodes a plain string-keyed property bag (Set.Props,
// Map.Props) in sorted-key order, since such maps carry no natural
// insertion order in Go; callers needing exact insertion order should
// build an *Object and put it under their own tag instead.
func (e *Encoder) encodePropsMap(props map[string]any, path string) (*Object, error) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := NewObject()
	for _, k := range keys {
		if ReservedKeys[k] {
			return nil, errf("reserved-key", "property %q is reserved", k)
		}
		child, err := e.encode(props[k], path+"/"+k)
		if err != nil {
			return nil, err
		}
		out.Set(k, child)
	}
	return out, nil
}

// MarshalJSON renders an Object with its keys in insertion order, which is
// the entire reason this type exists instead of map[string]any.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil || len(o.Keys) == 0 {
		return []byte("{}"), nil
	}
	buf := []byte{'{'}
	for i, k := range o.Keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(o.Vals[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}
