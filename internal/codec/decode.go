package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decoder carries per-call state for decoding: the hook resolving $jig
// references back into creations, and a path->value map so $dup can point
// back at an already-built container, including one still under
// construction (the cyclic case).
type Decoder struct {
	Hook DecodeHook

	seen map[string]any
}

// NewDecoder constructs a Decoder. hook may be nil only if the payload is
// known to contain no $jig references.
func NewDecoder(hook DecodeHook) *Decoder {
	return &Decoder{Hook: hook, seen: make(map[string]any)}
}

// Decode parses canonical wire bytes back into the codec's runtime value
// types (Object, Set, Map, Bytes, Arbitrary, KeyedArray, Undefined, NegZero,
// float64, string, bool, nil, []any).
func Decode(data []byte, hook DecodeHook) (any, error) {
	dec := NewDecoder(hook)
	tok, err := parseValue(json.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return nil, errf("malformed-json", "%v", err)
	}
	return dec.decode(tok, "")
}

// token is the intermediate, order-preserving parse of a JSON value: either
// a Go scalar/nil, an *orderedToken for objects, or a []any for arrays.
type orderedToken struct {
	keys []string
	vals map[string]any
}

// parseValue reads one JSON value from dec using json.Token, building
// ordered objects instead of Go's order-erasing map[string]any.
func parseValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return parseTokenValue(dec, tok)
}

func parseTokenValue(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			ot := &orderedToken{vals: make(map[string]any)}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("expected string key, got %v", kt)
				}
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				if _, exists := ot.vals[key]; !exists {
					ot.keys = append(ot.keys, key)
				}
				ot.vals[key] = val
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return ot, nil
		case '[':
			var arr []any
			for dec.More() {
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			if arr == nil {
				arr = []any{}
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return tok, nil // string, bool, nil
	}
}

// tagOf returns the single/leading `$`-tag of an ordered object, and whether
// it carries one. Tag detection is by first-key name, not key count: $set,
// $map, and $arb legitimately carry a sibling key (props, props, T).
func tagOf(ot *orderedToken) (string, bool) {
	if len(ot.keys) == 0 {
		return "", false
	}
	k := ot.keys[0]
	if len(k) > 0 && k[0] == '$' {
		return k, true
	}
	return "", false
}

func (d *Decoder) decode(v any, path string) (any, error) {
	ot, isObj := v.(*orderedToken)
	if !isObj {
		arr, isArr := v.([]any)
		if !isArr {
			return v, nil // scalar, bool, string, nil
		}
		return d.decodeArray(arr, path)
	}

	tag, hasTag := tagOf(ot)
	if !hasTag {
		return d.decodeObject(ot, path)
	}

	switch tag {
	case TagUndefined:
		return Undefined{}, nil
	case TagNaN:
		return nan(), nil
	case TagInf:
		return posInf(), nil
	case TagNegInf:
		return negInf(), nil
	case TagNegZero:
		return NegZero{}, nil
	case TagDup:
		return d.decodeDup(ot, path)
	case TagBytes:
		return d.decodeBytes(ot, path)
	case TagSet:
		return d.decodeSet(ot, path)
	case TagMap:
		return d.decodeMap(ot, path)
	case TagArray:
		return d.decodeKeyedArray(ot, path)
	case TagObject:
		return d.decodeWrappedObject(ot, path)
	case TagArbitrary:
		return d.decodeArbitrary(ot, path)
	case TagJig:
		return d.decodeJig(ot, path)
	default:
		return nil, errf("unknown-tag", "unrecognized tag %q at %s", tag, path)
	}
}

func (d *Decoder) decodeDup(ot *orderedToken, path string) (any, error) {
	raw, _ := ot.vals[TagDup]
	arr, ok := raw.([]any)
	if !ok || len(arr) != 1 {
		return nil, errf("malformed-dup", "%s: $dup must carry a single-element path array", path)
	}
	target, ok := arr[0].(string)
	if !ok {
		return nil, errf("malformed-dup", "%s: $dup path must be a string", path)
	}
	val, exists := d.seen[target]
	if !exists {
		return nil, errf("dangling-dup", "%s: $dup references unseen path %q", path, target)
	}
	return val, nil
}

func (d *Decoder) decodeBytes(ot *orderedToken, path string) (any, error) {
	raw, _ := ot.vals[TagBytes]
	s, ok := raw.(string)
	if !ok {
		return nil, errf("malformed-bytes", "%s: $ui8a must carry a base64 string", path)
	}
	b, err := unb64(s)
	if err != nil {
		return nil, errf("malformed-bytes", "%s: %v", path, err)
	}
	out := Bytes(b)
	d.seen[path] = out
	return out, nil
}

func (d *Decoder) decodeArray(arr []any, path string) (any, error) {
	out := make([]any, len(arr))
	d.seen[path] = out
	for i, el := range arr {
		child, err := d.decode(el, fmt.Sprintf("%s/%d", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = child
	}
	return out, nil
}

func (d *Decoder) decodeObject(ot *orderedToken, path string) (any, error) {
	out := NewObject()
	d.seen[path] = out
	for _, k := range ot.keys {
		if ReservedKeys[k] {
			return nil, errf("reserved-key", "%s: property %q is reserved", path, k)
		}
		child, err := d.decode(ot.vals[k], path+"/"+k)
		if err != nil {
			return nil, err
		}
		out.Set(k, child)
	}
	return out, nil
}

// decodeWrappedObject unwraps $obj, the escape hatch for a plain object
// whose first real key happens to begin with `$`.
func (d *Decoder) decodeWrappedObject(ot *orderedToken, path string) (any, error) {
	raw, _ := ot.vals[TagObject]
	inner, ok := raw.(*orderedToken)
	if !ok {
		return nil, errf("malformed-obj", "%s: $obj must carry an object", path)
	}
	return d.decodeObject(inner, path)
}

func (d *Decoder) decodeSet(ot *orderedToken, path string) (any, error) {
	s := &Set{}
	d.seen[path] = s
	raw, _ := ot.vals[TagSet]
	arr, ok := raw.([]any)
	if !ok {
		return nil, errf("malformed-set", "%s: $set must carry an array", path)
	}
	s.Values = make([]any, len(arr))
	for i, el := range arr {
		child, err := d.decode(el, fmt.Sprintf("%s/$set/%d", path, i))
		if err != nil {
			return nil, err
		}
		s.Values[i] = child
	}
	if propsRaw, ok := ot.vals["props"]; ok {
		props, err := d.decodePropsObject(propsRaw, path+"/props")
		if err != nil {
			return nil, err
		}
		s.Props = props
	}
	return s, nil
}

func (d *Decoder) decodeMap(ot *orderedToken, path string) (any, error) {
	m := &Map{}
	d.seen[path] = m
	raw, _ := ot.vals[TagMap]
	arr, ok := raw.([]any)
	if !ok {
		return nil, errf("malformed-map", "%s: $map must carry an array", path)
	}
	m.Entries = make([]MapEntry, len(arr))
	for i, el := range arr {
		pair, ok := el.([]any)
		if !ok || len(pair) != 2 {
			return nil, errf("malformed-map", "%s: $map entry %d must be a 2-element array", path, i)
		}
		k, err := d.decode(pair[0], fmt.Sprintf("%s/$map/%d/0", path, i))
		if err != nil {
			return nil, err
		}
		v, err := d.decode(pair[1], fmt.Sprintf("%s/$map/%d/1", path, i))
		if err != nil {
			return nil, err
		}
		m.Entries[i] = MapEntry{Key: k, Value: v}
	}
	if propsRaw, ok := ot.vals["props"]; ok {
		props, err := d.decodePropsObject(propsRaw, path+"/props")
		if err != nil {
			return nil, err
		}
		m.Props = props
	}
	return m, nil
}

func (d *Decoder) decodeKeyedArray(ot *orderedToken, path string) (any, error) {
	raw, _ := ot.vals[TagArray]
	inner, ok := raw.(*orderedToken)
	if !ok {
		return nil, errf("malformed-arr", "%s: $arr must carry an object", path)
	}
	length := 0
	ka := NewKeyedArray(0)
	d.seen[path] = ka
	for _, k := range inner.keys {
		if k == "length" {
			lf, ok := inner.vals[k].(float64)
			if !ok {
				return nil, errf("malformed-arr", "%s: $arr.length must be a number", path)
			}
			length = int(lf)
			continue
		}
		idx, err := parseArrIndex(k)
		if err != nil {
			return nil, errf("malformed-arr", "%s: %v", path, err)
		}
		child, err := d.decode(inner.vals[k], fmt.Sprintf("%s/%d", path, idx))
		if err != nil {
			return nil, err
		}
		ka.Entries[idx] = child
	}
	ka.Length = length
	return ka, nil
}

func parseArrIndex(k string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(k, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid $arr index %q", k)
	}
	return n, nil
}

func (d *Decoder) decodeArbitrary(ot *orderedToken, path string) (any, error) {
	a := &Arbitrary{}
	d.seen[path] = a
	propsRaw, _ := ot.vals[TagArbitrary]
	props, err := d.decodePropsObject(propsRaw, path+"/$arb")
	if err != nil {
		return nil, err
	}
	a.Props = props
	classTok, hasClass := ot.vals["T"]
	if !hasClass {
		return nil, errf("malformed-arb", "%s: $arb must carry a T class reference", path)
	}
	class, err := d.decode(classTok, path+"/T")
	if err != nil {
		return nil, err
	}
	a.Class = class
	return a, nil
}

func (d *Decoder) decodeJig(ot *orderedToken, path string) (any, error) {
	raw, _ := ot.vals[TagJig]
	if d.Hook == nil {
		return nil, errf("unsupported-type", "%s: $jig reference but no decode hook configured", path)
	}
	creation, err := d.Hook(raw)
	if err != nil {
		return nil, err
	}
	d.seen[path] = creation
	return creation, nil
}

// decodePropsObject decodes a props sibling (plain JSON object, not
// necessarily order-significant) into a Go map.
func (d *Decoder) decodePropsObject(raw any, path string) (map[string]any, error) {
	ot, ok := raw.(*orderedToken)
	if !ok {
		return nil, errf("malformed-props", "%s: props must be an object", path)
	}
	out := make(map[string]any, len(ot.keys))
	for _, k := range ot.keys {
		if ReservedKeys[k] {
			return nil, errf("reserved-key", "%s: property %q is reserved", path, k)
		}
		child, err := d.decode(ot.vals[k], path+"/"+k)
		if err != nil {
			return nil, err
		}
		out[k] = child
	}
	return out, nil
}

func nan() float64 {
	var f float64
	return f / zero()
}

func posInf() float64 {
	var f float64 = 1
	return f / zero()
}

func negInf() float64 {
	var f float64 = -1
	return f / zero()
}

func zero() float64 { return 0 }
