package codec

// Object is an insertion-ordered string-keyed map: the codec's stand-in for
// a plain JSON object, since Go's map iteration order is randomized and
// spec.md §4.1/§5 require reproducible key order on both encode and decode.
type Object struct {
	Keys []string
	Vals map[string]any
}

// NewObject returns an empty ordered object.
func NewObject() *Object {
	return &Object{Vals: make(map[string]any)}
}

// Set appends k (if new) and stores v, preserving first-insertion order on
// repeated sets of the same key.
func (o *Object) Set(k string, v any) {
	if _, exists := o.Vals[k]; !exists {
		o.Keys = append(o.Keys, k)
	}
	o.Vals[k] = v
}

// Get returns the value for k and whether it was present.
func (o *Object) Get(k string) (any, bool) {
	v, ok := o.Vals[k]
	return v, ok
}

// Len returns the number of own keys.
func (o *Object) Len() int { return len(o.Keys) }

// FirstKey returns the first inserted key, or "" if empty.
func (o *Object) FirstKey() string {
	if len(o.Keys) == 0 {
		return ""
	}
	return o.Keys[0]
}

// KeyedArray represents a sparse or non-index-only array: present indices
// mapped to values, plus the logical length (so trailing holes survive a
// round trip). Encodes under $arr.
type KeyedArray struct {
	Length  int
	Entries map[int]any
}

// NewKeyedArray returns an empty keyed array of the given logical length.
func NewKeyedArray(length int) *KeyedArray {
	return &KeyedArray{Length: length, Entries: make(map[int]any)}
}
