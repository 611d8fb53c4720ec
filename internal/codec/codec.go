// Package codec implements the protocol's deterministic `$`-tagged JSON
// encoding: a canonical wire form for rich runtime values (sets, maps, byte
// arrays, cyclic graphs, creation references) over plain JSON, with
// insertion-ordered keys so two encoders fed the same value produce
// byte-identical output.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Tag names for the single-key `$`-objects the codec emits for anything
// plain JSON cannot express natively.
const (
	TagUndefined = "$und"
	TagNaN       = "$nan"
	TagInf       = "$inf"
	TagNegInf    = "$ninf"
	TagNegZero   = "$n0"
	TagSet       = "$set"
	TagMap       = "$map"
	TagBytes     = "$ui8a"
	TagJig       = "$jig"
	TagArbitrary = "$arb"
	TagObject    = "$obj"
	TagArray     = "$arr"
	TagDup       = "$dup"
)

// Undefined represents JavaScript-style `undefined`, distinct from nil/null.
type Undefined struct{}

// NegZero represents IEEE-754 negative zero, distinct from 0.
type NegZero struct{}

// Set is an ordered collection of unique elements with optional own
// properties (mirroring a Set subclass with extra fields).
type Set struct {
	Values []any
	Props  map[string]any
}

// Map is an ordered association list — not a Go map, because Go maps are
// unordered and this type's iteration order must be reproducible.
type Map struct {
	Entries []MapEntry
	Props   map[string]any
}

// MapEntry is one key/value pair of a Map, in insertion order.
type MapEntry struct {
	Key   any
	Value any
}

// Bytes is an opaque byte array, encoded as base64 under $ui8a.
type Bytes []byte

// JigRef is a placeholder for a creation reference; the codec never
// resolves it itself — EncodeHook/DecodeHook do that.
type JigRef struct {
	// Ref is what the hook produced/will consume: typically a master-list
	// index (encode) or an index/location string (decode).
	Ref any
}

// MarshalJSON renders a JigRef as the same $jig-tagged shape the codec's
// own Object/Array encoding uses, so a value holding a bare JigRef (the
// exec list's ref entries, marshaled directly via encoding/json rather
// than through Encode) still produces the canonical wire tag.
func (r JigRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{TagJig: r.Ref})
}

// UnmarshalJSON reverses MarshalJSON.
func (r *JigRef) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	raw, ok := m[TagJig]
	if !ok {
		return fmt.Errorf("codec: expected a %s-tagged object for JigRef", TagJig)
	}
	var ref any
	if err := json.Unmarshal(raw, &ref); err != nil {
		return err
	}
	r.Ref = ref
	return nil
}

// Arbitrary is a user-class instance: own enumerable properties plus a
// reference to its class (T), itself encoded as a normal $jig so recursion
// and $dup apply uniformly.
type Arbitrary struct {
	Props map[string]any
	Class any // resolved via EncodeHook/DecodeHook, same as JigRef.Ref
}

// ReservedKeys are forbidden as own-property names because they collide
// with intrinsics the protocol must not let user data shadow.
var ReservedKeys = map[string]bool{
	"constructor": true,
	"prototype":   true,
}

// Error is the codec's error type; it never includes pointer/address
// information, matching spec.md §7's "pointer-free message" contract for
// serialization errors.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func errf(kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// EncodeHook lets the caller resolve a creation reference encountered during
// encoding into a JigRef.Ref value (typically a master-list index).
type EncodeHook func(creation any) (ref any, err error)

// DecodeHook lets the caller resolve a JigRef.Ref value encountered during
// decoding back into a creation.
type DecodeHook func(ref any) (creation any, err error)

// IsCreationFunc lets the caller tell the codec "this value is a creation
// reference, hand it to EncodeHook rather than traversing it."
type IsCreationFunc func(v any) bool

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func unb64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
