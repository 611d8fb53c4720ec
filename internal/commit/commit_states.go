package commit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/klingon-exchange/jigkernel/internal/clone"
	"github.com/klingon-exchange/jigkernel/internal/codec"
	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// CaptureStates is publish step 6: for each output and delete, compute the
// deterministic per-creation state (kind, class-ref, props, src, version).
// Class refs resolve against the already-built master list (step 5 must
// run first).
func (c *Commit) CaptureStates(isCreation clone.IsCreationFunc) error {
	targets := append(append([]*creation.Creation{}, c.Rec.Outputs()...), c.Rec.Deletes()...)
	for _, t := range targets {
		clsRef := -1
		if t.Cls != nil {
			idx, err := c.indexOf(t.Cls)
			if err != nil {
				return err
			}
			clsRef = idx
		}
		props, err := clone.DeepClone(t.Props, isCreation)
		if err != nil {
			return err
		}
		version := 0
		if versioned, ok := any(t).(interface{ DynamicVersion() int }); ok {
			version = versioned.DynamicVersion()
		}
		c.States[t] = &State{
			Kind:    t.Kind,
			ClsRef:  clsRef,
			Props:   props.(map[string]any),
			Src:     t.Src,
			Version: version,
		}
	}
	return nil
}

// HashStates is publish step 7: SHA-256 of the deterministic-JSON-
// stringified state, hex-encoded, one hash per output/delete. Each hash is
// keyed by its creation so concurrent computation ordering never affects
// the stored result (spec.md §9's open question about hashStates ordering
// is resolved here: a map keyed by creation, not a positional slice, so
// whichever goroutine finishes first writes to its own unambiguous slot).
//
// The state is built as an explicit *codec.Object with a fixed field order
// (kind, cls, props, src, version) rather than a bare Go map: encode()'s
// dispatch has no case for map[string]any (it encodes *codec.Object's raw
// *values* recursively, it does not accept a plain map as a value or as a
// top-level input), so a raw map here would fail with unsupported-type
// rather than merely hash non-reproducibly. st.Props is itself a plain
// property bag with no natural order, so it is sorted into its own Object
// the same way encodePropsMap sorts Set.Props/Map.Props.
func (c *Commit) HashStates(ctx context.Context, hook codec.EncodeHook, isCreation clone.IsCreationFunc) error {
	targets := append(append([]*creation.Creation{}, c.Rec.Outputs()...), c.Rec.Deletes()...)

	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make([]error, 0)

	for _, t := range targets {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := c.States[t]
			state := codec.NewObject()
			state.Set("kind", int(st.Kind))
			state.Set("cls", st.ClsRef)
			state.Set("props", sortedObject(st.Props))
			state.Set("src", st.Src)
			state.Set("version", st.Version)

			encoded, err := codec.Encode(state, hook, isCreation)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			sum := sha256.Sum256(encoded)
			c.StateHashes[t] = hex.EncodeToString(sum[:])
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// sortedObject lifts a plain, order-less property bag into a *codec.Object
// with keys in sorted order, mirroring codec's own encodePropsMap treatment
// of Set.Props/Map.Props so a creation's own properties hash the same way.
func sortedObject(props map[string]any) *codec.Object {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	o := codec.NewObject()
	for _, k := range keys {
		o.Set(k, props[k])
	}
	return o
}
