package commit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Replayer re-derives metadata from a partial tx, the way internal/replay's
// top-level entry point will once it exists. Preverify stays decoupled from
// that package (which itself depends on commit to convert a replayed record)
// to avoid an import cycle; callers wire in internal/replay's function.
type Replayer func(partialTx []byte) (*Metadata, error)

// Preverify is publish step 11 (optional): replay our own just-built
// metadata against our own just-built partial tx and compare, catching
// engine bugs before anything is broadcast.
func (c *Commit) Preverify(replay Replayer) error {
	if c.Metadata == nil || c.PartialTx == nil {
		return fmt.Errorf("commit: metadata and partial tx must be built before preverify")
	}
	replayed, err := replay(c.PartialTx)
	if err != nil {
		return fmt.Errorf("commit: preverify replay failed: %w", err)
	}
	want, err := c.Metadata.coreJSON()
	if err != nil {
		return err
	}
	got, err := replayed.coreJSON()
	if err != nil {
		return err
	}
	equal, err := jsonEqual(want, got)
	if err != nil {
		return err
	}
	if !equal {
		return fmt.Errorf("commit: preverify metadata mismatch: self-replay produced different metadata")
	}
	return nil
}

// jsonEqual compares two JSON documents by decoded value rather than raw
// bytes, since key order inside nested maps can differ without changing
// meaning; the metadata's own top-level field order is already fixed by
// coreJSON, so this only guards against incidental whitespace/number
// formatting differences.
func jsonEqual(a, b []byte) (bool, error) {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false, err
	}
	na, err := json.Marshal(va)
	if err != nil {
		return false, err
	}
	nb, err := json.Marshal(vb)
	if err != nil {
		return false, err
	}
	return bytes.Equal(na, nb), nil
}
