package commit

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/collab"
	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// FinalizeLocations is publish step 13: replace every output's and delete's
// record:// location with its txid-qualified form, on the live creation
// itself (its bindings now reflect on-chain reality going forward).
func (c *Commit) FinalizeLocations() error {
	if c.TxID == "" {
		return fmt.Errorf("commit: txid must be known before finalizing locations")
	}
	for i, output := range c.Rec.Outputs() {
		output.Lock()
		output.Location = creation.TxOutputLocation(c.TxID, i)
		if creation.IsRecordLocation(output.Origin) || output.Origin == "" {
			output.Origin = output.Location
		}
		output.Unlock()
	}
	for i, del := range c.Rec.Deletes() {
		del.Lock()
		del.Location = creation.TxDeleteLocation(c.TxID, i)
		if creation.IsRecordLocation(del.Origin) || del.Origin == "" {
			del.Origin = del.Location
		}
		del.Unlock()
	}
	return nil
}

// CacheStates is publish step 14: write jig://<location> -> state for every
// output and delete, so a future load can skip trust-checked replay and
// read the pre-verified state directly (spec.md §4.10's "reads of
// pre-verified state from a cache bypass this check").
func (c *Commit) CacheStates(ctx context.Context, cache collab.Cache) error {
	targets := append(append([]*creation.Creation{}, c.Rec.Outputs()...), c.Rec.Deletes()...)
	for _, t := range targets {
		state, ok := c.States[t]
		if !ok {
			return fmt.Errorf("commit: %s has no captured state, run CaptureStates first", t)
		}
		key := "jig://" + t.Location
		if err := cache.Set(ctx, key, state); err != nil {
			return fmt.Errorf("commit: caching state for %s: %w", key, err)
		}
	}
	return nil
}
