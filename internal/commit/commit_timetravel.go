package commit

import "fmt"

// refEntry is one entry of the origin -> [location, nonce] refmap.
type refEntry struct {
	Location string
	Nonce    uint64
}

// CheckNoTimeTravel is publish step 3: build a refmap (origin -> [location,
// nonce]) for every ref, and reject if any pre-state nonce observed this
// commit is less than the refmap nonce recorded for the same origin —
// catching "loaded this jig at an old nonce in the same transaction that
// also loaded it fresh" (spec.md §8 scenario 4, "reference time travel").
func (c *Commit) CheckNoTimeTravel() error {
	refmap := make(map[string]refEntry)
	for _, ref := range c.Rec.Refs() {
		if existing, ok := refmap[ref.Origin]; ok {
			if ref.Nonce < existing.Nonce {
				return fmt.Errorf("commit: time travel on origin %s: observed nonce %d after nonce %d", ref.Origin, ref.Nonce, existing.Nonce)
			}
		}
		refmap[ref.Origin] = refEntry{Location: ref.Location, Nonce: ref.Nonce}
	}
	for _, in := range c.Rec.Inputs() {
		if existing, ok := refmap[in.Origin]; ok && in.Nonce < existing.Nonce {
			return fmt.Errorf("commit: time travel on origin %s: input nonce %d predates observed ref nonce %d", in.Origin, in.Nonce, existing.Nonce)
		}
	}
	return nil
}
