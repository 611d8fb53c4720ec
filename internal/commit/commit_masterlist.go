package commit

import "github.com/klingon-exchange/jigkernel/internal/creation"

// BuildMasterList is publish step 5: the deterministic ordered union of
// (inputs, refs, creates), each in insertion order (spec.md §5: "the
// master-list ordering is deterministic: inputs, then refs, then creates,
// each in insertion order ... load-bearing for state-hash reproducibility").
func (c *Commit) BuildMasterList() {
	seen := make(map[*creation.Creation]bool)
	var list []*creation.Creation
	add := func(cs []*creation.Creation) {
		for _, x := range cs {
			if seen[x] {
				continue
			}
			seen[x] = true
			list = append(list, x)
		}
	}
	add(c.Rec.Inputs())
	add(c.Rec.Refs())
	add(c.Rec.Creates())
	c.MasterList = list
}
