package commit

import "fmt"

// FinalizeBindings is publish step 4: for every output, default a missing
// satoshis/owner from the after-state already on the live creation, and
// assert every deleted creation reflects owner=null, satoshis=0.
func (c *Commit) FinalizeBindings() error {
	for _, output := range c.Rec.Outputs() {
		if output.Satoshis == 0 {
			output.Satoshis = DustSatoshis
		}
		if output.Satoshis < DustSatoshis {
			output.Satoshis = DustSatoshis
		}
		if output.Owner == nil {
			if owner, ok := c.InitialOwners[output]; ok {
				if descAsOwner, ok2 := owner.(interface{ String() string }); ok2 {
					output.Owner = descAsOwner
				}
			}
		}
		if output.Owner == nil {
			return fmt.Errorf("commit: output %s has no owner after binding finalization", output)
		}
	}
	for _, del := range c.Rec.Deletes() {
		if !del.Bindings.Destroyed() {
			return fmt.Errorf("commit: delete %s must have owner=null and satoshis=0", del)
		}
	}
	return nil
}
