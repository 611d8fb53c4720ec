package commit

import "fmt"

// GenerateOutputScripts is publish step 2: for every output, serialize its
// lock into a locking script via the lock's script() capability. This is
// itself a recorded call in the real protocol (invoking user-overridable
// lock logic can introduce new refs); here the locks are resolved directly
// since internal/lock.Descriptor values are plain, non-recorded Go values.
//
// Grounded on swap/script.go / swap/htlc_script.go's script-building, now
// dispatched generically over whichever Owner descriptor step 1 assigned
// instead of one fixed HTLC/MuSig2 shape.
func (c *Commit) GenerateOutputScripts() error {
	for _, output := range c.Rec.Outputs() {
		owner, ok := c.InitialOwners[output]
		if !ok {
			if boundOwner, ok2 := any(output.Owner).(Owner); ok2 {
				owner = boundOwner
			}
		}
		if owner == nil {
			return fmt.Errorf("commit: output %s has no resolvable owner", output)
		}
		script, err := owner.Script()
		if err != nil {
			return fmt.Errorf("commit: building locking script for %s: %w", output, err)
		}
		c.OutputScripts[output] = script
	}
	return nil
}
