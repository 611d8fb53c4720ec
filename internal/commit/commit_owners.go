package commit

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/collab"
	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// AssignOwners is publish step 1: for each created creation with no
// user-set owner, ask the Owner collaborator for a fresh lock. If the
// returned lock is itself a creation (an owner that is a jig instance,
// not a plain key), it is added to refs rather than copied — ownership
// moves by reference for creations, per internal/clone's pass-through
// contract. The pass runs twice so an owner that is itself a freshly
// stabilizing creation settles before the loop exits (a creation can be
// its own owner's co-signer).
//
// Grounded on swap/musig2.go's two-round nonce exchange ("run twice to
// stabilize" mirrors MuSig2's commit-then-reveal nonce rounds) and
// serialized through the owner queue (spec.md §5) so two concurrent
// commits can never race to deploy the same owner class twice.
func (c *Commit) AssignOwners(ctx context.Context, owner collab.Owner, queue *collab.Queue) error {
	assign := func() error {
		for pass := 0; pass < 2; pass++ {
			for _, created := range c.Rec.Creates() {
				if created.Owner != nil {
					continue
				}
				if _, already := c.InitialOwners[created]; already {
					continue
				}
				lock, err := owner.NextOwner(ctx)
				if err != nil {
					return err
				}
				descriptor, ok := lock.(Owner)
				if !ok {
					return fmt.Errorf("commit: owner collaborator returned a lock with no Script/Domain capability")
				}
				c.InitialOwners[created] = descriptor
				if ownerAsCreation, ok := lock.(*creation.Creation); ok {
					if err := c.Rec.Link(ownerAsCreation, true, ""); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	if queue != nil {
		return queue.Run(assign)
	}
	return assign()
}
