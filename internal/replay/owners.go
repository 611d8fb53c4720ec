package replay

import (
	"encoding/hex"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/commit"
)

// literalOwner wraps the raw bytes a Metadata.Cre entry carries — the full
// locking script for an ordinary output, or the shorter domain tag for a
// creation that was destroyed within the same transaction it was created
// (BuildMetadata's two-branch Cre encoding) — so replay never needs to
// re-query a key-custody collaborator. Echoing the same bytes back out of
// both Script and Domain reproduces whichever of the two the original
// publish actually committed to: FinalizeBindings never calls Script on a
// destroyed creation, and BuildMetadata's Cre fallback only calls Domain
// on one, so the two call sites never observe the "wrong" branch's value.
type literalOwner struct {
	raw []byte
}

func (o literalOwner) Script() ([]byte, error) { return o.raw, nil }
func (o literalOwner) Domain() []byte          { return o.raw }
func (o literalOwner) String() string          { return hex.EncodeToString(o.raw) }

// assignInitialOwnersFromMetadata rebuilds cm.InitialOwners from
// meta.Cre, in the same order BuildMetadata produced it (cm.Rec.Creates()
// order), so the replayed commit's own BuildMetadata reproduces the
// identical Cre list byte-for-byte.
func assignInitialOwnersFromMetadata(cm *commit.Commit, meta *commit.Metadata) error {
	creates := cm.Rec.Creates()
	if len(creates) != len(meta.Cre) {
		return fmt.Errorf("commit created %d creation(s) but metadata carries %d cre entr(y/ies)", len(creates), len(meta.Cre))
	}
	for i, created := range creates {
		raw, err := hex.DecodeString(meta.Cre[i])
		if err != nil {
			return fmt.Errorf("decoding cre[%d]: %w", i, err)
		}
		cm.InitialOwners[created] = literalOwner{raw: raw}
	}
	return nil
}
