package replay

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/jigkernel/internal/commit"
	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// Loaded is the result of resolving a transaction's declared inputs and
// refs to fully-bound creations (spec.md §4.10 step 2).
type Loaded struct {
	Inputs []*creation.Creation
	Refs   []*creation.Creation
}

// LoadInputsAndRefs parses rawtx, takes its first meta.In inputs as the
// jig/berry inputs this commit consumed (the remainder are payment/change
// inputs a Purse attached — spec.md §4.9 step 10's "base outputs the
// caller already attached to BaseTx" convention means jig inputs are
// always placed first), and resolves each input's previous outpoint plus
// every location named in meta.Ref through loader.
//
// jigToSync, when non-nil, is substituted directly for whichever location
// it already matches rather than re-fetched — the caller's own entry point
// into a single-jig sync walk already has it in hand.
func LoadInputsAndRefs(ctx context.Context, rawtx []byte, meta *commit.Metadata, loader Loader, jigToSync *creation.Creation) (*Loaded, error) {
	if meta.In > 0 && loader == nil {
		return nil, fmt.Errorf("replay: commit declares %d input(s) but no loader was supplied", meta.In)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawtx)); err != nil {
		return nil, fmt.Errorf("replay: parsing transaction: %w", err)
	}
	if len(tx.TxIn) < meta.In {
		return nil, fmt.Errorf("replay: commit declares %d input(s) but the transaction only has %d", meta.In, len(tx.TxIn))
	}

	resolve := func(loc string) (*creation.Creation, error) {
		if jigToSync != nil && jigToSync.Location == loc {
			return jigToSync, nil
		}
		if loader == nil {
			return nil, fmt.Errorf("loading %s: no loader was supplied", loc)
		}
		c, err := loader.Load(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", loc, err)
		}
		if c == nil {
			return nil, fmt.Errorf("loading %s: loader returned no creation", loc)
		}
		return c, nil
	}

	inputs := make([]*creation.Creation, meta.In)
	for i := 0; i < meta.In; i++ {
		prev := tx.TxIn[i].PreviousOutPoint
		loc := creation.TxOutputLocation(prev.Hash.String(), int(prev.Index))
		c, err := resolve(loc)
		if err != nil {
			return nil, fmt.Errorf("replay: input %d: %w", i, err)
		}
		inputs[i] = c
	}

	refs := make([]*creation.Creation, len(meta.Ref))
	for i, loc := range meta.Ref {
		c, err := resolve(loc)
		if err != nil {
			return nil, fmt.Errorf("replay: ref %d: %w", i, err)
		}
		refs[i] = c
	}

	return &Loaded{Inputs: inputs, Refs: refs}, nil
}
