// Package replay implements spec.md §4.10: given a transaction and its
// extracted metadata, re-derive execution deterministically and compare the
// result to what was published, so a peer never has to trust a commit's
// author — only the chain itself, plus an explicit trust list for any
// commit carrying executable source.
//
// Grounded on internal/swap/coordinator_complete.go's pattern of verifying a
// counterparty's claimed final state against locally recomputed state
// before accepting it (SwapCoordinator.completeSwap cross-checks the
// claimed secret/signature against what the local side independently
// derives); this package generalizes that "recompute and compare" shape
// from one counterparty claim to an entire commit's metadata.
package replay

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/collab"
	"github.com/klingon-exchange/jigkernel/internal/commit"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/creationset"
	"github.com/klingon-exchange/jigkernel/internal/record"
	"github.com/klingon-exchange/jigkernel/pkg/logging"
)

// Executor dispatches one exec-list entry against the sandboxed class
// resolved from the master list. It is the same membrane-driven call path
// live execution uses (internal/membrane.Call / internal/dynamic's
// VTable-based method resolution); replay stays decoupled from those
// packages' concrete types to avoid an import cycle, so a caller wires in
// its own adapter around the live kernel's dispatcher.
//
// Executor must not itself append the top-level action to rec (it should
// drive membrane with passthrough=true, or otherwise suppress
// Record.EmitCall's auto-append) — Replay calls rec.Action(a) exactly once
// per exec entry after exec returns, so DEPLOY/UPGRADE/NEW/CALL are all
// appended the same uniform way regardless of which ones membrane would
// otherwise auto-append on its own.
type Executor func(ctx context.Context, rec *record.Record, masterList []*creation.Creation, a action.Action) error

// Loader resolves one location string to its fully-bound creation: owner,
// satoshis, nonce, props/src, and (for a jig) its class pointer. Replay
// stays decoupled from internal/sync's concrete spend-chain walk and from
// internal/collab.Cache's storage shape to avoid coupling the verification
// path to one particular loading strategy — a caller wires in a loader
// backed by the cache, a full sync walk, or both.
type Loader interface {
	Load(ctx context.Context, location string) (*creation.Creation, error)
}

// TrustList reports whether a txid is permitted to actually execute any
// source it carries (spec.md §4.10's trust model: "executing that source
// against the process's runtime requires the txid to be in a caller-
// supplied trust list").
type TrustList interface {
	Trusted(txid string) bool
}

// Options configures one Replay call.
type Options struct {
	TxID       string
	Published  bool // finalize locations and write cache entries on success
	JigToSync  *creation.Creation
	SkipVerify bool // for preverify's self-replay; never set true for untrusted input
}

// Result is what a successful replay produces.
type Result struct {
	Rec        *record.Record
	Commit     *commit.Commit
	MasterList []*creation.Creation
}

// Replay runs spec.md §4.10 steps 1-9 against rawtx/metadata.
func Replay(ctx context.Context, rawtx []byte, meta *commit.Metadata, trust TrustList, loader Loader, cache collab.Cache, exec Executor, opts Options) (*Result, error) {
	log := logging.GetDefault().Component("replay")

	if hasExecutableSource(meta) {
		if trust == nil || !trust.Trusted(opts.TxID) {
			return nil, fmt.Errorf("%w: txid %s carries executable source but is not in the trust list", collab.ErrTrust, opts.TxID)
		}
	}

	rec := record.New(record.Replaying())

	loaded, err := LoadInputsAndRefs(ctx, rawtx, meta, loader, opts.JigToSync)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	// Worldview consistency: the same origin must never resolve to two
	// different locations/nonces across the loaded inputs and refs
	// (spec.md §4.3's worldview-unification rule), independent of whatever
	// update/read bookkeeping actual re-execution performs below.
	world := creationset.New()
	for _, in := range loaded.Inputs {
		if err := world.Add(in); err != nil {
			return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
		}
	}
	for _, ref := range loaded.Refs {
		if err := world.Add(ref); err != nil {
			return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
		}
	}

	masterList := append(append([]*creation.Creation{}, loaded.Inputs...), loaded.Refs...)

	for i, e := range meta.Exec {
		a, err := action.FromExec(e, func(idx int) (*creation.Creation, error) {
			if idx < 0 || idx >= len(masterList) {
				return nil, fmt.Errorf("$jig ref index %d out of range (master list has %d entries so far)", idx, len(masterList))
			}
			return masterList[idx], nil
		})
		if err != nil {
			return nil, fmt.Errorf("replay: exec entry %d: %w: %v", i, collab.ErrExecution, err)
		}
		if err := exec(ctx, rec, masterList, a); err != nil {
			return nil, fmt.Errorf("replay: exec entry %d: %w: %v", i, collab.ErrExecution, err)
		}
		if err := rec.Action(a); err != nil {
			return nil, fmt.Errorf("replay: exec entry %d: %w: %v", i, collab.ErrExecution, err)
		}
		// Newly created creations (DEPLOY/NEW) join the master list as the
		// exec list references them by later entries, mirroring how the
		// master list grows during live execution's own action() calls.
		for _, c := range rec.Creates() {
			if !containsCreation(masterList, c) {
				masterList = append(masterList, c)
			}
		}
	}

	cm := commit.New(rec, meta.App, meta.Vrun)
	cm.BaseOut = meta.Base
	cm.MasterList = masterList
	if err := cm.CheckNoTimeTravel(); err != nil {
		return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
	}
	// Owners are reconstructed from meta.Cre, not queried fresh, and must
	// be in place before FinalizeBindings defaults each output's Owner
	// binding from InitialOwners.
	if err := assignInitialOwnersFromMetadata(cm, meta); err != nil {
		return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
	}
	if err := cm.FinalizeBindings(); err != nil {
		return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
	}
	if err := cm.CaptureStates(isCreationFn); err != nil {
		return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
	}
	hook := func(v any) (any, error) {
		c, ok := v.(*creation.Creation)
		if !ok {
			return nil, fmt.Errorf("replay: encode hook given a non-creation %T", v)
		}
		return cm.IndexInMasterList(c)
	}
	if err := cm.HashStates(ctx, hook, isCreationFn); err != nil {
		return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
	}
	if err := cm.BuildExecList(); err != nil {
		return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
	}
	if err := cm.BuildMetadata(); err != nil {
		return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
	}

	if !opts.SkipVerify {
		equal, reason, err := CompareMetadata(cm.Metadata, meta)
		if err != nil {
			return nil, fmt.Errorf("replay: comparing metadata: %w", err)
		}
		if !equal {
			log.Error("metadata mismatch", "txid", opts.TxID, "reason", reason)
			return nil, fmt.Errorf("replay: %w: metadata mismatch: %s", collab.ErrExecution, reason)
		}
	}

	if opts.Published {
		cm.TxID = opts.TxID
		if err := cm.FinalizeLocations(); err != nil {
			return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
		}
		if cache != nil {
			if err := cm.CacheStates(ctx, cache); err != nil {
				return nil, fmt.Errorf("replay: %w: %v", collab.ErrExecution, err)
			}
		}
	}

	return &Result{Rec: rec, Commit: cm, MasterList: masterList}, nil
}

func hasExecutableSource(meta *commit.Metadata) bool {
	for _, e := range meta.Exec {
		if e.Op == action.OpDeploy || e.Op == action.OpUpgrade {
			return true
		}
	}
	return false
}

func isCreationFn(v any) bool {
	_, ok := v.(*creation.Creation)
	return ok
}

func containsCreation(list []*creation.Creation, c *creation.Creation) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
