package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/jigkernel/internal/collab"
	"github.com/klingon-exchange/jigkernel/internal/commit"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/record"
	"github.com/klingon-exchange/jigkernel/internal/storage"
)

// Commit runs spec.md §4.9's fourteen-step publish pipeline against
// sessionID's accumulated record and broadcasts the result, returning the
// published txid. The session is closed whether or not publication
// succeeds, matching record.Record's one-shot, non-reusable lifecycle.
func (k *Kernel) Commit(ctx context.Context, sessionID string) (string, error) {
	rec, err := k.session(sessionID)
	if err != nil {
		return "", err
	}
	defer k.CloseSession(sessionID)

	cm := commit.New(rec, k.app, k.vrun)

	baseTx, locks, err := k.buildBaseTx(rec)
	if err != nil {
		return "", err
	}
	cm.BaseTx = baseTx

	if err := cm.AssignOwners(ctx, k.owner, k.queue); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if err := cm.GenerateOutputScripts(); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if err := cm.CheckNoTimeTravel(); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if err := cm.FinalizeBindings(); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	cm.BuildMasterList()
	if err := cm.CaptureStates(isCreationValue); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	hook := func(v any) (any, error) {
		c, ok := v.(*creation.Creation)
		if !ok {
			return nil, fmt.Errorf("kernel: commit: encode hook given a non-creation %T", v)
		}
		return cm.IndexInMasterList(c)
	}
	if err := cm.HashStates(ctx, hook, isCreationValue); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if err := cm.BuildExecList(); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if err := cm.BuildMetadata(); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if err := cm.BuildPartialTx(); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if err := cm.Preverify(commit.ExtractMetadata); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if err := cm.Broadcast(ctx, k.purse, k.owner, k.chain, locks, k.queue); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if err := cm.FinalizeLocations(); err != nil {
		return "", fmt.Errorf("kernel: commit: %w", err)
	}
	if k.cache != nil {
		if err := cm.CacheStates(ctx, k.cache); err != nil {
			return "", fmt.Errorf("kernel: commit: %w", err)
		}
	}

	if k.store != nil {
		now := time.Now().Unix()
		for _, out := range rec.Outputs() {
			if err := storage.SaveCreation(ctx, k.store, out, now); err != nil {
				return "", fmt.Errorf("kernel: commit: persisting %s: %w", out, err)
			}
		}
		if err := storage.SaveCommit(ctx, k.store, cm.TxID, k.app, storage.CommitPublished, cm.SignedTx, "", now); err != nil {
			return "", fmt.Errorf("kernel: commit: recording commit row: %w", err)
		}
	}

	k.log.Info("published commit", "txid", cm.TxID, "app", k.app)
	return cm.TxID, nil
}

// buildBaseTx assembles the caller-provided half of the transaction
// commit.Commit.BaseTx documents: one input per already-published creation
// the record spends, resolved from that creation's own tx-qualified
// location. A record with no inputs (a pure deploy, or a NEW against a
// class deployed earlier in the same still-open session) produces a
// zero-input BaseTx; the Purse collaborator's Pay step is solely
// responsible for attaching whatever UTXO actually funds the transaction.
func (k *Kernel) buildBaseTx(rec *record.Record) (*wire.MsgTx, []collab.Lock, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	var locks []collab.Lock
	for _, in := range rec.Inputs() {
		parsed, err := creation.ParseTxLocation(in.Location)
		if err != nil {
			return nil, nil, fmt.Errorf("kernel: commit: input %s has no spendable on-chain location: %w", in, err)
		}
		if !parsed.IsOutput {
			return nil, nil, fmt.Errorf("kernel: commit: input %s resolves to a delete slot, not a spendable output", in)
		}
		hash, err := chainhash.NewHashFromStr(parsed.TxID)
		if err != nil {
			return nil, nil, fmt.Errorf("kernel: commit: input %s: %w", in, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, uint32(parsed.Index)), nil, nil))
		if lock, ok := in.Owner.(collab.Lock); ok {
			locks = append(locks, lock)
		} else {
			return nil, nil, fmt.Errorf("kernel: commit: input %s owner %T does not satisfy collab.Lock", in, in.Owner)
		}
	}
	return tx, locks, nil
}
