package commit

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/jigkernel/internal/collab"
)

// Broadcast is publish step 12: pay, sign, and broadcast the partial tx
// through the external Purse/Owner/Blockchain collaborators, then assert
// the paid/signed tx matches the partial tx in every field outside payment
// inputs and change outputs.
//
// Grounded on swap/coordinator's pay-then-sign-then-broadcast hand-off
// between the teacher's wallet.Purse-equivalent and chain backend,
// generalized to the collab package's Purse/Owner/Blockchain split, and
// serialized through the purse queue (spec.md §5) so concurrent commits
// reusing the purse's UTXO set never race.
func (c *Commit) Broadcast(ctx context.Context, purse collab.Purse, owner collab.Owner, chain collab.Blockchain, locks []collab.Lock, queue *collab.Queue) error {
	if c.PartialTx == nil {
		return fmt.Errorf("commit: partial tx must be built before broadcast")
	}

	run := func() error {
		parents, err := c.fetchParents(ctx, chain)
		if err != nil {
			return err
		}

		paid, err := purse.Pay(ctx, c.PartialTx, parents)
		if err != nil {
			return fmt.Errorf("commit: purse pay: %w", err)
		}
		signed, err := owner.Sign(ctx, paid, parents, locks)
		if err != nil {
			return fmt.Errorf("commit: owner sign: %w", err)
		}
		if err := c.verifyMatchesPartial(signed); err != nil {
			return err
		}
		c.SignedTx = signed

		txid, err := purse.Broadcast(ctx, signed)
		if err != nil {
			txid, err = chain.Broadcast(ctx, signed)
			if err != nil {
				return fmt.Errorf("commit: broadcast: %w", err)
			}
		}
		c.TxID = txid
		return nil
	}

	if queue != nil {
		return queue.Run(run)
	}
	return run()
}

// fetchParents fetches the raw transaction for every distinct input's
// previous txid, in input order, for the Owner/Purse collaborators' sighash
// computation.
func (c *Commit) fetchParents(ctx context.Context, chain collab.Blockchain) ([][]byte, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(c.PartialTx)); err != nil {
		return nil, fmt.Errorf("commit: parsing partial tx: %w", err)
	}
	seen := make(map[string]bool)
	var parents [][]byte
	for _, in := range tx.TxIn {
		txid := in.PreviousOutPoint.Hash.String()
		if seen[txid] {
			continue
		}
		seen[txid] = true
		raw, err := chain.Fetch(ctx, txid)
		if err != nil {
			return nil, fmt.Errorf("commit: fetching parent tx %s: %w", txid, err)
		}
		parents = append(parents, raw)
	}
	return parents, nil
}

// verifyMatchesPartial asserts the paid/signed tx matches the partial tx in
// every field outside payment inputs and change outputs: every output the
// partial tx defined (OP_RETURN, base, jig outputs) must appear, in order,
// at the front of the signed tx's output list, with identical script and
// value. Extra trailing outputs (the purse's change) and extra inputs
// (the purse's payment UTXOs) are the only permitted additions.
func (c *Commit) verifyMatchesPartial(signed []byte) error {
	var partial, full wire.MsgTx
	if err := partial.Deserialize(bytes.NewReader(c.PartialTx)); err != nil {
		return fmt.Errorf("commit: parsing partial tx: %w", err)
	}
	if err := full.Deserialize(bytes.NewReader(signed)); err != nil {
		return fmt.Errorf("commit: parsing signed tx: %w", err)
	}
	if len(full.TxOut) < len(partial.TxOut) {
		return fmt.Errorf("commit: signed tx has fewer outputs (%d) than the partial tx (%d)", len(full.TxOut), len(partial.TxOut))
	}
	for i, want := range partial.TxOut {
		got := full.TxOut[i]
		if got.Value != want.Value || !bytes.Equal(got.PkScript, want.PkScript) {
			return fmt.Errorf("commit: signed tx output %d diverges from the partial tx", i)
		}
	}
	for i, want := range partial.TxIn {
		if i >= len(full.TxIn) {
			return fmt.Errorf("commit: signed tx dropped input %d present in the partial tx", i)
		}
		got := full.TxIn[i]
		if got.PreviousOutPoint != want.PreviousOutPoint {
			return fmt.Errorf("commit: signed tx input %d diverges from the partial tx", i)
		}
	}
	return nil
}
