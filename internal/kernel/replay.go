package kernel

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/commit"
	"github.com/klingon-exchange/jigkernel/internal/replay"
	"github.com/klingon-exchange/jigkernel/internal/storage"
)

// Replay re-derives and verifies a raw transaction's metadata per spec.md
// §4.10, caching and persisting the result on success. It always replays
// with Published: true, so any caller that trusts the transaction only
// because it trusts whoever handed them rawtx should not call it until
// they've confirmed rawtx is actually the one in the chain — Replay itself
// never fetches anything, it only recomputes.
func (k *Kernel) Replay(ctx context.Context, rawtx []byte, txid string) (*replay.Result, error) {
	meta, err := commit.ExtractMetadata(rawtx)
	if err != nil {
		return nil, fmt.Errorf("kernel: replay: %w", err)
	}

	result, err := replay.Replay(ctx, rawtx, meta, k.trust, k.loader, k.cache, k.Executor, replay.Options{
		TxID:      txid,
		Published: true,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: replay: %w", err)
	}

	if k.store != nil {
		now := nowUnix()
		for _, out := range result.Rec.Outputs() {
			if err := storage.SaveCreation(ctx, k.store, out, now); err != nil {
				return nil, fmt.Errorf("kernel: replay: persisting %s: %w", out, err)
			}
		}
		if err := storage.SaveCommit(ctx, k.store, txid, meta.App, storage.CommitPublished, rawtx, "", now); err != nil {
			return nil, fmt.Errorf("kernel: replay: recording commit row: %w", err)
		}
	}

	k.log.Info("replayed commit", "txid", txid, "app", meta.App)
	return result, nil
}
