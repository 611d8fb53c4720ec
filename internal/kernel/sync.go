package kernel

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/storage"
)

// SyncJig resolves location to its latest on-chain state (spec.md §4.11),
// walking the spend chain hop by hop via internal/sync.Syncer, and persists
// the result so a later GetCreation sees the caught-up state without
// re-walking the chain.
func (k *Kernel) SyncJig(ctx context.Context, location string) (*creation.Creation, error) {
	start, err := k.loader.Load(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("kernel: sync: %w", err)
	}

	synced, err := k.syncer.SyncJig(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("kernel: sync: %w", err)
	}

	if k.store != nil && synced.Location != location {
		if err := storage.SaveCreation(ctx, k.store, synced, nowUnix()); err != nil {
			return nil, fmt.Errorf("kernel: sync: persisting %s: %w", synced, err)
		}
	}

	return synced, nil
}
