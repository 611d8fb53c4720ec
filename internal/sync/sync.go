// Package sync implements spec.md §4.11: given a creation, resolve it to
// its latest on-chain state by following the spend chain forward one hop at
// a time, replaying each spending transaction with the creation pinned as
// the jig being synced.
//
// Grounded on internal/sync/ordersync.go's periodic re-poll/merge shape
// (peer connects -> check cooldown -> sync -> record last-synced time),
// generalized from gossiping an order book toward a peer to walking a
// single jig's own spend chain toward the chain tip, and on
// swap/monitor.go/swap/secret_monitor.go's ticker-driven blockchain-watch
// loops for the record:// wait step.
package sync

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/collab"
	"github.com/klingon-exchange/jigkernel/internal/commit"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/replay"
	"github.com/klingon-exchange/jigkernel/pkg/logging"
)

// RecordWaiter resolves a still-pending record:// location to the creation
// the corresponding commit eventually publishes. Decoupled the same way
// replay.Loader is decoupled from internal/backend: a caller assembling a
// multi-action transaction is expected to hold the live *record.Record and
// can satisfy this without internal/sync knowing anything about records.
type RecordWaiter interface {
	Wait(ctx context.Context, location string) (*creation.Creation, error)
}

// Syncer walks one creation's spend chain to the tip.
type Syncer struct {
	Chain  collab.Blockchain
	Loader replay.Loader
	Trust  replay.TrustList
	Exec   replay.Executor
	Cache  collab.Cache
	Waiter RecordWaiter

	log *logging.Logger
}

// New builds a Syncer. Waiter and Cache may be nil: a Syncer with no Waiter
// errors out on a record:// location rather than blocking forever, and a
// Syncer with no Cache simply skips CacheStates after each replay.
func New(chain collab.Blockchain, loader replay.Loader, trust replay.TrustList, exec replay.Executor, cache collab.Cache, waiter RecordWaiter) *Syncer {
	return &Syncer{
		Chain:  chain,
		Loader: loader,
		Trust:  trust,
		Exec:   exec,
		Cache:  cache,
		Waiter: waiter,
		log:    logging.GetDefault().Component("sync"),
	}
}

// SyncJig resolves c to its latest state (spec.md §4.11 steps a-b). The
// returned creation may be c itself, unchanged, if it has never been spent.
func (s *Syncer) SyncJig(ctx context.Context, c *creation.Creation) (*creation.Creation, error) {
	current := c

	if creation.IsRecordLocation(current.Location) {
		if s.Waiter == nil {
			return nil, fmt.Errorf("sync: %s is still pending publication and no RecordWaiter is configured", current.Location)
		}
		published, err := s.Waiter.Wait(ctx, current.Location)
		if err != nil {
			return nil, fmt.Errorf("sync: waiting for %s to publish: %w", current.Location, err)
		}
		current = published
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if creation.IsNativeLocation(current.Location) || creation.IsErrorLocation(current.Location) {
			return current, nil
		}

		parsed, err := creation.ParseTxLocation(current.Location)
		if err != nil {
			return nil, fmt.Errorf("sync: %w", err)
		}
		if parsed.IsDelete {
			// A delete slot was never a spendable output; current was
			// destroyed by whichever transaction produced this location and
			// there is nothing further to follow.
			return current, nil
		}

		nextTxid, err := s.Chain.Spends(ctx, parsed.TxID, parsed.Index)
		if err != nil {
			return nil, fmt.Errorf("sync: checking spend of %s: %w", current.Location, err)
		}
		if nextTxid == "" {
			return current, nil
		}

		if err := s.advance(ctx, current, nextTxid); err != nil {
			return nil, err
		}
		// advance replays with current pinned as jigToSync, so the replayed
		// record mutates current's own bindings (same pointer) in place and
		// FinalizeLocations has already rewritten current.Location to
		// wherever this hop landed it — out or del.
	}
}

// advance replays the transaction that spent current, with current pinned
// as the jig being synced so the replay updates current's bindings in
// place rather than handing back a detached copy.
func (s *Syncer) advance(ctx context.Context, current *creation.Creation, nextTxid string) error {
	rawtx, err := s.Chain.Fetch(ctx, nextTxid)
	if err != nil {
		return fmt.Errorf("sync: fetching %s: %w", nextTxid, err)
	}
	meta, err := commit.ExtractMetadata(rawtx)
	if err != nil {
		return fmt.Errorf("sync: extracting metadata from %s: %w", nextTxid, err)
	}

	s.log.Debug("following spend chain", "from", current.Location, "txid", nextTxid)

	_, err = replay.Replay(ctx, rawtx, meta, s.Trust, s.Loader, s.Cache, s.Exec, replay.Options{
		TxID:      nextTxid,
		Published: true,
		JigToSync: current,
	})
	if err != nil {
		return fmt.Errorf("sync: replaying %s: %w", nextTxid, err)
	}
	return nil
}

// SyncOrigins syncs every distinct origin among creations in one pass,
// deduplicating repeats of the same origin (spec.md §4.11's "one sync per
// origin, dedup" for recursing into inner creations).
func (s *Syncer) SyncOrigins(ctx context.Context, creations []*creation.Creation) (map[string]*creation.Creation, error) {
	seen := make(map[string]*creation.Creation, len(creations))
	for _, c := range creations {
		if _, ok := seen[c.Origin]; ok {
			continue
		}
		synced, err := s.SyncJig(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("sync: origin %s: %w", c.Origin, err)
		}
		seen[c.Origin] = synced
	}
	return seen, nil
}
