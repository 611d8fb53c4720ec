package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/collab"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/lock"
)

// kernelSchema is the persistence layer backing spec.md's Cache and State
// collaborators. It is additive to initSchema's existing tables.
const kernelSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	immutable INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS creations (
	location TEXT PRIMARY KEY,
	kind INTEGER NOT NULL,
	origin TEXT NOT NULL,
	nonce INTEGER NOT NULL,
	owner_script BLOB,
	satoshis INTEGER NOT NULL,
	cls_location TEXT,
	props TEXT NOT NULL,
	src TEXT,
	query TEXT,
	content_hash TEXT,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS commits (
	txid TEXT PRIMARY KEY,
	app TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'building',
	rawtx BLOB,
	failure_reason TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_commits_state ON commits(state);
`

// Cache implements collab.Cache against the cache_entries table: the
// generic jig://, tx://, berry:// immutable key/value store
// internal/commit.CacheStates and internal/berry's content-addressed
// results both write into. Grounded on storage.go's own
// CREATE-TABLE-IF-NOT-EXISTS idiom, generalized from typed columns to a
// single JSON value column since a Cache has no fixed value shape.
type Cache struct {
	s *Storage
}

// NewCache returns a Cache backed by s.
func NewCache(s *Storage) *Cache {
	return &Cache{s: s}
}

// Get satisfies collab.Cache.
func (c *Cache) Get(ctx context.Context, key string) (any, bool, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var raw string
	err := c.s.db.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: cache get %s: %w", key, err)
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("storage: cache get %s: decoding value: %w", key, err)
	}
	return value, true, nil
}

// Set satisfies collab.Cache: re-setting an existing immutable key (spec.md
// §6's jig://, tx://, berry:// schemes) to a different value is rejected,
// matching collab.IsImmutableKey. Re-setting it to the identical value is a
// harmless no-op, since a replayed sync can legitimately re-derive and
// re-cache the same state.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: cache set %s: encoding value: %w", key, err)
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	immutable := collab.IsImmutableKey(key)
	if immutable {
		var existing string
		err := c.s.db.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("storage: cache set %s: %w", key, err)
		}
		if err == nil && existing != string(encoded) {
			return fmt.Errorf("storage: cache set %s: immutable key already holds a different value", key)
		}
		if err == nil {
			return nil
		}
	}

	_, err = c.s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, immutable) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, immutable = excluded.immutable
	`, key, string(encoded), boolToInt(immutable))
	if err != nil {
		return fmt.Errorf("storage: cache set %s: %w", key, err)
	}
	return nil
}

// Loader implements replay.Loader against the creations table: the
// full-fidelity bindings registry a Cache's generic State blob alone can't
// reconstruct (owner, satoshis, nonce, origin, and a jig's class pointer
// all live here, keyed by location, rather than in the opaque jig://
// values CacheStates writes). A caller's orchestration layer calls
// SaveCreation after every successful commit, replay, or sync step; Loader
// only reads what that layer has already recorded.
type Loader struct {
	s *Storage
}

// NewLoader returns a Loader backed by s.
func NewLoader(s *Storage) *Loader {
	return &Loader{s: s}
}

type creationRow struct {
	Kind        creation.Kind
	Origin      string
	Nonce       uint64
	OwnerScript []byte
	Satoshis    uint64
	ClsLocation sql.NullString
	Props       string
	Src         sql.NullString
	Query       sql.NullString
	ContentHash sql.NullString
}

func (l *Loader) fetchRow(ctx context.Context, location string) (*creationRow, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	row := l.s.db.QueryRowContext(ctx, `
		SELECT kind, origin, nonce, owner_script, satoshis, cls_location, props, src, query, content_hash
		FROM creations WHERE location = ?
	`, location)

	var r creationRow
	if err := row.Scan(&r.Kind, &r.Origin, &r.Nonce, &r.OwnerScript, &r.Satoshis, &r.ClsLocation, &r.Props, &r.Src, &r.Query, &r.ContentHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: loading %s: %w", location, err)
	}
	return &r, nil
}

// Load satisfies replay.Loader. A jig's class is resolved recursively
// through the same table; a class referencing itself as its own location
// (native code has no row here and is never looked up this way) would
// recurse forever, but a published class's cls_location always names a
// strictly earlier creation, never itself.
func (l *Loader) Load(ctx context.Context, location string) (*creation.Creation, error) {
	row, err := l.fetchRow(ctx, location)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("storage: no creation recorded at %s", location)
	}

	c := creation.New(row.Kind)
	c.Origin = row.Origin
	c.Location = location
	c.Nonce = row.Nonce
	c.Satoshis = row.Satoshis

	if len(row.OwnerScript) > 0 {
		owner, err := lock.ParseOwnerScript(row.OwnerScript)
		if err != nil {
			return nil, fmt.Errorf("storage: loading %s: parsing owner script: %w", location, err)
		}
		c.Owner = owner
	}

	if err := json.Unmarshal([]byte(row.Props), &c.Props); err != nil {
		return nil, fmt.Errorf("storage: loading %s: decoding props: %w", location, err)
	}
	if row.Src.Valid {
		c.Src = row.Src.String
	}
	if row.Query.Valid {
		c.Query = row.Query.String
	}
	if row.ContentHash.Valid {
		c.ContentHash = row.ContentHash.String
	}

	if row.ClsLocation.Valid && row.ClsLocation.String != "" {
		cls, err := l.Load(ctx, row.ClsLocation.String)
		if err != nil {
			return nil, fmt.Errorf("storage: loading %s: resolving class: %w", location, err)
		}
		c.Cls = cls
	}

	return c, nil
}

// SaveCreation persists one fully-bound creation's current state into the
// creations table, so a later Loader.Load can reconstruct it exactly. The
// caller runs this once per output/delete after a commit or replay
// finalizes locations (internal/commit.Commit.FinalizeLocations /
// internal/sync.Syncer's per-hop replay) — symmetrical with how
// internal/commit.CacheStates writes the lighter jig:// cache entry at the
// same point in the pipeline.
func SaveCreation(ctx context.Context, s *Storage, c *creation.Creation, updatedAt int64) error {
	c.RLock()
	props, err := json.Marshal(c.Props)
	kind, origin, location, nonce, satoshis, owner, src, query, contentHash, cls :=
		c.Kind, c.Origin, c.Location, c.Nonce, c.Satoshis, c.Owner, c.Src, c.Query, c.ContentHash, c.Cls
	c.RUnlock()
	if err != nil {
		return fmt.Errorf("storage: saving %s: encoding props: %w", location, err)
	}

	var ownerScript []byte
	if owner != nil {
		scriptable, ok := owner.(interface{ Script() ([]byte, error) })
		if !ok {
			return fmt.Errorf("storage: saving %s: owner %T has no Script()", location, owner)
		}
		ownerScript, err = scriptable.Script()
		if err != nil {
			return fmt.Errorf("storage: saving %s: rendering owner script: %w", location, err)
		}
	}

	var clsLocation string
	if cls != nil {
		clsLocation = cls.Location
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO creations (location, kind, origin, nonce, owner_script, satoshis, cls_location, props, src, query, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location) DO UPDATE SET
			kind = excluded.kind, origin = excluded.origin, nonce = excluded.nonce,
			owner_script = excluded.owner_script, satoshis = excluded.satoshis,
			cls_location = excluded.cls_location, props = excluded.props, src = excluded.src,
			query = excluded.query, content_hash = excluded.content_hash, updated_at = excluded.updated_at
	`, location, int(kind), origin, nonce, ownerScript, satoshis, nullIfEmpty(clsLocation), string(props), nullIfEmpty(src), nullIfEmpty(query), nullIfEmpty(contentHash), updatedAt)
	if err != nil {
		return fmt.Errorf("storage: saving %s: %w", location, err)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// CommitState tracks the lifecycle commits.state holds.
type CommitState string

const (
	CommitBuilding   CommitState = "building"
	CommitPublishing CommitState = "publishing"
	CommitPublished  CommitState = "published"
	CommitFailed     CommitState = "failed"
)

// SaveCommit records or updates one commit's lifecycle row.
func SaveCommit(ctx context.Context, s *Storage, txid, app string, state CommitState, rawtx []byte, failureReason string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commits (txid, app, state, rawtx, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txid) DO UPDATE SET
			state = excluded.state, rawtx = excluded.rawtx,
			failure_reason = excluded.failure_reason, updated_at = excluded.updated_at
	`, txid, app, string(state), rawtx, nullIfEmpty(failureReason), now, now)
	if err != nil {
		return fmt.Errorf("storage: saving commit %s: %w", txid, err)
	}
	return nil
}

// CommitRecord is one row of the commits table.
type CommitRecord struct {
	TxID          string
	App           string
	State         CommitState
	RawTx         []byte
	FailureReason string
	CreatedAt     int64
	UpdatedAt     int64
}

// GetCommit looks up one commit by txid. Returns nil, nil if not found.
func GetCommit(ctx context.Context, s *Storage, txid string) (*CommitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r CommitRecord
	var state string
	var failureReason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT txid, app, state, rawtx, failure_reason, created_at, updated_at FROM commits WHERE txid = ?
	`, txid).Scan(&r.TxID, &r.App, &state, &r.RawTx, &failureReason, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: loading commit %s: %w", txid, err)
	}
	r.State = CommitState(state)
	r.FailureReason = failureReason.String
	return &r, nil
}
