package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/collab"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/dynamic"
	"github.com/klingon-exchange/jigkernel/internal/membrane"
	"github.com/klingon-exchange/jigkernel/internal/record"
	"github.com/klingon-exchange/jigkernel/internal/replay"
	"github.com/klingon-exchange/jigkernel/internal/storage"
	"github.com/klingon-exchange/jigkernel/internal/sync"
	"github.com/klingon-exchange/jigkernel/pkg/logging"
)

// Config collects the collaborators and settings one Kernel needs. Chain,
// Owner, Purse, Cache, and Loader are the five external collaborators
// spec.md §6 calls for; Trust and Store are this module's own additions
// (internal/config.Kernel and internal/storage.Storage respectively).
type Config struct {
	App      string
	Vrun     int
	Registry *Registry

	Chain  collab.Blockchain
	Owner  collab.Owner
	Purse  collab.Purse
	Cache  collab.Cache
	Loader replay.Loader
	Trust  replay.TrustList
	Store  *storage.Storage
	Waiter sync.RecordWaiter

	Queue *collab.Queue
}

// Kernel is the orchestration point every deploy/new/call/commit/replay/
// sync operation runs through. One Kernel instance backs one node.
type Kernel struct {
	app      string
	vrun     int
	registry *Registry

	chain  collab.Blockchain
	owner  collab.Owner
	purse  collab.Purse
	cache  collab.Cache
	loader replay.Loader
	trust  replay.TrustList
	store  *storage.Storage
	queue  *collab.Queue

	syncer *sync.Syncer
	arena  *membrane.Arena

	mu          sync.Mutex
	sessions    map[string]*record.Record
	handles     map[*creation.Creation]dynamic.Handle
	membraneIDs map[*creation.Creation]membrane.ID

	log *logging.Logger
}

// New builds a Kernel from cfg. Queue may be nil (no serialization point --
// safe for a single-writer embedder, required once more than one goroutine
// shares the same Owner/Purse).
func New(cfg Config) *Kernel {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	k := &Kernel{
		app:         cfg.App,
		vrun:        cfg.Vrun,
		registry:    cfg.Registry,
		chain:       cfg.Chain,
		owner:       cfg.Owner,
		purse:       cfg.Purse,
		cache:       cfg.Cache,
		loader:      cfg.Loader,
		trust:       cfg.Trust,
		store:       cfg.Store,
		queue:       cfg.Queue,
		arena:       membrane.NewArena(),
		sessions:    make(map[string]*record.Record),
		handles:     make(map[*creation.Creation]dynamic.Handle),
		membraneIDs: make(map[*creation.Creation]membrane.ID),
		log:         logging.GetDefault().Component("kernel"),
	}
	k.syncer = sync.New(cfg.Chain, cfg.Loader, cfg.Trust, k.Executor, cfg.Cache, cfg.Waiter)
	return k
}

// Registry exposes the kernel's class registry so a cmd package can
// register native classes before serving requests.
func (k *Kernel) Registry() *Registry { return k.registry }

// OpenSession starts a fresh, empty record and returns an opaque id a
// caller threads through subsequent Deploy/New/Call/Commit calls, mirroring
// spec.md §5's begin/end scoping at the orchestration layer rather than
// inside record.Record itself (record.Record's own Begin/End nests calls
// within one already-open record; a session is what holds that record
// across several separate RPC round-trips before Commit publishes it).
func (k *Kernel) OpenSession() string {
	id := uuid.NewString()
	k.mu.Lock()
	k.sessions[id] = record.New()
	k.mu.Unlock()
	return id
}

// session looks up a session's record, or errors if sessionID is unknown.
func (k *Kernel) session(sessionID string) (*record.Record, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, ok := k.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("kernel: unknown session %q", sessionID)
	}
	return rec, nil
}

// CloseSession discards a session's record without publishing it.
func (k *Kernel) CloseSession(sessionID string) {
	k.mu.Lock()
	delete(k.sessions, sessionID)
	k.mu.Unlock()
}

func (k *Kernel) setHandle(c *creation.Creation, h dynamic.Handle) {
	k.mu.Lock()
	k.handles[c] = h
	k.mu.Unlock()
}

// handleFor resolves a code creation's dynamic.Handle, lazily rebuilding it
// from the registry (keyed by the creation's recorded Src) the first time a
// creation loaded from storage or replay is touched — handles are process-
// local (internal/dynamic keeps no persistence of its own), so a class
// deployed in an earlier process run has to be re-registered against the
// same native factory before any NEW/CALL against it can resolve a method.
func (k *Kernel) handleFor(c *creation.Creation) (dynamic.Handle, error) {
	k.mu.Lock()
	h, ok := k.handles[c]
	k.mu.Unlock()
	if ok {
		return h, nil
	}
	if c.Kind != creation.KindCode {
		return 0, fmt.Errorf("kernel: %s is not a class", c)
	}
	vt, err := k.registry.Build(c.Src)
	if err != nil {
		return 0, err
	}
	h = dynamic.Allocate()
	if _, err := dynamic.Upgrade(h, vt); err != nil {
		dynamic.Release(h)
		return 0, err
	}
	k.setHandle(c, h)
	return h, nil
}

func (k *Kernel) membraneIDFor(c *creation.Creation) (membrane.ID, error) {
	k.mu.Lock()
	id, ok := k.membraneIDs[c]
	k.mu.Unlock()
	if ok {
		return id, nil
	}
	var handle dynamic.Handle
	if c.Cls != nil {
		h, err := k.handleFor(c.Cls)
		if err != nil {
			return 0, err
		}
		handle = h
	}
	id = k.arena.Wrap(c, membrane.DefaultJigRules, handle)
	k.mu.Lock()
	k.membraneIDs[c] = id
	k.mu.Unlock()
	return id, nil
}

func isCreationValue(v any) bool {
	_, ok := v.(*creation.Creation)
	return ok
}

func ownerOfValue(v any) *creation.Creation {
	if c, ok := v.(*creation.Creation); ok {
		return c
	}
	return nil
}

// Deploy deploys one or more native classes in a single top-level DEPLOY
// action, appending the resulting Code creations to sessionID's record.
func (k *Kernel) Deploy(ctx context.Context, sessionID string, pairs []action.DeployPair) ([]*creation.Creation, error) {
	rec, err := k.session(sessionID)
	if err != nil {
		return nil, err
	}
	creations, err := k.execDeploy(rec, pairs)
	if err != nil {
		return nil, err
	}
	if err := rec.Action(action.Deploy(pairs)); err != nil {
		return nil, err
	}
	return creations, nil
}

// New instantiates class (already created this session, or loaded/synced
// from an earlier commit) with args, appending a NEW action.
func (k *Kernel) New(ctx context.Context, sessionID string, class *creation.Creation, args []any) (*creation.Creation, error) {
	rec, err := k.session(sessionID)
	if err != nil {
		return nil, err
	}
	jig, err := k.execNew(ctx, rec, class, args)
	if err != nil {
		return nil, err
	}
	if err := rec.Action(action.New(class, args)); err != nil {
		return nil, err
	}
	return jig, nil
}

// Call invokes method on target with args, appending a CALL action.
func (k *Kernel) Call(ctx context.Context, sessionID string, target *creation.Creation, method string, args []any) (any, error) {
	rec, err := k.session(sessionID)
	if err != nil {
		return nil, err
	}
	result, err := k.execCall(ctx, rec, target, method, args)
	if err != nil {
		return nil, err
	}
	if err := rec.Action(action.Call(target, method, args)); err != nil {
		return nil, err
	}
	return result, nil
}
