// Package kernel wires the commit/replay/sync/collab machinery the rest of
// this module ships as narrow, independently-testable packages into the
// handful of operations an embedder actually calls: deploy a class,
// instantiate and call jigs against it, publish the result, and verify or
// catch up someone else's.
//
// Grounded on internal/swap/coordinator.go's shape: one top-level struct
// gluing together a dozen narrower packages (script building, secret
// monitoring, chain backends, storage) behind a handful of public methods
// (InitiateSwap, RespondToSwap, CompleteSwap) that a daemon's RPC layer
// calls directly. This package plays the same role for deploy/new/call/
// commit/replay/sync instead of a swap's init/respond/complete/refund.
package kernel

import (
	"fmt"
	"sync"

	"github.com/klingon-exchange/jigkernel/internal/dynamic"
)

// ClassFactory builds the VTable for one native class. Deploying a class
// records className as the creation's Src; upgrading re-invokes the same
// (or a newer-registered) factory for a new VTable version.
//
// There is no scripting runtime in this module's dependency graph (no
// goja/otto/v8go-equivalent appears anywhere in the corpus this kernel was
// grown from) — internal/dynamic's Handle/VTable/MethodFunc machinery is
// built to host Go-native method closures, not to interpret arbitrary
// source text. Accordingly a DEPLOY/UPGRADE action's src string here names
// a class registered ahead of time with Register, the way a Go plugin
// registry works, rather than carrying executable source to be parsed at
// deploy time. Replay still recomputes and compares hashes byte-for-byte;
// it just resolves "what code does src identify" through this registry
// instead of through an interpreter.
type ClassFactory func() *dynamic.VTable

// Registry maps a class name to the factory that builds its VTable.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ClassFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ClassFactory)}
}

// Register installs a class under name, overwriting any previous factory
// registered under the same name (an in-process "upgrade the binary"
// equivalent of publishing a new class version).
func (r *Registry) Register(name string, f ClassFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build invokes the factory registered for name.
func (r *Registry) Build(name string) (*dynamic.VTable, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kernel: no class registered under name %q", name)
	}
	return f(), nil
}

// Names returns every registered class name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}
