package kernel

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/dynamic"
	"github.com/klingon-exchange/jigkernel/internal/membrane"
	"github.com/klingon-exchange/jigkernel/internal/record"
)

// Executor satisfies replay.Executor (and, via internal/sync.New, doubles
// as the walk-forward executor internal/sync drives). It is also the same
// dispatch path Kernel's own live Deploy/New/Call methods use, so a class
// behaves identically whether it is being executed live or recomputed
// during replay/sync — the entire point of the "deterministic execution"
// half of this kernel.
//
// Per replay.Executor's contract, Executor never appends the top-level
// action itself: its caller (replay.Replay, internal/sync, or Kernel's own
// Deploy/New/Call) does that exactly once after Executor returns.
func (k *Kernel) Executor(ctx context.Context, rec *record.Record, masterList []*creation.Creation, a action.Action) error {
	switch a.Op {
	case action.OpDeploy:
		_, err := k.execDeploy(rec, a.Deploys)
		return err
	case action.OpUpgrade:
		return k.execUpgrade(rec, a.Target, a.Src, a.Props)
	case action.OpNew:
		_, err := k.execNew(ctx, rec, a.Class, a.Args)
		return err
	case action.OpCall:
		_, err := k.execCall(ctx, rec, a.CallTarget, a.Method, a.CallArgs)
		return err
	default:
		return fmt.Errorf("kernel: unknown action op %q", a.Op)
	}
}

// execDeploy builds one fresh Code creation per (src, props) pair, each
// backed by the registry's VTable for src, and records them as creates.
func (k *Kernel) execDeploy(rec *record.Record, pairs []action.DeployPair) ([]*creation.Creation, error) {
	out := make([]*creation.Creation, 0, len(pairs))
	for _, pair := range pairs {
		vt, err := k.registry.Build(pair.Src)
		if err != nil {
			return nil, err
		}
		h := dynamic.Allocate()
		if _, err := dynamic.Upgrade(h, vt); err != nil {
			dynamic.Release(h)
			return nil, err
		}
		c := creation.New(creation.KindCode)
		c.Src = pair.Src
		c.Props = pair.Props
		if err := rec.Create(c); err != nil {
			dynamic.Release(h)
			return nil, err
		}
		k.setHandle(c, h)
		out = append(out, c)
	}
	return out, nil
}

// execUpgrade installs a new VTable version for target's existing handle.
func (k *Kernel) execUpgrade(rec *record.Record, target *creation.Creation, src string, props map[string]any) error {
	h, err := k.handleFor(target)
	if err != nil {
		return err
	}
	vt, err := k.registry.Build(src)
	if err != nil {
		return err
	}
	if _, err := dynamic.Upgrade(h, vt); err != nil {
		return err
	}
	target.Lock()
	target.Src = src
	target.Props = props
	target.Unlock()
	return rec.Update(target)
}

// execNew instantiates class, running its "init" method (if registered)
// admin-style (no membrane crossing — a constructor always runs with full
// access to the instance it is initializing).
func (k *Kernel) execNew(ctx context.Context, rec *record.Record, class *creation.Creation, args []any) (*creation.Creation, error) {
	if err := rec.Read(class); err != nil {
		return nil, err
	}
	handle, err := k.handleFor(class)
	if err != nil {
		return nil, err
	}
	jig := creation.New(creation.KindJig)
	jig.Cls = class
	if err := rec.Create(jig); err != nil {
		return nil, err
	}
	id := k.arena.Wrap(jig, membrane.DefaultJigRules, handle)
	k.mu.Lock()
	k.membraneIDs[jig] = id
	k.mu.Unlock()

	if method, ok := dynamic.ResolveMethod(handle, dynamic.CurrentVersion(handle), "init"); ok {
		rec.PushCall(jig)
		_, callErr := method.Fn(ctx, jig, args)
		rec.PopCall()
		if callErr != nil {
			return nil, fmt.Errorf("kernel: init: %w", callErr)
		}
	}
	return jig, nil
}

// execCall dispatches method against target through the membrane, exactly
// the same call path a cross-creation method crossing uses internally
// (internal/membrane.Arena.Call) -- driven passthrough so the caller
// appends the single top-level CALL action itself, per replay.Executor's
// contract.
func (k *Kernel) execCall(ctx context.Context, rec *record.Record, target *creation.Creation, method string, args []any) (any, error) {
	if err := rec.Read(target); err != nil {
		return nil, err
	}
	id, err := k.membraneIDFor(target)
	if err != nil {
		return nil, err
	}
	var atVersion int
	if target.Cls != nil {
		h, err := k.handleFor(target.Cls)
		if err != nil {
			return nil, err
		}
		atVersion = dynamic.CurrentVersion(h)
	}
	site := membrane.CallSite{Method: method, AtVersion: atVersion, Args: args, Passthrough: true}
	return k.arena.Call(ctx, id, nil, site, rec, isCreationValue, ownerOfValue, nil)
}
