package record

import (
	"context"
	"testing"

	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/lock"
)

func boundJig(t *testing.T) *creation.Creation {
	t.Helper()
	c := creation.New(creation.KindJig)
	pk, err := lock.NewP2WPKHLock(make([]byte, 20))
	if err != nil {
		t.Fatalf("NewP2WPKHLock: %v", err)
	}
	c.Owner = pk
	c.Satoshis = 600
	return c
}

func TestCreateRejectsNativeCode(t *testing.T) {
	r := New()
	native := creation.New(creation.KindCode)
	native.Origin = creation.NativeLocation("jig")
	if err := r.Create(native); err == nil {
		t.Fatalf("expected error creating native code")
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	r := New()
	c := creation.New(creation.KindJig)
	if err := r.Create(c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Create(c); err != nil {
		t.Fatalf("second Create should be a no-op, got %v", err)
	}
	if len(r.Creates()) != 1 {
		t.Fatalf("expected exactly one create, got %d", len(r.Creates()))
	}
}

func TestUpdateRequiresBoundState(t *testing.T) {
	r := New()
	c := creation.New(creation.KindJig) // owner nil, satoshis 0: destroyed
	if err := r.Update(c); err == nil {
		t.Fatalf("expected error updating an unbound creation")
	}
}

func TestUpdateAuthorizesCallers(t *testing.T) {
	r := New()
	caller := boundJig(t)
	target := boundJig(t)

	r.PushCall(caller)
	if err := r.Update(target); err != nil {
		t.Fatalf("Update: %v", err)
	}
	r.PopCall()

	found := false
	for _, c := range r.Auths() {
		if c == caller {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected caller to be authorized after updating target")
	}
}

func TestAuthCallersSkipsCreatesAndTarget(t *testing.T) {
	r := New()
	created := boundJig(t)
	if err := r.Create(created); err != nil {
		t.Fatalf("Create: %v", err)
	}
	target := boundJig(t)

	r.PushCall(created)
	if err := r.Update(target); err != nil {
		t.Fatalf("Update: %v", err)
	}
	r.PopCall()

	for _, c := range r.Auths() {
		if c == created {
			t.Fatalf("a just-created caller must never be auth'd")
		}
	}
}

func TestDerivedSetsAfterActionAndLocationAssignment(t *testing.T) {
	r := New()
	created := creation.New(creation.KindJig)
	if err := r.Create(created); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.Action(action.Deploy([]action.DeployPair{{Src: "class A{}", Props: map[string]any{}}})); err != nil {
		t.Fatalf("Action: %v", err)
	}

	outputs := r.Outputs()
	if len(outputs) != 1 || outputs[0] != created {
		t.Fatalf("expected created jig in outputs, got %#v", outputs)
	}
	if created.Location == "" {
		t.Fatalf("expected location to be assigned")
	}
	if created.Origin != created.Location {
		t.Fatalf("expected a freshly undeployed creation's origin to match its new location")
	}
}

func TestActionRejectsNonEmptyStack(t *testing.T) {
	r := New()
	r.PushCall(creation.New(creation.KindJig))
	err := r.Action(action.Deploy(nil))
	if err == nil {
		t.Fatalf("expected error appending an action mid-call")
	}
}

func TestEmitCallOnlyRecordsTopLevelAction(t *testing.T) {
	r := New()
	receiver := boundJig(t)

	r.PushCall(receiver)
	r.EmitCall(receiver, "inner", nil, false) // nested: stack non-empty
	r.PopCall()
	if len(r.Actions()) != 0 {
		t.Fatalf("nested EmitCall must not append an action, got %d", len(r.Actions()))
	}

	r.PushCall(receiver)
	r.PopCall()
	r.EmitCall(receiver, "outer", nil, false) // top-level: stack empty
	if len(r.Actions()) != 1 {
		t.Fatalf("expected exactly one top-level action, got %d", len(r.Actions()))
	}
}

func TestEmitCallIgnoresPassthrough(t *testing.T) {
	r := New()
	receiver := boundJig(t)
	r.EmitCall(receiver, "ctor", nil, true)
	if len(r.Actions()) != 0 {
		t.Fatalf("passthrough calls must never append an action")
	}
}

func TestLinkRejectsCrossTransactionWrites(t *testing.T) {
	r := New()
	c := creation.New(creation.KindJig)
	if err := r.Link(c, false, "commit123"); err == nil {
		t.Fatalf("expected error linking a write across an open upstream transaction")
	}
}

func TestLinkAllowsReadsAndTracksUpstream(t *testing.T) {
	r := New()
	c := creation.New(creation.KindJig)
	if err := r.Link(c, true, "commit123"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if !r.upstream["commit123"] {
		t.Fatalf("expected upstream commit to be tracked")
	}
	found := false
	for _, x := range r.Reads() {
		if x == c {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected linked read-only creation in the reads set")
	}
}

func TestCaptureRollsBackOnError(t *testing.T) {
	r := New()
	c := boundJig(t)
	isCreationFn := func(v any) bool { _, ok := v.(*creation.Creation); return ok }
	if err := r.EnsureSnapshot(c, false, false, isCreationFn); err != nil {
		t.Fatalf("EnsureSnapshot: %v", err)
	}

	errBoom := errBoomT{}
	err := r.Capture(context.Background(), func() error {
		c.Props["x"] = 1.0
		return errBoom
	})
	if err == nil {
		t.Fatalf("expected Capture to propagate the inner error")
	}
	if _, present := c.Props["x"]; present {
		t.Fatalf("expected rollback to discard the mutation made during Capture")
	}
}

type errBoomT struct{}

func (errBoomT) Error() string { return "boom" }
