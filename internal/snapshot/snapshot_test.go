package snapshot

import (
	"testing"

	"github.com/klingon-exchange/jigkernel/internal/creation"
)

func isCreationFn(v any) bool {
	_, ok := v.(*creation.Creation)
	return ok
}

func newDeployed(origin string) *creation.Creation {
	c := creation.New(creation.KindJig)
	c.Origin = origin
	c.Location = origin
	c.Nonce = 3
	c.Props["balance"] = 10.0
	return c
}

func TestBindingsOnlySnapshotRestoresBindingsNotProps(t *testing.T) {
	c := newDeployed("abc_o0")
	snap, err := Capture(c, true, false, isCreationFn)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	c.Location = "def_o1"
	c.Props["balance"] = 99.0

	Rollback(snap, "")
	if c.Location != "abc_o0" {
		t.Fatalf("expected location restored, got %s", c.Location)
	}
	if c.Props["balance"] != 99.0 {
		t.Fatalf("bindings-only rollback must not touch props, got %v", c.Props["balance"])
	}
}

func TestFullSnapshotRestoresProps(t *testing.T) {
	c := newDeployed("abc_o0")
	snap, err := Capture(c, false, false, isCreationFn)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	c.Props["balance"] = 0.0
	c.Props["new"] = "mutated"

	Rollback(snap, "")
	if c.Props["balance"] != 10.0 {
		t.Fatalf("expected balance restored to 10.0, got %v", c.Props["balance"])
	}
	if _, present := c.Props["new"]; present {
		t.Fatalf("expected props map fully replaced by restored snapshot")
	}
}

func TestFullSnapshotPropsAreIndependentCopies(t *testing.T) {
	c := newDeployed("abc_o0")
	snap, err := Capture(c, false, false, isCreationFn)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	c.Props["balance"] = 999.0
	if snap.Props["balance"] != 10.0 {
		t.Fatalf("snapshot props must be an independent copy, got %v", snap.Props["balance"])
	}
}

func TestRollbackWithReasonPoisonsFirstDeploy(t *testing.T) {
	c := creation.New(creation.KindJig)
	c.Origin = "record://r1_o0"
	c.Location = "record://r1_o0"

	snap, err := Capture(c, true, true, isCreationFn)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	Rollback(snap, "broadcast rejected")
	if c.Owner != nil || c.Satoshis != 0 {
		t.Fatalf("expected poisoned creation to be unbound")
	}
	if !creation.IsErrorLocation(c.Origin) || !creation.IsErrorLocation(c.Location) {
		t.Fatalf("expected error:// origin and location, got origin=%s location=%s", c.Origin, c.Location)
	}
}

func TestRollbackNeverTouchesNativeCode(t *testing.T) {
	c := creation.New(creation.KindCode)
	c.Origin = creation.NativeLocation("jig")
	c.Location = c.Origin
	c.Props["x"] = 1.0

	snap, err := Capture(c, false, false, isCreationFn)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	c.Props["x"] = 2.0
	Rollback(snap, "anything")
	if c.Props["x"] != 2.0 {
		t.Fatalf("expected native code to be left untouched by rollback, got %v", c.Props["x"])
	}
}
