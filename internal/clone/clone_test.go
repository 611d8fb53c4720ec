package clone

import (
	"testing"

	"github.com/klingon-exchange/jigkernel/internal/codec"
)

type fakeCreation struct{ id string }

func isFakeCreation(v any) bool {
	_, ok := v.(*fakeCreation)
	return ok
}

func TestDeepCloneIndependentCopy(t *testing.T) {
	src := codec.NewObject()
	src.Set("n", 1.0)
	inner := []any{"a", "b"}
	src.Set("list", inner)

	out, err := DeepClone(src, nil)
	if err != nil {
		t.Fatalf("DeepClone: %v", err)
	}
	dst := out.(*codec.Object)

	dstList, _ := dst.Get("list")
	dstList.([]any)[0] = "mutated"

	if inner[0] != "a" {
		t.Fatalf("expected source list untouched, got %v", inner)
	}
}

func TestDeepCloneSharedSubobjectStaysShared(t *testing.T) {
	shared := codec.NewObject()
	shared.Set("v", 1.0)

	root := codec.NewObject()
	root.Set("a", shared)
	root.Set("b", shared)

	out, err := DeepClone(root, nil)
	if err != nil {
		t.Fatalf("DeepClone: %v", err)
	}
	dst := out.(*codec.Object)
	a, _ := dst.Get("a")
	b, _ := dst.Get("b")
	if a.(*codec.Object) != b.(*codec.Object) {
		t.Fatalf("expected a and b to remain the same object after clone")
	}
}

func TestDeepCloneCyclicObject(t *testing.T) {
	cyc := codec.NewObject()
	cyc.Set("self", cyc)

	out, err := DeepClone(cyc, nil)
	if err != nil {
		t.Fatalf("DeepClone: %v", err)
	}
	dst := out.(*codec.Object)
	self, _ := dst.Get("self")
	if self.(*codec.Object) != dst {
		t.Fatalf("expected cyclic self-reference to resolve to the clone itself")
	}
	if dst == cyc {
		t.Fatalf("expected a distinct clone, not the original")
	}
}

func TestDeepClonePassesCreationsThrough(t *testing.T) {
	c := &fakeCreation{id: "abc"}
	root := codec.NewObject()
	root.Set("owner", c)

	out, err := DeepClone(root, isFakeCreation)
	if err != nil {
		t.Fatalf("DeepClone: %v", err)
	}
	dst := out.(*codec.Object)
	owner, _ := dst.Get("owner")
	if owner.(*fakeCreation) != c {
		t.Fatalf("expected creation reference to pass through unchanged")
	}
}

func TestDeepVisitCountsEachValueOnce(t *testing.T) {
	shared := codec.NewObject()
	shared.Set("v", 1.0)

	root := codec.NewObject()
	root.Set("a", shared)
	root.Set("b", shared)

	count := 0
	err := DeepVisit(root, nil, func(v any) (bool, error) {
		count++
		return false, nil
	})
	if err != nil {
		t.Fatalf("DeepVisit: %v", err)
	}
	// root, shared, and the scalar 1.0 each count once; the second arrival
	// at shared via "b" must not re-visit it or its child.
	if count != 3 {
		t.Fatalf("expected 3 visits, got %d", count)
	}
}

func TestDeepReplaceSubstitutesMatchedValues(t *testing.T) {
	root := codec.NewObject()
	root.Set("n", 1.0)
	root.Set("list", []any{1.0, 2.0, 3.0})

	out, err := DeepReplace(root, nil, func(v any) (any, bool) {
		if f, ok := v.(float64); ok && f == 2.0 {
			return 99.0, true
		}
		return nil, false
	})
	if err != nil {
		t.Fatalf("DeepReplace: %v", err)
	}
	dst := out.(*codec.Object)
	list, _ := dst.Get("list")
	arr := list.([]any)
	if arr[1] != 99.0 {
		t.Fatalf("expected replacement at index 1, got %v", arr)
	}
	if arr[0] != 1.0 || arr[2] != 3.0 {
		t.Fatalf("expected untouched neighbors, got %v", arr)
	}
}
