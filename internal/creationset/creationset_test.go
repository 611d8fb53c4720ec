package creationset

import (
	"testing"

	"github.com/klingon-exchange/jigkernel/internal/creation"
)

func newC(origin string) *creation.Creation {
	c := creation.New(creation.KindJig)
	c.Origin = origin
	return c
}

func TestAddPreservesInsertionOrder(t *testing.T) {
	s := New()
	a := newC("a")
	b := newC("b")
	c := newC("c")
	for _, x := range []*creation.Creation{a, b, c} {
		if err := s.Add(x); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	got := s.List()
	if len(got) != 3 || got[0] != a || got[1] != b || got[2] != c {
		t.Fatalf("insertion order not preserved: %#v", got)
	}
}

func TestAddSamePointerIsNoOp(t *testing.T) {
	s := New()
	a := newC("a")
	if err := s.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(a); err != nil {
		t.Fatalf("re-Add of same pointer should succeed, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1, got %d", s.Len())
	}
}

func TestAddConflictingOriginIsInconsistentWorldview(t *testing.T) {
	s := New()
	a := newC("a")
	a2 := newC("a")
	if err := s.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(a2); err != ErrInconsistentWorldview {
		t.Fatalf("expected ErrInconsistentWorldview, got %v", err)
	}
}

func TestMergeStopsAtFirstInconsistency(t *testing.T) {
	s := New()
	a := newC("a")
	if err := s.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}

	other := New()
	b := newC("b")
	aConflict := newC("a")
	if err := other.Add(b); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := other.Add(aConflict); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.Merge(other); err != ErrInconsistentWorldview {
		t.Fatalf("expected ErrInconsistentWorldview, got %v", err)
	}
	// b merged before the conflicting a was hit.
	if _, ok := s.Get("b"); !ok {
		t.Fatalf("expected b to have been merged before the conflict")
	}
}
