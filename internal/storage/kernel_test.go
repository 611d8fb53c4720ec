package storage

import (
	"context"
	"os"
	"testing"

	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/lock"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "jigkernel-storage-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCacheGetMissing(t *testing.T) {
	store := newTestStorage(t)
	cache := NewCache(store)

	_, ok, err := cache.Get(context.Background(), "jig://abc_o1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected a miss for an unset key")
	}
}

func TestCacheSetAndGet(t *testing.T) {
	store := newTestStorage(t)
	cache := NewCache(store)
	ctx := context.Background()

	value := map[string]any{"kind": float64(1), "version": float64(0)}
	if err := cache.Set(ctx, "jig://abc_o1", value); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := cache.Get(ctx, "jig://abc_o1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit after Set")
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("unexpected type %T", got)
	}
	if m["kind"] != float64(1) {
		t.Errorf("kind = %v, want 1", m["kind"])
	}
}

func TestCacheImmutableKeyRejectsDifferentValue(t *testing.T) {
	store := newTestStorage(t)
	cache := NewCache(store)
	ctx := context.Background()

	if err := cache.Set(ctx, "jig://abc_o1", "first"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cache.Set(ctx, "jig://abc_o1", "second"); err == nil {
		t.Fatal("expected an error overwriting an immutable key with a different value")
	}
	// Re-setting the same value back is a harmless no-op.
	if err := cache.Set(ctx, "jig://abc_o1", "first"); err != nil {
		t.Errorf("re-setting the same value should not error: %v", err)
	}
}

func TestCacheMutableKeyAllowsOverwrite(t *testing.T) {
	store := newTestStorage(t)
	cache := NewCache(store)
	ctx := context.Background()

	if err := cache.Set(ctx, "peer-count", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cache.Set(ctx, "peer-count", 2); err != nil {
		t.Fatalf("Set should allow overwriting a non-immutable key: %v", err)
	}
	got, ok, err := cache.Get(ctx, "peer-count")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != float64(2) {
		t.Errorf("got %v, want 2", got)
	}
}

func TestSaveAndLoadCreation(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	pkh := make([]byte, 20)
	pkh[0] = 0xAB
	owner, err := lock.NewP2WPKHLock(pkh)
	if err != nil {
		t.Fatalf("NewP2WPKHLock: %v", err)
	}

	cls := creation.New(creation.KindCode)
	cls.Origin = "deadbeef_o0"
	cls.Location = "deadbeef_o0"
	cls.Src = "class Foo {}"
	if err := SaveCreation(ctx, store, cls, 1000); err != nil {
		t.Fatalf("SaveCreation(cls): %v", err)
	}

	jig := creation.New(creation.KindJig)
	jig.Origin = "deadbeef_o0"
	jig.Location = "cafebabe_o1"
	jig.Nonce = 2
	jig.Owner = owner
	jig.Satoshis = 546
	jig.Props = map[string]any{"count": float64(3)}
	jig.Cls = cls
	if err := SaveCreation(ctx, store, jig, 1001); err != nil {
		t.Fatalf("SaveCreation(jig): %v", err)
	}

	loader := NewLoader(store)
	loaded, err := loader.Load(ctx, "cafebabe_o1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Kind != creation.KindJig {
		t.Errorf("Kind = %v, want KindJig", loaded.Kind)
	}
	if loaded.Origin != "deadbeef_o0" {
		t.Errorf("Origin = %q", loaded.Origin)
	}
	if loaded.Nonce != 2 {
		t.Errorf("Nonce = %d, want 2", loaded.Nonce)
	}
	if loaded.Satoshis != 546 {
		t.Errorf("Satoshis = %d, want 546", loaded.Satoshis)
	}
	if loaded.Props["count"] != float64(3) {
		t.Errorf("Props[count] = %v, want 3", loaded.Props["count"])
	}
	if loaded.Owner == nil || loaded.Owner.String() != owner.String() {
		t.Errorf("Owner = %v, want %v", loaded.Owner, owner)
	}
	if loaded.Cls == nil || loaded.Cls.Location != "deadbeef_o0" {
		t.Fatal("expected class to resolve to the deployed code's location")
	}
	if loaded.Cls.Src != "class Foo {}" {
		t.Errorf("Cls.Src = %q", loaded.Cls.Src)
	}
}

func TestLoadMissingLocation(t *testing.T) {
	store := newTestStorage(t)
	loader := NewLoader(store)

	if _, err := loader.Load(context.Background(), "nonexistent_o0"); err == nil {
		t.Fatal("expected an error loading an unrecorded location")
	}
}

func TestSaveAndGetCommit(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := SaveCommit(ctx, store, "abc123", "myapp", CommitBuilding, []byte{0x01, 0x02}, "", 1000); err != nil {
		t.Fatalf("SaveCommit: %v", err)
	}

	rec, err := GetCommit(ctx, store, "abc123")
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a commit record")
	}
	if rec.State != CommitBuilding {
		t.Errorf("State = %q, want building", rec.State)
	}

	if err := SaveCommit(ctx, store, "abc123", "myapp", CommitPublished, []byte{0x01, 0x02}, "", 1001); err != nil {
		t.Fatalf("SaveCommit (update): %v", err)
	}
	rec, err = GetCommit(ctx, store, "abc123")
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if rec.State != CommitPublished {
		t.Errorf("State = %q, want published after update", rec.State)
	}
}

func TestGetCommitMissing(t *testing.T) {
	store := newTestStorage(t)
	rec, err := GetCommit(context.Background(), store, "nope")
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if rec != nil {
		t.Error("expected nil for an unrecorded txid")
	}
}
