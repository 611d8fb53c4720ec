package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultKernelUntrusted(t *testing.T) {
	k := DefaultKernel()
	if k.Trusted("any-txid") {
		t.Error("a fresh Kernel should trust nothing")
	}
	if k.AppString == "" {
		t.Error("expected a non-empty default app string")
	}
	if k.Timeouts.Commit == 0 || k.Timeouts.Replay == 0 || k.Timeouts.Sync == 0 {
		t.Error("expected non-zero default timeouts")
	}
}

func TestAddTrusted(t *testing.T) {
	k := DefaultKernel()
	k.AddTrusted("abc123")
	if !k.Trusted("abc123") {
		t.Error("expected abc123 to be trusted after AddTrusted")
	}
	if k.Trusted("def456") {
		t.Error("def456 was never trusted")
	}

	// Adding the same txid twice must not duplicate it.
	k.AddTrusted("abc123")
	count := 0
	for _, id := range k.TrustedTxIDs {
		if id == "abc123" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("abc123 appears %d times in TrustedTxIDs, want 1", count)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	k, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k.AppString != DefaultKernel().AppString {
		t.Errorf("expected default app string, got %q", k.AppString)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.yaml")

	k := DefaultKernel()
	k.AppString = "myapp"
	k.AddTrusted("deadbeef")
	k.Timeouts.Commit = 5 * time.Second

	if err := k.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.AppString != "myapp" {
		t.Errorf("AppString = %q, want myapp", loaded.AppString)
	}
	if !loaded.Trusted("deadbeef") {
		t.Error("expected deadbeef to be trusted after round trip")
	}
	if loaded.Timeouts.Commit != 5*time.Second {
		t.Errorf("Timeouts.Commit = %v, want 5s", loaded.Timeouts.Commit)
	}
}
