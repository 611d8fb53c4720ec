// Package config loads a jigkerneld deployment's operating parameters: the
// trust list for executing replayed DEPLOY/UPGRADE source, the app string
// the daemon stamps on commits it publishes itself, and the per-operation
// timeouts handed to internal/kctx.Timeout. These are deployment choices,
// distinct from the wire-format constants internal/commit fixes for every
// deployment (OPReturnPrefix, ProtocolVersion, DustSatoshis).
//
// Grounded on config/config.go's struct-of-named-maps, Default*() builder
// idiom -- same shape (a Default constructor, a loader, getter-style
// helpers), now holding kernel operating parameters instead of coin/fee
// tables. File loading uses gopkg.in/yaml.v3, matching the teacher's own
// (declared but until now unused for parsing) yaml dependency, and the
// pattern node/config.go already established for the P2P layer's own
// config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeoutConfig holds the deadline each kernel operation gets, fed to
// internal/kctx.NewTimeout.
type TimeoutConfig struct {
	Commit time.Duration `yaml:"commit"`
	Replay time.Duration `yaml:"replay"`
	Sync   time.Duration `yaml:"sync"`
}

// DefaultTimeoutConfig returns conservative defaults: long enough for a
// cold backend fetch and a non-trivial replay, short enough that a stuck
// collaborator doesn't wedge the daemon indefinitely.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Commit: 30 * time.Second,
		Replay: 15 * time.Second,
		Sync:   60 * time.Second,
	}
}

// Kernel holds one daemon's operating parameters (spec.md's ambient
// "configuration" concern).
type Kernel struct {
	// AppString is stamped into the OP_RETURN of commits this daemon
	// publishes itself (spec.md's "app string, user-defined, UTF-8").
	// Replaying a commit published under a different app string still
	// works; this only governs what this daemon writes.
	AppString string `yaml:"app_string"`

	// TrustedTxIDs lists txids whose DEPLOY/UPGRADE source this daemon will
	// actually execute on replay (spec.md §4.10's trust model). A commit
	// with no executable source never consults this list.
	TrustedTxIDs []string `yaml:"trusted_txids"`

	Timeouts TimeoutConfig `yaml:"timeouts"`

	trusted map[string]bool
}

// DefaultKernel returns a Kernel with an empty trust list and the default
// timeouts -- safe to replay cached/pre-verified state, unable to execute
// any DEPLOY/UPGRADE source until the operator trusts a txid.
func DefaultKernel() *Kernel {
	k := &Kernel{
		AppString: "jigkernel",
		Timeouts:  DefaultTimeoutConfig(),
	}
	k.index()
	return k
}

// Load reads a YAML kernel config file at path. A missing file is not an
// error: Load returns DefaultKernel() instead, the same "absent file means
// defaults" convention node.LoadConfig uses for the P2P layer.
func Load(path string) (*Kernel, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultKernel(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	k := DefaultKernel()
	if err := yaml.Unmarshal(data, k); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	k.index()
	return k, nil
}

// Save persists k to path as YAML.
func (k *Kernel) Save(path string) error {
	data, err := yaml.Marshal(k)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

func (k *Kernel) index() {
	k.trusted = make(map[string]bool, len(k.TrustedTxIDs))
	for _, txid := range k.TrustedTxIDs {
		k.trusted[txid] = true
	}
}

// Trusted reports whether txid is permitted to execute DEPLOY/UPGRADE
// source on replay. Kernel satisfies internal/replay.TrustList.
func (k *Kernel) Trusted(txid string) bool {
	return k.trusted[txid]
}

// AddTrusted adds txid to the trust list at runtime, e.g. after an
// operator reviews a commit carrying DEPLOY/UPGRADE source out of band.
// It does not persist the change; call Save to write it back.
func (k *Kernel) AddTrusted(txid string) {
	if k.trusted == nil {
		k.trusted = make(map[string]bool)
	}
	if k.trusted[txid] {
		return
	}
	k.trusted[txid] = true
	k.TrustedTxIDs = append(k.TrustedTxIDs, txid)
}
