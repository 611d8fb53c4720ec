// Package berry implements the three foreign-protocol pluck sources a Berry
// creation can be built from (spec.md §3's "Pluck" operation: a berry-
// construction analogue of `new`, deterministic, no write actions allowed,
// no UTXO). Each Source reads a foreign chain's state for a single query and
// returns the plucked properties plus a content hash identifying them, the
// exact two pieces a KindBerry creation's Props/ContentHash carry.
//
// Grounded on internal/contracts/htlc/client.go's read side (ethclient.Dial,
// generic eth_call against raw packed calldata rather than generated
// contract bindings, since a berry source has no fixed ABI to bind against)
// and internal/backend/jsonrpc.go's plain JSON-RPC-over-HTTP calling
// convention, generalized from a UTXO/EVM node backend to Solana's and
// Monero's own JSON-RPC-shaped daemons.
package berry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Source plucks deterministic state from a foreign protocol. query is
// source-specific (an address+calldata pair for Ethereum, an account pubkey
// for Solana, a block reference for Monero); Pluck must be a pure read with
// no side effects on the foreign chain.
type Source interface {
	Pluck(ctx context.Context, query string) (props map[string]any, contentHash string, err error)
}

// hashJSON deterministically content-hashes a pluck result the same way
// commit.HashStates hashes creation state: sha256 over the json.Marshal
// output, hex-encoded. Map key order doesn't affect the hash here because
// every Source builds its props map with a fixed, small set of known keys
// in the same Go-literal order every call, so encoding/json's sorted-key
// marshaling is already deterministic across calls for a given query.
func hashJSON(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("berry: hashing pluck result: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
