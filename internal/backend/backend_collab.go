package backend

import (
	"context"
	"encoding/hex"
	"fmt"
)

// ChainAdapter wraps a Backend to satisfy collab.Blockchain (internal/collab
// can't import internal/backend without a cycle, since internal/backend's
// EVM/Solana/Monero-facing config lives alongside the UTXO backends this
// kernel actually replays against — so the adapter lives here instead,
// implementing collab.Blockchain structurally).
//
// Backend's own Fetch-shaped methods disagree on byte representation:
// GetRawTransaction and BroadcastTransaction both speak hex text (the
// mempool.space/Blockbook/Electrum/JSON-RPC APIs underneath all do), while
// collab.Blockchain speaks raw transaction bytes throughout, matching what
// commit.ExtractMetadata and the wire package expect. ChainAdapter converts
// at the boundary so neither side has to know about the other's convention.
type ChainAdapter struct {
	Backend Backend
	network string
}

// NewChainAdapter wraps backend for the named network (e.g. "mainnet",
// "testnet"), which ChainAdapter.Network reports verbatim since Backend
// itself has no notion of a network label.
func NewChainAdapter(backend Backend, network string) *ChainAdapter {
	return &ChainAdapter{Backend: backend, network: network}
}

// Network returns the network label the adapter was constructed with.
func (a *ChainAdapter) Network() string {
	return a.network
}

// Fetch returns the raw transaction bytes for txid.
func (a *ChainAdapter) Fetch(ctx context.Context, txid string) ([]byte, error) {
	hexBytes, err := a.Backend.GetRawTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(string(hexBytes))
	if err != nil {
		return nil, fmt.Errorf("backend: decoding raw transaction hex for %s: %w", txid, err)
	}
	return raw, nil
}

// Broadcast submits a raw transaction and returns its txid.
func (a *ChainAdapter) Broadcast(ctx context.Context, rawtx []byte) (string, error) {
	return a.Backend.BroadcastTransaction(ctx, hex.EncodeToString(rawtx))
}

// Spends returns the txid spending output vout of txid, or "" if unspent.
func (a *ChainAdapter) Spends(ctx context.Context, txid string, vout int) (string, error) {
	return a.Backend.GetSpend(ctx, txid, vout)
}
