package backend

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMempoolGetSpendSpent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tx/abc/outspend/0" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"spent":true,"txid":"spender123"}`))
	}))
	defer srv.Close()

	b := NewMempoolBackend(srv.URL)
	txid, err := b.GetSpend(context.Background(), "abc", 0)
	if err != nil {
		t.Fatalf("GetSpend: %v", err)
	}
	if txid != "spender123" {
		t.Errorf("GetSpend = %q, want spender123", txid)
	}
}

func TestMempoolGetSpendUnspent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"spent":false}`))
	}))
	defer srv.Close()

	b := NewMempoolBackend(srv.URL)
	txid, err := b.GetSpend(context.Background(), "abc", 0)
	if err != nil {
		t.Fatalf("GetSpend: %v", err)
	}
	if txid != "" {
		t.Errorf("GetSpend = %q, want empty", txid)
	}
}

func TestBlockbookGetSpend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tx/abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"txid":"abc","vout":[{"n":0,"spent":false},{"n":1,"spent":true,"spentTxId":"spender456"}]}`))
	}))
	defer srv.Close()

	b := NewBlockbookBackend(srv.URL)

	unspent, err := b.GetSpend(context.Background(), "abc", 0)
	if err != nil {
		t.Fatalf("GetSpend(0): %v", err)
	}
	if unspent != "" {
		t.Errorf("GetSpend(0) = %q, want empty", unspent)
	}

	spent, err := b.GetSpend(context.Background(), "abc", 1)
	if err != nil {
		t.Fatalf("GetSpend(1): %v", err)
	}
	if spent != "spender456" {
		t.Errorf("GetSpend(1) = %q, want spender456", spent)
	}
}

func TestBlockbookGetSpendOutputNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"txid":"abc","vout":[{"n":0,"spent":false}]}`))
	}))
	defer srv.Close()

	b := NewBlockbookBackend(srv.URL)
	if _, err := b.GetSpend(context.Background(), "abc", 5); err == nil {
		t.Fatal("expected an error for an out-of-range vout")
	}
}

func TestElectrumGetSpendUnsupported(t *testing.T) {
	b := NewElectrumBackend([]string{"localhost:50001"}, false)
	if _, err := b.GetSpend(context.Background(), "abc", 0); err != ErrUnsupportedBackend {
		t.Fatalf("GetSpend err = %v, want ErrUnsupportedBackend", err)
	}
}

func TestJSONRPCGetSpendUnsupported(t *testing.T) {
	b := NewJSONRPCBackend("http://localhost:8332", RPCTypeBitcoin, "", "")
	if _, err := b.GetSpend(context.Background(), "abc", 0); err != ErrUnsupportedBackend {
		t.Fatalf("GetSpend err = %v, want ErrUnsupportedBackend", err)
	}
}

// fakeBackend is a minimal Backend satisfying only what ChainAdapter uses,
// recording calls to prove the hex/byte conversion happens at the boundary.
type fakeBackend struct {
	Backend
	gotBroadcastHex string
}

func (f *fakeBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	return []byte(hex.EncodeToString([]byte("rawtxbytes"))), nil
}

func (f *fakeBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	f.gotBroadcastHex = rawTxHex
	return "broadcasttxid", nil
}

func (f *fakeBackend) GetSpend(ctx context.Context, txID string, vout int) (string, error) {
	return "spendtxid", nil
}

func TestChainAdapterFetchDecodesHex(t *testing.T) {
	adapter := NewChainAdapter(&fakeBackend{}, "mainnet")
	if adapter.Network() != "mainnet" {
		t.Errorf("Network() = %q, want mainnet", adapter.Network())
	}

	raw, err := adapter.Fetch(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(raw) != "rawtxbytes" {
		t.Errorf("Fetch = %q, want rawtxbytes", raw)
	}
}

func TestChainAdapterBroadcastEncodesHex(t *testing.T) {
	fb := &fakeBackend{}
	adapter := NewChainAdapter(fb, "mainnet")

	txid, err := adapter.Broadcast(context.Background(), []byte("rawtxbytes"))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if txid != "broadcasttxid" {
		t.Errorf("Broadcast = %q, want broadcasttxid", txid)
	}
	if fb.gotBroadcastHex != hex.EncodeToString([]byte("rawtxbytes")) {
		t.Errorf("BroadcastTransaction got hex %q", fb.gotBroadcastHex)
	}
}

func TestChainAdapterSpends(t *testing.T) {
	adapter := NewChainAdapter(&fakeBackend{}, "mainnet")
	txid, err := adapter.Spends(context.Background(), "abc", 0)
	if err != nil {
		t.Fatalf("Spends: %v", err)
	}
	if txid != "spendtxid" {
		t.Errorf("Spends = %q, want spendtxid", txid)
	}
}
