package berry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHashJSONDeterministic(t *testing.T) {
	props := map[string]any{"a": 1, "b": "two"}
	h1, err := hashJSON(props)
	if err != nil {
		t.Fatalf("hashJSON: %v", err)
	}
	h2, err := hashJSON(props)
	if err != nil {
		t.Fatalf("hashJSON: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashJSON not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("hashJSON length = %d, want 64 (sha256 hex)", len(h1))
	}
}

func TestEthereumSourcePluck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     any    `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "eth_call":
			w.Write([]byte(`{"jsonrpc":"2.0","id":` + mustJSON(req.ID) + `,"result":"0x000000000000000000000000000000000000000000000000000000000000002a"}`))
		default:
			w.Write([]byte(`{"jsonrpc":"2.0","id":` + mustJSON(req.ID) + `,"result":"0x1"}`))
		}
	}))
	defer srv.Close()

	src, err := NewEthereumSource(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("NewEthereumSource: %v", err)
	}
	defer src.Close()

	query := `{"to":"0x0000000000000000000000000000000000000001","data":"0x12345678"}`
	props, hash, err := src.Pluck(context.Background(), query)
	if err != nil {
		t.Fatalf("Pluck: %v", err)
	}
	if props["result"] != "0x000000000000000000000000000000000000000000000000000000000000002a" {
		t.Errorf("unexpected result: %v", props["result"])
	}
	if hash == "" {
		t.Error("expected a non-empty content hash")
	}
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestSolanaSourcePluck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":{"data":["ZGF0YQ==","base64"],"owner":"11111111111111111111111111111111","lamports":1000000,"executable":false}}}`))
	}))
	defer srv.Close()

	src := NewSolanaSource(srv.URL)
	query := `{"account":"Vote111111111111111111111111111111111111111"}`
	props, hash, err := src.Pluck(context.Background(), query)
	if err != nil {
		t.Fatalf("Pluck: %v", err)
	}
	if props["owner"] != "11111111111111111111111111111111" {
		t.Errorf("unexpected owner: %v", props["owner"])
	}
	if props["data"] != "ZGF0YQ==" {
		t.Errorf("unexpected data: %v", props["data"])
	}
	if hash == "" {
		t.Error("expected a non-empty content hash")
	}
}

func TestSolanaSourcePluckAccountNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":null}}`))
	}))
	defer srv.Close()

	src := NewSolanaSource(srv.URL)
	query := `{"account":"Vote111111111111111111111111111111111111111"}`
	if _, _, err := src.Pluck(context.Background(), query); err == nil {
		t.Fatal("expected an error for a missing account")
	}
}

func TestMoneroSourcePluck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json_rpc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"block_header":{"hash":"abc123","height":3000000,"timestamp":1700000000,"prev_hash":"def456","difficulty":12345,"reward":600000000000,"num_txes":5}}}`))
	}))
	defer srv.Close()

	src := NewMoneroSource(srv.URL)
	height := uint64(3000000)
	q, _ := json.Marshal(MoneroQuery{Height: &height})
	props, hash, err := src.Pluck(context.Background(), string(q))
	if err != nil {
		t.Fatalf("Pluck: %v", err)
	}
	if props["hash"] != "abc123" {
		t.Errorf("unexpected hash: %v", props["hash"])
	}
	if props["height"].(uint64) != 3000000 {
		t.Errorf("unexpected height: %v", props["height"])
	}
	if hash == "" {
		t.Error("expected a non-empty content hash")
	}
}

func TestMoneroSourcePluckRequiresHeightOrHash(t *testing.T) {
	src := NewMoneroSource("http://localhost:18081")
	if _, _, err := src.Pluck(context.Background(), `{}`); err == nil {
		t.Fatal("expected an error when neither height nor hash is set")
	}
}
