package berry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// MoneroQuery is the JSON shape a Monero berry's query string decodes to: a
// block reference, by height or by hash (mutually exclusive; height wins if
// both are set).
type MoneroQuery struct {
	Height *uint64 `json:"height,omitempty"`
	Hash   string  `json:"hash,omitempty"`
}

// MoneroSource plucks block headers via the Monero daemon's get_block
// JSON-RPC method, grounded on the same bare JSON-RPC-over-HTTP shape as
// internal/backend/jsonrpc.go's call method (Monero's daemon RPC has no
// client in this kernel's dependency stack, so Pluck speaks the wire
// protocol directly, the same choice made for the Solana source).
type MoneroSource struct {
	rpcURL     string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// NewMoneroSource builds a Monero berry source for the given daemon's root
// URL (e.g. "http://host:18081"); call appends the "/json_rpc" path.
func NewMoneroSource(rpcURL string) *MoneroSource {
	return &MoneroSource{
		rpcURL:     strings.TrimSuffix(rpcURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Pluck decodes query as a MoneroQuery and returns the referenced block's
// header fields.
func (s *MoneroSource) Pluck(ctx context.Context, query string) (map[string]any, string, error) {
	var q MoneroQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return nil, "", fmt.Errorf("berry: decoding monero query: %w", err)
	}
	if q.Height == nil && q.Hash == "" {
		return nil, "", fmt.Errorf("berry: monero query needs a height or a hash")
	}

	params := map[string]any{}
	if q.Height != nil {
		params["height"] = *q.Height
	} else {
		params["hash"] = q.Hash
	}

	result, err := s.call(ctx, "get_block", params)
	if err != nil {
		return nil, "", fmt.Errorf("berry: get_block: %w", err)
	}

	var parsed struct {
		BlockHeader struct {
			Hash         string `json:"hash"`
			Height       uint64 `json:"height"`
			Timestamp    int64  `json:"timestamp"`
			PrevHash     string `json:"prev_hash"`
			Difficulty   uint64 `json:"difficulty"`
			Reward       uint64 `json:"reward"`
			NumTxes      int    `json:"num_txes"`
			MinerTxHash  string `json:"miner_tx_hash"`
			MajorVersion int    `json:"major_version"`
		} `json:"block_header"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, "", fmt.Errorf("berry: parsing get_block result: %w", err)
	}

	props := map[string]any{
		"hash":       parsed.BlockHeader.Hash,
		"height":     parsed.BlockHeader.Height,
		"timestamp":  parsed.BlockHeader.Timestamp,
		"prev_hash":  parsed.BlockHeader.PrevHash,
		"difficulty": parsed.BlockHeader.Difficulty,
		"reward":     parsed.BlockHeader.Reward,
		"num_txes":   parsed.BlockHeader.NumTxes,
	}
	contentHash, err := hashJSON(props)
	if err != nil {
		return nil, "", err
	}
	return props, contentHash, nil
}

func (s *MoneroSource) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	request := map[string]any{
		"jsonrpc": "2.0",
		"id":      s.requestID.Add(1),
		"method":  method,
		"params":  params,
	}
	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.rpcURL+"/json_rpc", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}
