package berry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// SolanaQuery is the JSON shape a Solana berry's query string decodes to: a
// base58 account pubkey, optionally pinned to a commitment level.
type SolanaQuery struct {
	Account    string `json:"account"`
	Commitment string `json:"commitment,omitempty"` // "finalized" (default), "confirmed", "processed"
}

// SolanaSource plucks account data via Solana's JSON-RPC getAccountInfo,
// grounded on the same bare JSON-RPC-over-HTTP shape as
// internal/backend/jsonrpc.go's call method (Solana has no node-RPC
// convention this kernel's own dependency stack already speaks a client
// for, so Pluck talks the wire protocol directly rather than pulling in an
// additional SDK).
type SolanaSource struct {
	rpcURL     string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// NewSolanaSource builds a Solana berry source for the given JSON-RPC endpoint.
func NewSolanaSource(rpcURL string) *SolanaSource {
	return &SolanaSource{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Pluck decodes query as a SolanaQuery and returns the account's base64
// data and owner program under props.
func (s *SolanaSource) Pluck(ctx context.Context, query string) (map[string]any, string, error) {
	var q SolanaQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return nil, "", fmt.Errorf("berry: decoding solana query: %w", err)
	}
	if q.Account == "" {
		return nil, "", fmt.Errorf("berry: solana query missing account")
	}
	commitment := q.Commitment
	if commitment == "" {
		commitment = "finalized"
	}

	result, err := s.call(ctx, "getAccountInfo", []any{
		q.Account,
		map[string]any{"encoding": "base64", "commitment": commitment},
	})
	if err != nil {
		return nil, "", fmt.Errorf("berry: getAccountInfo for %s: %w", q.Account, err)
	}

	var parsed struct {
		Value *struct {
			Data       [2]string `json:"data"` // [base64 payload, "base64"]
			Owner      string    `json:"owner"`
			Lamports   uint64    `json:"lamports"`
			Executable bool      `json:"executable"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, "", fmt.Errorf("berry: parsing getAccountInfo result: %w", err)
	}
	if parsed.Value == nil {
		return nil, "", fmt.Errorf("berry: account %s not found", q.Account)
	}

	props := map[string]any{
		"account":    q.Account,
		"data":       parsed.Value.Data[0],
		"owner":      parsed.Value.Owner,
		"lamports":   parsed.Value.Lamports,
		"executable": parsed.Value.Executable,
	}
	contentHash, err := hashJSON(props)
	if err != nil {
		return nil, "", err
	}
	return props, contentHash, nil
}

func (s *SolanaSource) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
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

	req, err := http.NewRequestWithContext(ctx, "POST", s.rpcURL, bytes.NewReader(data))
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
