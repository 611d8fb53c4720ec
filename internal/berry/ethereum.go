package berry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthereumQuery is the JSON shape an Ethereum berry's query string decodes
// to: a contract address, ABI-packed calldata, and the block to read at.
// Packing the calldata is left to the caller (the same manual
// function-selector-plus-argument packing internal/contracts/htlc/client.go
// does for ApproveERC20) since a berry has no fixed contract ABI to bind
// generated bindings against.
type EthereumQuery struct {
	To    string `json:"to"`
	Data  string `json:"data"`            // hex-encoded calldata, 0x-prefixed or not
	Block string `json:"block,omitempty"` // decimal block number, or "" / "latest" for the chain tip
}

// EthereumSource plucks the return value of a read-only contract call.
type EthereumSource struct {
	client *ethclient.Client
}

// NewEthereumSource dials an Ethereum-compatible JSON-RPC endpoint.
func NewEthereumSource(ctx context.Context, rpcURL string) (*EthereumSource, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("berry: connecting to %s: %w", rpcURL, err)
	}
	return &EthereumSource{client: client}, nil
}

// Close closes the underlying RPC connection.
func (s *EthereumSource) Close() {
	s.client.Close()
}

// Pluck decodes query as an EthereumQuery, performs the call via eth_call,
// and returns the raw return data under props["result"] alongside its
// content hash.
func (s *EthereumSource) Pluck(ctx context.Context, query string) (map[string]any, string, error) {
	var q EthereumQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return nil, "", fmt.Errorf("berry: decoding ethereum query: %w", err)
	}
	if !common.IsHexAddress(q.To) {
		return nil, "", fmt.Errorf("berry: %q is not a valid contract address", q.To)
	}

	data, err := hex.DecodeString(strings.TrimPrefix(q.Data, "0x"))
	if err != nil {
		return nil, "", fmt.Errorf("berry: decoding calldata: %w", err)
	}

	var blockNumber *big.Int
	if q.Block != "" && q.Block != "latest" {
		n, ok := new(big.Int).SetString(q.Block, 10)
		if !ok {
			return nil, "", fmt.Errorf("berry: invalid block %q", q.Block)
		}
		blockNumber = n
	}

	to := common.HexToAddress(q.To)
	result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, blockNumber)
	if err != nil {
		return nil, "", fmt.Errorf("berry: eth_call to %s: %w", q.To, err)
	}

	props := map[string]any{
		"to":     q.To,
		"data":   q.Data,
		"result": "0x" + hex.EncodeToString(result),
	}
	contentHash, err := hashJSON(props)
	if err != nil {
		return nil, "", err
	}
	return props, contentHash, nil
}
