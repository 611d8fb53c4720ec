package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// ========================================
// Kernel handlers
//
// These are the RPC-visible face of internal/kernel.Kernel: a caller opens
// a session, issues one or more deploy/new/call requests against it (each
// extending that session's in-memory record.Record), then commits to
// publish the whole batch as one on-chain transaction. kernel_replay and
// kernel_sync don't touch a session at all -- they recompute or catch up
// creations that already exist on chain.
// ========================================

// jigRef is the wire shape a creation reference takes in RPC params and
// results: a location string the kernel resolves via GetCreation before
// dispatch, mirroring the $jig-reference encoding action.Exec uses on chain.
type jigRef struct {
	Location string `json:"location"`
}

func (s *Server) resolveJigRef(ctx context.Context, ref jigRef) (*creation.Creation, error) {
	if ref.Location == "" {
		return nil, fmt.Errorf("location is required")
	}
	return s.kernel.GetCreation(ctx, ref.Location)
}

// KernelOpenSessionResult is the response for kernel_openSession.
type KernelOpenSessionResult struct {
	SessionID string `json:"session_id"`
}

func (s *Server) kernelOpenSession(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.kernel == nil {
		return nil, fmt.Errorf("kernel not initialized")
	}
	return &KernelOpenSessionResult{SessionID: s.kernel.OpenSession()}, nil
}

// KernelDeployParams is the parameters for kernel_deploy.
type KernelDeployParams struct {
	SessionID string              `json:"session_id"`
	Classes   []KernelDeployClass `json:"classes"`
}

// KernelDeployClass is one class to deploy.
type KernelDeployClass struct {
	Src   string         `json:"src"`
	Props map[string]any `json:"props,omitempty"`
}

// KernelDeployResult is the response for kernel_deploy.
type KernelDeployResult struct {
	Locations []string `json:"locations"`
}

func (s *Server) kernelDeploy(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.kernel == nil {
		return nil, fmt.Errorf("kernel not initialized")
	}

	var p KernelDeployParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if len(p.Classes) == 0 {
		return nil, fmt.Errorf("at least one class is required")
	}

	pairs := make([]action.DeployPair, len(p.Classes))
	for i, c := range p.Classes {
		if c.Src == "" {
			return nil, fmt.Errorf("classes[%d].src is required", i)
		}
		pairs[i] = action.DeployPair{Src: c.Src, Props: c.Props}
	}

	creations, err := s.kernel.Deploy(ctx, p.SessionID, pairs)
	if err != nil {
		return nil, fmt.Errorf("deploy failed: %w", err)
	}

	locations := make([]string, len(creations))
	for i, c := range creations {
		locations[i] = c.Location
	}
	return &KernelDeployResult{Locations: locations}, nil
}

// KernelNewParams is the parameters for kernel_new.
type KernelNewParams struct {
	SessionID string `json:"session_id"`
	Class     jigRef `json:"class"`
	Args      []any  `json:"args,omitempty"`
}

// KernelNewResult is the response for kernel_new.
type KernelNewResult struct {
	Location string `json:"location"`
}

func (s *Server) kernelNew(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.kernel == nil {
		return nil, fmt.Errorf("kernel not initialized")
	}

	var p KernelNewParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	class, err := s.resolveJigRef(ctx, p.Class)
	if err != nil {
		return nil, fmt.Errorf("resolving class: %w", err)
	}

	jig, err := s.kernel.New(ctx, p.SessionID, class, p.Args)
	if err != nil {
		return nil, fmt.Errorf("new failed: %w", err)
	}

	return &KernelNewResult{Location: jig.Location}, nil
}

// KernelCallParams is the parameters for kernel_call.
type KernelCallParams struct {
	SessionID string `json:"session_id"`
	Target    jigRef `json:"target"`
	Method    string `json:"method"`
	Args      []any  `json:"args,omitempty"`
}

// KernelCallResult is the response for kernel_call.
type KernelCallResult struct {
	Result any `json:"result"`
}

func (s *Server) kernelCall(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.kernel == nil {
		return nil, fmt.Errorf("kernel not initialized")
	}

	var p KernelCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if p.Method == "" {
		return nil, fmt.Errorf("method is required")
	}

	target, err := s.resolveJigRef(ctx, p.Target)
	if err != nil {
		return nil, fmt.Errorf("resolving target: %w", err)
	}

	result, err := s.kernel.Call(ctx, p.SessionID, target, p.Method, p.Args)
	if err != nil {
		return nil, fmt.Errorf("call failed: %w", err)
	}

	return &KernelCallResult{Result: result}, nil
}

// KernelCommitParams is the parameters for kernel_commit.
type KernelCommitParams struct {
	SessionID string `json:"session_id"`
}

// KernelCommitResult is the response for kernel_commit.
type KernelCommitResult struct {
	TxID string `json:"txid"`
}

func (s *Server) kernelCommit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.kernel == nil {
		return nil, fmt.Errorf("kernel not initialized")
	}

	var p KernelCommitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	txid, err := s.kernel.Commit(ctx, p.SessionID)
	if err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(EventCommitPublished, map[string]string{"txid": txid})
	}

	return &KernelCommitResult{TxID: txid}, nil
}

// KernelReplayParams is the parameters for kernel_replay.
type KernelReplayParams struct {
	RawTx string `json:"rawtx"` // hex-encoded transaction
	TxID  string `json:"txid"`
}

// KernelReplayResult is the response for kernel_replay.
type KernelReplayResult struct {
	Locations []string `json:"locations"`
}

func (s *Server) kernelReplay(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.kernel == nil {
		return nil, fmt.Errorf("kernel not initialized")
	}

	var p KernelReplayParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.RawTx == "" {
		return nil, fmt.Errorf("rawtx is required")
	}
	if p.TxID == "" {
		return nil, fmt.Errorf("txid is required")
	}

	rawtx, err := hex.DecodeString(p.RawTx)
	if err != nil {
		return nil, fmt.Errorf("invalid rawtx: %w", err)
	}

	result, err := s.kernel.Replay(ctx, rawtx, p.TxID)
	if err != nil {
		return nil, fmt.Errorf("replay failed: %w", err)
	}

	locations := make([]string, 0, len(result.Rec.Outputs()))
	for _, c := range result.Rec.Outputs() {
		locations = append(locations, c.Location)
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(EventCommitReplayed, map[string]string{"txid": p.TxID})
	}

	return &KernelReplayResult{Locations: locations}, nil
}

// KernelSyncParams is the parameters for kernel_sync.
type KernelSyncParams struct {
	Location string `json:"location"`
}

// KernelSyncResult is the response for kernel_sync.
type KernelSyncResult struct {
	Location string `json:"location"`
}

func (s *Server) kernelSync(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.kernel == nil {
		return nil, fmt.Errorf("kernel not initialized")
	}

	var p KernelSyncParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Location == "" {
		return nil, fmt.Errorf("location is required")
	}

	synced, err := s.kernel.SyncJig(ctx, p.Location)
	if err != nil {
		return nil, fmt.Errorf("sync failed: %w", err)
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(EventJigSynced, map[string]string{"location": synced.Location})
	}

	return &KernelSyncResult{Location: synced.Location}, nil
}

// KernelGetCreationParams is the parameters for kernel_getCreation.
type KernelGetCreationParams struct {
	Location string `json:"location"`
}

// KernelGetCreationResult is the response for kernel_getCreation.
type KernelGetCreationResult struct {
	Location string         `json:"location"`
	Kind     string         `json:"kind"`
	Props    map[string]any `json:"props,omitempty"`
	Src      string         `json:"src,omitempty"`
}

func (s *Server) kernelGetCreation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.kernel == nil {
		return nil, fmt.Errorf("kernel not initialized")
	}

	var p KernelGetCreationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Location == "" {
		return nil, fmt.Errorf("location is required")
	}

	c, err := s.kernel.GetCreation(ctx, p.Location)
	if err != nil {
		return nil, fmt.Errorf("get creation failed: %w", err)
	}

	return &KernelGetCreationResult{
		Location: c.Location,
		Kind:     c.Kind.String(),
		Props:    c.Props,
		Src:      c.Src,
	}, nil
}
