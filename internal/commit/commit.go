// Package commit implements the fourteen-step publish pipeline of spec.md
// §4.9: turning a closed internal/record.Record into a signed, broadcast
// Bitcoin transaction carrying the protocol's OP_RETURN metadata.
//
// The teacher's swap coordinator spreads one state machine across ten-odd
// `swap/coordinator_*.go` files, one concern per file, with pkg/logging
// component loggers and a single Coordinator mutex threading shared mutable
// state through named, ordered steps. This package keeps that shape: one
// Commit struct, one file per pipeline concern, run in the exact numbered
// order spec.md prescribes, with an internal/kctx.Timeout consulted between
// steps (spec.md §5: "the timeout is consulted ... between major steps").
package commit

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/record"
	"github.com/klingon-exchange/jigkernel/pkg/logging"
)

// App/version constants (spec.md §6).
const (
	OPReturnPrefix         = "run"
	ProtocolVersion byte   = 0x05
	DustSatoshis    uint64 = 546
)

// State is the deterministic per-creation capture step 6 produces.
type State struct {
	Kind    creation.Kind
	ClsRef  int // master-list index of the class, -1 if not a jig
	Props   map[string]any
	Src     string
	Version int
}

// Commit is one publish-in-progress transaction: the record it was built
// from, plus every artifact the pipeline accumulates step by step.
type Commit struct {
	Rec *record.Record

	App     string
	Vrun    int
	BaseOut int         // number of user-defined base outputs (output[1..vrun+1])
	BaseTx  *wire.MsgTx // caller-built tx carrying inputs and the base outputs

	// Populated incrementally by the numbered steps.
	InitialOwners map[*creation.Creation]Owner  // step 1
	OutputScripts map[*creation.Creation][]byte // step 2
	MasterList    []*creation.Creation          // step 5
	States        map[*creation.Creation]*State // step 6
	StateHashes   map[*creation.Creation]string // step 7
	ExecList      []action.Exec                 // step 8
	Metadata      *Metadata                     // step 9
	PartialTx     []byte                        // step 10
	SignedTx      []byte                        // step 12
	TxID          string                        // step 13

	log *logging.Logger
}

// Owner is the concrete lock descriptor assigned to a freshly created
// creation (collab.Lock satisfies this, but commit stays decoupled from
// collab to avoid an import cycle with internal/collab's own dependents).
type Owner interface {
	Script() ([]byte, error)
	Domain() []byte
}

// New starts a commit from a closed record (one whose outermost Action has
// already run and whose derived sets are final).
func New(rec *record.Record, app string, vrun int) *Commit {
	return &Commit{
		Rec:           rec,
		App:           app,
		Vrun:          vrun,
		InitialOwners: make(map[*creation.Creation]Owner),
		OutputScripts: make(map[*creation.Creation][]byte),
		States:        make(map[*creation.Creation]*State),
		StateHashes:   make(map[*creation.Creation]string),
		log:           logging.GetDefault().Component("commit"),
	}
}

// indexOf resolves a creation to its position in the finalized master list;
// it is the action.IndexOf the exec-list conversion step needs.
func (c *Commit) indexOf(target *creation.Creation) (int, error) {
	for i, x := range c.MasterList {
		if x == target {
			return i, nil
		}
	}
	return 0, fmt.Errorf("commit: %s not present in master list", target)
}

// IndexInMasterList is the exported form of indexOf, for callers outside
// this package building their own EncodeHook against a commit's master
// list (internal/replay's HashStates re-run, mirroring publication).
func (c *Commit) IndexInMasterList(target *creation.Creation) (int, error) {
	return c.indexOf(target)
}
