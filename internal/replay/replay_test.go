package replay

import (
	"bytes"
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/collab"
	"github.com/klingon-exchange/jigkernel/internal/commit"
	"github.com/klingon-exchange/jigkernel/internal/creation"
	"github.com/klingon-exchange/jigkernel/internal/lock"
	"github.com/klingon-exchange/jigkernel/internal/record"
)

type fakeOwner struct{ n int }

func (f *fakeOwner) NextOwner(ctx context.Context) (collab.Lock, error) {
	f.n++
	return lock.NewP2WPKHLock(bytes.Repeat([]byte{byte(f.n)}, 20))
}

func (f *fakeOwner) Sign(ctx context.Context, rawtx []byte, parents [][]byte, locks []collab.Lock) ([]byte, error) {
	return rawtx, nil
}

func dummyBaseTx() *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0), nil, nil))
	return tx
}

func isCreationFn2(v any) bool {
	_, ok := v.(*creation.Creation)
	return ok
}

// publishDeploy runs the publish pipeline (steps 1-10, exported API only)
// for a single DEPLOY action creating one creation, returning the
// finished commit. It is the test's stand-in for a full internal/commit
// caller, built without a Preverify/Broadcast round trip since this test
// only exercises replay's independent re-derivation of the same publish.
func publishDeploy(t *testing.T, src string, props map[string]any) *commit.Commit {
	t.Helper()
	r := record.New()
	created := creation.New(creation.KindJig)
	created.Src = src
	created.Props = props
	if err := r.Create(created); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Action(action.Deploy([]action.DeployPair{{Src: src, Props: props}})); err != nil {
		t.Fatalf("Action: %v", err)
	}

	c := commit.New(r, "testapp", 0)
	c.BaseTx = dummyBaseTx()

	owner := &fakeOwner{}
	if err := c.AssignOwners(context.Background(), owner, nil); err != nil {
		t.Fatalf("AssignOwners: %v", err)
	}
	if err := c.GenerateOutputScripts(); err != nil {
		t.Fatalf("GenerateOutputScripts: %v", err)
	}
	if err := c.CheckNoTimeTravel(); err != nil {
		t.Fatalf("CheckNoTimeTravel: %v", err)
	}
	if err := c.FinalizeBindings(); err != nil {
		t.Fatalf("FinalizeBindings: %v", err)
	}
	c.BuildMasterList()
	if err := c.CaptureStates(isCreationFn2); err != nil {
		t.Fatalf("CaptureStates: %v", err)
	}
	hook := func(v any) (any, error) {
		return c.IndexInMasterList(v.(*creation.Creation))
	}
	if err := c.HashStates(context.Background(), hook, isCreationFn2); err != nil {
		t.Fatalf("HashStates: %v", err)
	}
	if err := c.BuildExecList(); err != nil {
		t.Fatalf("BuildExecList: %v", err)
	}
	if err := c.BuildMetadata(); err != nil {
		t.Fatalf("BuildMetadata: %v", err)
	}
	if err := c.BuildPartialTx(); err != nil {
		t.Fatalf("BuildPartialTx: %v", err)
	}
	return c
}

// deployExecutor replays DEPLOY entries the same way publishDeploy's own
// record was built: one fresh creation per (src, props) pair.
func deployExecutor(ctx context.Context, rec *record.Record, masterList []*creation.Creation, a action.Action) error {
	switch a.Op {
	case action.OpDeploy:
		for _, pair := range a.Deploys {
			c := creation.New(creation.KindJig)
			c.Src = pair.Src
			c.Props = pair.Props
			if err := rec.Create(c); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

type neverTrusted struct{}

func (neverTrusted) Trusted(string) bool { return false }

type alwaysTrusted struct{}

func (alwaysTrusted) Trusted(string) bool { return true }

func TestReplayReproducesPublishedMetadata(t *testing.T) {
	published := publishDeploy(t, "class A{}", map[string]any{"x": int64(1)})

	result, err := Replay(context.Background(), published.PartialTx, published.Metadata, alwaysTrusted{}, nil, nil, deployExecutor, Options{TxID: "t", SkipVerify: false})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(result.MasterList) != 1 {
		t.Fatalf("expected 1 master list entry, got %d", len(result.MasterList))
	}
	if result.Commit.Metadata.Out[0] != published.Metadata.Out[0] {
		t.Fatalf("state hash mismatch: replay %s, published %s", result.Commit.Metadata.Out[0], published.Metadata.Out[0])
	}
}

func TestReplayRejectsUntrustedExecutableSource(t *testing.T) {
	published := publishDeploy(t, "class A{}", map[string]any{"x": int64(1)})

	_, err := Replay(context.Background(), published.PartialTx, published.Metadata, neverTrusted{}, nil, nil, deployExecutor, Options{TxID: "t"})
	if err == nil {
		t.Fatalf("expected Replay to reject a DEPLOY from an untrusted txid")
	}
}

func TestReplayDetectsTamperedOutputHash(t *testing.T) {
	published := publishDeploy(t, "class A{}", map[string]any{"x": int64(1)})

	tampered := *published.Metadata
	out := append([]string(nil), tampered.Out...)
	out[0] = "0000000000000000000000000000000000000000000000000000000000000000"
	tampered.Out = out

	_, err := Replay(context.Background(), published.PartialTx, &tampered, alwaysTrusted{}, nil, nil, deployExecutor, Options{TxID: "t"})
	if err == nil {
		t.Fatalf("expected Replay to detect a tampered output state hash")
	}
}

func TestLoadInputsAndRefsRejectsMissingLoader(t *testing.T) {
	meta := &commit.Metadata{In: 1}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0), nil, nil))
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if _, err := LoadInputsAndRefs(context.Background(), buf.Bytes(), meta, nil, nil); err == nil {
		t.Fatalf("expected an error when a commit declares inputs but no loader is supplied")
	}
}

func TestLoadInputsAndRefsUsesJigToSyncWithoutLoader(t *testing.T) {
	prevHash := chainhash.Hash{1, 2, 3}
	loc := creation.TxOutputLocation(prevHash.String(), 0)
	pinned := creation.New(creation.KindJig)
	pinned.Location = loc
	pinned.Origin = loc

	meta := &commit.Metadata{In: 1}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	loaded, err := LoadInputsAndRefs(context.Background(), buf.Bytes(), meta, nil, pinned)
	if err != nil {
		t.Fatalf("LoadInputsAndRefs: %v", err)
	}
	if loaded.Inputs[0] != pinned {
		t.Fatalf("expected the pinned jigToSync creation to be used directly")
	}
}

func TestCompareMetadataReportsFieldMismatch(t *testing.T) {
	a := &commit.Metadata{App: "one"}
	b := &commit.Metadata{App: "two"}
	equal, reason, err := CompareMetadata(a, b)
	if err != nil {
		t.Fatalf("CompareMetadata: %v", err)
	}
	if equal {
		t.Fatalf("expected a mismatch to be detected")
	}
	if reason == "" {
		t.Fatalf("expected a non-empty mismatch reason")
	}
}
