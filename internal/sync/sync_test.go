package sync

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

func isCreationFn(v any) bool {
	_, ok := v.(*creation.Creation)
	return ok
}

type fakeOwner struct{ n int }

func (f *fakeOwner) NextOwner(ctx context.Context) (collab.Lock, error) {
	f.n++
	return lock.NewP2WPKHLock(bytes.Repeat([]byte{byte(f.n)}, 20))
}

func (f *fakeOwner) Sign(ctx context.Context, rawtx []byte, parents [][]byte, locks []collab.Lock) ([]byte, error) {
	return rawtx, nil
}

func outpointTx(txid string, vout uint32) *wire.MsgTx {
	h, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		h = &chainhash.Hash{}
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(h, vout), nil, nil))
	return tx
}

// fakeChain serves two fixed transactions keyed by txid, and a single
// recorded spend of one outpoint, enough to drive one hop of SyncJig.
type fakeChain struct {
	txs    map[string][]byte
	spends map[string]string // "txid:vout" -> spending txid
}

func (f *fakeChain) Network() string { return "test" }

func (f *fakeChain) Fetch(ctx context.Context, txid string) ([]byte, error) {
	return f.txs[txid], nil
}

func (f *fakeChain) Broadcast(ctx context.Context, rawtx []byte) (string, error) {
	return "", nil
}

func (f *fakeChain) Spends(ctx context.Context, txid string, vout int) (string, error) {
	return f.spends[outpointKey(txid, vout)], nil
}

func outpointKey(txid string, vout int) string {
	return txid + ":" + itoa(vout)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

type noopLoader struct{}

func (noopLoader) Load(ctx context.Context, location string) (*creation.Creation, error) {
	return nil, nil
}

type alwaysTrusted struct{}

func (alwaysTrusted) Trusted(string) bool { return true }

// upgradeExecutor replays the single action this test's second commit
// carries: an UPGRADE against the jig pinned as jigToSync.
func upgradeExecutor(ctx context.Context, rec *record.Record, masterList []*creation.Creation, a action.Action) error {
	switch a.Op {
	case action.OpUpgrade:
		a.Target.Src = a.Src
		a.Target.Props = a.Props
		return rec.Update(a.Target)
	default:
		return nil
	}
}

// publishDeploy builds and finalizes a genesis DEPLOY commit at txid,
// returning the live jig creation at its finalized location.
func publishDeploy(t *testing.T, txid string) *creation.Creation {
	t.Helper()
	r := record.New()
	jig := creation.New(creation.KindJig)
	if err := r.Create(jig); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Action(action.Deploy([]action.DeployPair{{Src: "class A{}", Props: map[string]any{"x": int64(1)}}})); err != nil {
		t.Fatalf("Action: %v", err)
	}

	c := commit.New(r, "testapp", 0)
	c.BaseTx = outpointTx("abcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcd", 0)

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
	if err := c.CaptureStates(isCreationFn); err != nil {
		t.Fatalf("CaptureStates: %v", err)
	}
	hook := func(v any) (any, error) {
		return c.IndexInMasterList(v.(*creation.Creation))
	}
	if err := c.HashStates(context.Background(), hook, isCreationFn); err != nil {
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
	c.TxID = txid
	if err := c.FinalizeLocations(); err != nil {
		t.Fatalf("FinalizeLocations: %v", err)
	}
	return jig
}

// publishUpgrade spends jig's current location, producing a second
// transaction that upgrades it in place, and returns that tx's raw bytes.
func publishUpgrade(t *testing.T, jig *creation.Creation, txid string) []byte {
	t.Helper()
	parsed, err := creation.ParseTxLocation(jig.Location)
	if err != nil {
		t.Fatalf("ParseTxLocation: %v", err)
	}

	r := record.New()
	if err := r.Update(jig); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := r.Action(action.Upgrade(jig, "class B{}", map[string]any{"x": int64(2)})); err != nil {
		t.Fatalf("Action: %v", err)
	}

	c := commit.New(r, "testapp", 0)
	c.BaseTx = outpointTx(parsed.TxID, uint32(parsed.Index))

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
	if err := c.CaptureStates(isCreationFn); err != nil {
		t.Fatalf("CaptureStates: %v", err)
	}
	hook := func(v any) (any, error) {
		return c.IndexInMasterList(v.(*creation.Creation))
	}
	if err := c.HashStates(context.Background(), hook, isCreationFn); err != nil {
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
	c.TxID = txid
	if err := c.FinalizeLocations(); err != nil {
		t.Fatalf("FinalizeLocations: %v", err)
	}
	return c.PartialTx
}

func TestSyncJigFollowsOneSpend(t *testing.T) {
	genesisTxid := "1111111111111111111111111111111111111111111111111111111111111111"
	spendTxid := "2222222222222222222222222222222222222222222222222222222222222222"

	jig := publishDeploy(t, genesisTxid)
	origLocation := jig.Location

	rawUpgrade := publishUpgrade(t, jig, spendTxid)

	// publishUpgrade already mutated jig's own bindings in place (same
	// pointer shared between the live jig and the second commit's input),
	// so reset Location back to what SyncJig is expected to discover on
	// its own, to prove the sync (not the test setup) performed the move.
	jig.Location = origLocation

	chain := &fakeChain{
		txs: map[string][]byte{spendTxid: rawUpgrade},
		spends: map[string]string{
			outpointKey(genesisTxid, 0): spendTxid,
		},
	}

	syncer := New(chain, noopLoader{}, alwaysTrusted{}, upgradeExecutor, nil, nil)
	synced, err := syncer.SyncJig(context.Background(), jig)
	if err != nil {
		t.Fatalf("SyncJig: %v", err)
	}
	if synced != jig {
		t.Fatalf("expected SyncJig to mutate and return the same creation pointer")
	}
	want := creation.TxOutputLocation(spendTxid, 0)
	if synced.Location != want {
		t.Fatalf("expected synced location %s, got %s", want, synced.Location)
	}
	if synced.Src != "class B{}" {
		t.Fatalf("expected upgraded source, got %q", synced.Src)
	}
}

func TestSyncJigStopsWhenUnspent(t *testing.T) {
	genesisTxid := "3333333333333333333333333333333333333333333333333333333333333333"
	jig := publishDeploy(t, genesisTxid)

	chain := &fakeChain{txs: map[string][]byte{}, spends: map[string]string{}}
	syncer := New(chain, noopLoader{}, alwaysTrusted{}, upgradeExecutor, nil, nil)

	synced, err := syncer.SyncJig(context.Background(), jig)
	if err != nil {
		t.Fatalf("SyncJig: %v", err)
	}
	if synced != jig {
		t.Fatalf("expected the unspent creation to be returned unchanged")
	}
}

func TestSyncJigErrorsWithoutWaiterOnPendingRecord(t *testing.T) {
	jig := creation.New(creation.KindJig)
	jig.Location = "record://abc_o0"

	chain := &fakeChain{txs: map[string][]byte{}, spends: map[string]string{}}
	syncer := New(chain, noopLoader{}, alwaysTrusted{}, upgradeExecutor, nil, nil)

	if _, err := syncer.SyncJig(context.Background(), jig); err == nil {
		t.Fatalf("expected an error when a record:// location has no RecordWaiter")
	}
}
