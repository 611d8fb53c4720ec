package commit

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/jigkernel/internal/action"
	"github.com/klingon-exchange/jigkernel/internal/codec"
	"github.com/klingon-exchange/jigkernel/internal/collab"
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

type fakeCache struct{ m map[string]any }

func (f *fakeCache) Get(ctx context.Context, key string) (any, bool, error) {
	v, ok := f.m[key]
	return v, ok, nil
}
func (f *fakeCache) Set(ctx context.Context, key string, value any) error {
	f.m[key] = value
	return nil
}

func dummyBaseTx() *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0), nil, nil))
	return tx
}

func runPipeline(t *testing.T) (*Commit, *creation.Creation) {
	t.Helper()
	r := record.New()
	created := creation.New(creation.KindJig)
	if err := r.Create(created); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Action(action.Deploy([]action.DeployPair{{Src: "class A{}", Props: map[string]any{"x": 1}}})); err != nil {
		t.Fatalf("Action: %v", err)
	}

	c := New(r, "testapp", 0)
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
	if err := c.CaptureStates(isCreationFn); err != nil {
		t.Fatalf("CaptureStates: %v", err)
	}
	hook := func(v any) (any, error) {
		idx, err := c.indexOf(v.(*creation.Creation))
		return idx, err
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
	return c, created
}

func TestPipelineProducesOneOutputScriptPerOutputJig(t *testing.T) {
	c, created := runPipeline(t)
	if len(c.OutputScripts) != 1 {
		t.Fatalf("expected 1 output script, got %d", len(c.OutputScripts))
	}
	if _, ok := c.OutputScripts[created]; !ok {
		t.Fatalf("expected the created jig to have an output script")
	}
}

func TestPipelinePartialTxLayout(t *testing.T) {
	c, _ := runPipeline(t)
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(c.PartialTx)); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	// output[0] = OP_RETURN, output[1] = the single jig output (no base outputs).
	if len(tx.TxOut) != 2 {
		t.Fatalf("expected 2 outputs (op_return + 1 jig), got %d", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != 0 {
		t.Fatalf("expected OP_RETURN output to carry 0 satoshis, got %d", tx.TxOut[0].Value)
	}
	if tx.TxOut[1].Value < int64(DustSatoshis) {
		t.Fatalf("expected jig output to be at least dust, got %d", tx.TxOut[1].Value)
	}
}

func TestBuildMetadataFieldOrder(t *testing.T) {
	c, _ := runPipeline(t)
	b, err := c.Metadata.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	s := string(b)
	order := []string{`"app"`, `"version"`, `"base"`, `"vrun"`, `"in"`, `"ref"`, `"out"`, `"del"`, `"cre"`, `"exec"`}
	prev := -1
	for _, key := range order {
		idx := strings.Index(s, key)
		if idx < 0 {
			t.Fatalf("expected key %s present in %s", key, s)
		}
		if idx < prev {
			t.Fatalf("key %s out of order in %s", key, s)
		}
		prev = idx
	}
}

func TestCoreJSONOmitsHeadFields(t *testing.T) {
	c, _ := runPipeline(t)
	core, err := c.Metadata.coreJSON()
	if err != nil {
		t.Fatalf("coreJSON: %v", err)
	}
	s := string(core)
	for _, key := range []string{`"app"`, `"version"`, `"base"`, `"vrun"`} {
		if strings.Contains(s, key) {
			t.Fatalf("expected core JSON to omit %s, got %s", key, s)
		}
	}
	if !strings.HasPrefix(s, `{"in"`) {
		t.Fatalf("expected core JSON to start with in, got %s", s)
	}
}

func TestFinalizeLocationsAndCacheStates(t *testing.T) {
	c, created := runPipeline(t)
	c.TxID = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	if err := c.FinalizeLocations(); err != nil {
		t.Fatalf("FinalizeLocations: %v", err)
	}
	want := creation.TxOutputLocation(c.TxID, 0)
	if created.Location != want {
		t.Fatalf("expected location %s, got %s", want, created.Location)
	}
	if created.Origin != want {
		t.Fatalf("expected origin to follow location after finalize, got %s", created.Origin)
	}

	cache := &fakeCache{m: make(map[string]any)}
	if err := c.CacheStates(context.Background(), cache); err != nil {
		t.Fatalf("CacheStates: %v", err)
	}
	got, ok, err := cache.Get(context.Background(), "jig://"+want)
	if err != nil || !ok {
		t.Fatalf("expected cached state at jig://%s, ok=%v err=%v", want, ok, err)
	}
	if got.(*State) != c.States[created] {
		t.Fatalf("expected cached state to be the same captured state pointer")
	}
}

func TestVerifyMatchesPartialRejectsAlteredOutput(t *testing.T) {
	c, _ := runPipeline(t)
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(c.PartialTx)); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	tx.TxOut[1].Value += 1
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if err := c.verifyMatchesPartial(buf.Bytes()); err == nil {
		t.Fatalf("expected verifyMatchesPartial to reject an altered output value")
	}
}

func TestVerifyMatchesPartialAcceptsExtraChangeAndPaymentInput(t *testing.T) {
	c, _ := runPipeline(t)
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(c.PartialTx)); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 1), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x00}))
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if err := c.verifyMatchesPartial(buf.Bytes()); err != nil {
		t.Fatalf("expected extra payment input/change output to be accepted, got %v", err)
	}
}

func TestIndexOfErrorsWhenNotInMasterList(t *testing.T) {
	c := New(record.New(), "app", 0)
	c.MasterList = nil
	if _, err := c.indexOf(creation.New(creation.KindJig)); err == nil {
		t.Fatalf("expected indexOf to error on an empty master list")
	}
}
