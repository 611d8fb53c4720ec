package commit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// BuildPartialTx is publish step 10: OP_FALSE OP_RETURN "run" <version byte>
// <app string> <json metadata-without-{app,version,vrun,base}>, followed by
// the base outputs the caller already attached to BaseTx, followed by one
// locking-script output per output-jig with satoshis = max(requested, dust).
//
// Grounded on swap/tx.go's BuildFundingTx (wire.NewMsgTx / wire.NewTxOut /
// OP_RETURN push patterns), generalized from a fixed swap/DAO-fee output
// shape to the protocol's {op_return, base..., jig...} layout.
func (c *Commit) BuildPartialTx() error {
	if c.BaseTx == nil {
		return fmt.Errorf("commit: BaseTx must be set before BuildPartialTx")
	}
	if c.Metadata == nil {
		return fmt.Errorf("commit: metadata must be built before BuildPartialTx")
	}

	core, err := c.Metadata.coreJSON()
	if err != nil {
		return fmt.Errorf("commit: marshaling core metadata: %w", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, core); err != nil {
		return fmt.Errorf("commit: compacting metadata json: %w", err)
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_RETURN)
	builder.AddData([]byte(OPReturnPrefix))
	builder.AddData([]byte{c.Metadata.Version})
	builder.AddData([]byte(c.Metadata.App))
	builder.AddData(compact.Bytes())
	opReturnScript, err := builder.Script()
	if err != nil {
		return fmt.Errorf("commit: building OP_RETURN script: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range c.BaseTx.TxIn {
		tx.AddTxIn(in)
	}
	tx.AddTxOut(wire.NewTxOut(0, opReturnScript))
	for _, out := range c.BaseTx.TxOut {
		tx.AddTxOut(out)
	}

	outputs := c.Rec.Outputs()
	for _, output := range outputs {
		script, ok := c.OutputScripts[output]
		if !ok {
			return fmt.Errorf("commit: output %s has no locking script, run GenerateOutputScripts first", output)
		}
		satoshis := output.Satoshis
		if satoshis < DustSatoshis {
			satoshis = DustSatoshis
		}
		tx.AddTxOut(wire.NewTxOut(int64(satoshis), script))
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("commit: serializing partial tx: %w", err)
	}
	c.PartialTx = buf.Bytes()
	return nil
}
