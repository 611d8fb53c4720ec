package commit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ExtractMetadata parses a raw transaction's OP_RETURN output and rebuilds
// the *Metadata it carries — the inverse of BuildPartialTx/BuildMetadata,
// for a peer that has only the bytes off the chain. App, Version, and the
// core {in,ref,out,del,cre,exec} fields all come from the OP_RETURN push;
// Base and Vrun are "stripped, carried elsewhere" (BuildPartialTx's own
// comment) and are recovered here by counting outputs: whatever isn't the
// OP_RETURN and isn't one of the len(out) jig outputs is a base output.
func ExtractMetadata(rawtx []byte) (*Metadata, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawtx)); err != nil {
		return nil, fmt.Errorf("commit: parsing transaction: %w", err)
	}
	if len(tx.TxOut) == 0 {
		return nil, fmt.Errorf("commit: transaction has no outputs")
	}

	pushes, err := txscript.PushedData(tx.TxOut[0].PkScript)
	if err != nil {
		return nil, fmt.Errorf("commit: parsing output 0 as a push-only script: %w", err)
	}
	if len(pushes) != 4 {
		return nil, fmt.Errorf("commit: output 0 carries %d push(es), want 4 (prefix, version, app, metadata)", len(pushes))
	}
	if string(pushes[0]) != OPReturnPrefix {
		return nil, fmt.Errorf("commit: output 0's prefix push is %q, want %q", pushes[0], OPReturnPrefix)
	}
	if len(pushes[1]) != 1 {
		return nil, fmt.Errorf("commit: output 0's version push has length %d, want 1", len(pushes[1]))
	}

	var meta Metadata
	if err := json.Unmarshal(pushes[3], &meta); err != nil {
		return nil, fmt.Errorf("commit: decoding metadata json: %w", err)
	}
	meta.App = string(pushes[2])
	meta.Version = pushes[1][0]

	if len(meta.Out) > len(tx.TxOut)-1 {
		return nil, fmt.Errorf("commit: metadata declares %d output(s) but the transaction only has %d non-OP_RETURN output(s)", len(meta.Out), len(tx.TxOut)-1)
	}
	base := len(tx.TxOut) - 1 - len(meta.Out)
	meta.Base = base
	meta.Vrun = base

	return &meta, nil
}
