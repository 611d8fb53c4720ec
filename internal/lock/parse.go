package lock

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/txscript"
)

// ParseOwnerScript reverse-parses a scriptPubKey observed on-chain back into
// a Descriptor, the direction internal/storage's Loader needs: it only ever
// sees the locking script of an already-published output, never the
// original Descriptor value that built it.
//
// A P2WPKH program round-trips to a full *P2WPKHLock. A P2WSH program
// (including this package's own HTLCLock) round-trips to a
// witnessScriptLock: enough to compare ownership and re-derive Domain, but
// not the underlying script's parameters, which this package has no way to
// recover from the program hash alone. Every other script, including a
// taproot (P2TR) program, is rejected with ErrInvalidLock.
func ParseOwnerScript(script []byte) (Descriptor, error) {
	if len(script) == 22 && script[0] == 0x00 && script[1] == 0x14 {
		return NewP2WPKHLock(script[2:22])
	}
	if len(script) == 34 && script[0] == 0x00 && script[1] == 0x20 {
		return &witnessScriptLock{program: append([]byte{}, script[2:34]...)}, nil
	}
	return nil, &ErrInvalidLock{Reason: "unrecognized scriptPubKey, not a known witness program"}
}

// witnessScriptLock is an opaque P2WSH owner recovered from chain data with
// no way back to the script that produced its hash.
type witnessScriptLock struct {
	program []byte
}

func (l *witnessScriptLock) Script() ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(l.program)
	return builder.Script()
}

func (l *witnessScriptLock) Domain() []byte {
	return append([]byte{}, domainHTLC...)
}

func (l *witnessScriptLock) String() string {
	return "p2wsh:" + hex.EncodeToString(l.program)
}
