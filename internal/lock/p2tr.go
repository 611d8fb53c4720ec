package lock

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

// P2TRLock locks a creation to a taproot output key (key-path spend only —
// no script path; an owner wanting script-path capability builds one at the
// application layer and wraps it as an HTLCLock or a bespoke Descriptor).
type P2TRLock struct {
	OutputKey [32]byte // x-only taproot output key
}

// NewP2TRLock builds a P2TRLock from a 32-byte x-only public key.
func NewP2TRLock(outputKey []byte) (*P2TRLock, error) {
	if len(outputKey) != 32 {
		return nil, &ErrInvalidLock{Reason: fmt.Sprintf("taproot output key must be 32 bytes, got %d", len(outputKey))}
	}
	l := &P2TRLock{}
	copy(l.OutputKey[:], outputKey)
	return l, nil
}

// NewP2TRLockFromPubKey derives a P2TRLock from a full public key by taking
// its schnorr x-only serialization.
func NewP2TRLockFromPubKey(pubKey *btcec.PublicKey) (*P2TRLock, error) {
	return NewP2TRLock(schnorr.SerializePubKey(pubKey))
}

// Script builds the OP_1 <32-byte-x-only-key> witness program.
func (l *P2TRLock) Script() ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_1)
	builder.AddData(l.OutputKey[:])
	return builder.Script()
}

// Domain reports this lock's script template: segwit v1, 32-byte program.
func (l *P2TRLock) Domain() []byte {
	return append([]byte{}, domainP2TR...)
}

func (l *P2TRLock) String() string {
	return "p2tr:" + hex.EncodeToString(l.OutputKey[:])
}
