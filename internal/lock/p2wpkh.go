package lock

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// P2WPKHLock locks a creation to a single compressed public key via a
// pay-to-witness-pubkey-hash output, the default Owner lock kind.
type P2WPKHLock struct {
	PubKeyHash [20]byte
}

// NewP2WPKHLock builds a P2WPKHLock from a 20-byte hash160 of a compressed
// public key.
func NewP2WPKHLock(pubKeyHash []byte) (*P2WPKHLock, error) {
	if len(pubKeyHash) != 20 {
		return nil, &ErrInvalidLock{Reason: fmt.Sprintf("pubkey hash must be 20 bytes, got %d", len(pubKeyHash))}
	}
	l := &P2WPKHLock{}
	copy(l.PubKeyHash[:], pubKeyHash)
	return l, nil
}

// Script builds the OP_0 <hash160> witness program.
func (l *P2WPKHLock) Script() ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(l.PubKeyHash[:])
	return builder.Script()
}

// Domain reports this lock's script template: segwit v0, 20-byte program.
func (l *P2WPKHLock) Domain() []byte {
	return append([]byte{}, domainP2WPKH...)
}

func (l *P2WPKHLock) String() string {
	return "p2wpkh:" + hex.EncodeToString(l.PubKeyHash[:])
}
