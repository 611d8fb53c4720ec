package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// HTLCLock is an optional, owner-selectable lock kind: a jig can hand this
// back from Owner.nextOwner() to make itself an escrow — claimable by the
// receiver with a secret, or refundable by the sender after a relative
// timelock. Adapted from the teacher's swap/htlc_script.go, which built the
// same script for a DEX atomic swap's funding output.
type HTLCLock struct {
	SecretHash     [32]byte
	ReceiverPubKey [33]byte
	SenderPubKey   [33]byte
	TimeoutBlocks  uint32
}

// NewHTLCLock validates and builds an HTLCLock.
func NewHTLCLock(secretHash, receiverPubKey, senderPubKey []byte, timeoutBlocks uint32) (*HTLCLock, error) {
	if len(secretHash) != 32 {
		return nil, &ErrInvalidLock{Reason: fmt.Sprintf("secret hash must be 32 bytes, got %d", len(secretHash))}
	}
	if len(receiverPubKey) != 33 {
		return nil, &ErrInvalidLock{Reason: fmt.Sprintf("receiver pubkey must be 33 bytes, got %d", len(receiverPubKey))}
	}
	if len(senderPubKey) != 33 {
		return nil, &ErrInvalidLock{Reason: fmt.Sprintf("sender pubkey must be 33 bytes, got %d", len(senderPubKey))}
	}
	if timeoutBlocks == 0 || timeoutBlocks > 0xFFFF {
		return nil, &ErrInvalidLock{Reason: "timeout blocks must be in (0, 65535]"}
	}
	l := &HTLCLock{TimeoutBlocks: timeoutBlocks}
	copy(l.SecretHash[:], secretHash)
	copy(l.ReceiverPubKey[:], receiverPubKey)
	copy(l.SenderPubKey[:], senderPubKey)
	return l, nil
}

// Script builds:
//
//	OP_IF
//	    OP_SHA256 <secret_hash> OP_EQUALVERIFY
//	    <receiver_pubkey> OP_CHECKSIG
//	OP_ELSE
//	    <timeout_blocks> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <sender_pubkey> OP_CHECKSIG
//	OP_ENDIF
func (l *HTLCLock) Script() ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(l.SecretHash[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(l.ReceiverPubKey[:])
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(l.TimeoutBlocks))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(l.SenderPubKey[:])
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)
	return builder.Script()
}

// WitnessProgram returns the P2WSH scriptPubKey (OP_0 <sha256(script)>) a
// Blockchain collaborator should fund to lock satoshis under this HTLC.
func (l *HTLCLock) WitnessProgram() ([]byte, error) {
	script, err := l.Script()
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(script)
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(hash[:])
	return builder.Script()
}

// ClaimWitness builds the witness stack for claiming with the secret.
func ClaimWitness(signature, secret, script []byte) [][]byte {
	return [][]byte{signature, secret, {0x01}, script}
}

// RefundWitness builds the witness stack for refunding after timeout.
func RefundWitness(signature, script []byte) [][]byte {
	return [][]byte{signature, {}, script}
}

// Domain reports this lock's script template: segwit v0, 32-byte program
// (P2WSH) — same domain as any other P2WSH lock, since domain identifies
// the witness program shape, not the script inside it.
func (l *HTLCLock) Domain() []byte {
	return append([]byte{}, domainHTLC...)
}

func (l *HTLCLock) String() string {
	return fmt.Sprintf("htlc:%s:%s:%d", hex.EncodeToString(l.SecretHash[:]), hex.EncodeToString(l.ReceiverPubKey[:]), l.TimeoutBlocks)
}
