package lock

import (
	"bytes"
	"testing"
)

func TestP2WPKHScriptShape(t *testing.T) {
	hash := bytes.Repeat([]byte{0xAB}, 20)
	l, err := NewP2WPKHLock(hash)
	if err != nil {
		t.Fatalf("NewP2WPKHLock: %v", err)
	}
	script, err := l.Script()
	if err != nil {
		t.Fatalf("Script: %v", err)
	}
	// OP_0 (0x00) + push-20 (0x14) + 20 bytes
	if len(script) != 22 || script[0] != 0x00 || script[1] != 0x14 {
		t.Fatalf("unexpected script shape: %x", script)
	}
}

func TestP2WPKHRejectsWrongLength(t *testing.T) {
	if _, err := NewP2WPKHLock([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short hash")
	}
}

func TestP2TRScriptShape(t *testing.T) {
	key := bytes.Repeat([]byte{0xCD}, 32)
	l, err := NewP2TRLock(key)
	if err != nil {
		t.Fatalf("NewP2TRLock: %v", err)
	}
	script, err := l.Script()
	if err != nil {
		t.Fatalf("Script: %v", err)
	}
	if len(script) != 34 || script[0] != 0x51 || script[1] != 0x20 {
		t.Fatalf("unexpected script shape: %x", script)
	}
}

func TestHTLCLockScriptAndDomain(t *testing.T) {
	secretHash := bytes.Repeat([]byte{0x01}, 32)
	receiver := bytes.Repeat([]byte{0x02}, 33)
	sender := bytes.Repeat([]byte{0x03}, 33)

	l, err := NewHTLCLock(secretHash, receiver, sender, 144)
	if err != nil {
		t.Fatalf("NewHTLCLock: %v", err)
	}
	script, err := l.Script()
	if err != nil {
		t.Fatalf("Script: %v", err)
	}
	if len(script) == 0 {
		t.Fatalf("expected non-empty script")
	}
	prog, err := l.WitnessProgram()
	if err != nil {
		t.Fatalf("WitnessProgram: %v", err)
	}
	if len(prog) != 34 || prog[0] != 0x00 || prog[1] != 0x20 {
		t.Fatalf("unexpected witness program shape: %x", prog)
	}
	if !bytes.Equal(l.Domain(), domainHTLC) {
		t.Fatalf("expected HTLC domain tag")
	}
}

func TestHTLCLockRejectsBadTimeout(t *testing.T) {
	secretHash := bytes.Repeat([]byte{0x01}, 32)
	receiver := bytes.Repeat([]byte{0x02}, 33)
	sender := bytes.Repeat([]byte{0x03}, 33)
	if _, err := NewHTLCLock(secretHash, receiver, sender, 0); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
	if _, err := NewHTLCLock(secretHash, receiver, sender, 70000); err == nil {
		t.Fatalf("expected error for oversized timeout")
	}
}
