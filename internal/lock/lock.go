// Package lock implements the Lock collaborator from spec.md §6: a
// creation's owner is a lock descriptor, not a raw address — something that
// can render itself to a locking script and report a domain identifying its
// script template, so the kernel can compare ownership without parsing
// bitcoin script.
//
// Script construction is grounded on the teacher's swap/script.go and
// swap/htlc_script.go (txscript.ScriptBuilder usage, P2WSH address
// derivation); the HTLC lock kind is an optional, owner-selectable variant
// a Jig can choose for itself (e.g. an escrow contract), not something the
// protocol mandates.
package lock

import "fmt"

// Descriptor is the Lock collaborator interface (spec.md §6): script()→hex,
// domain()→bytes. It also satisfies creation.Owner (String() string) so a
// Descriptor can be stored directly in a Bindings.Owner field.
type Descriptor interface {
	// Script returns the locking script bytes for this lock.
	Script() ([]byte, error)
	// Domain returns a byte identifier of this lock's script template,
	// letting callers compare "same kind of lock" without parsing script.
	Domain() []byte
	// String renders a debug-friendly, stable identity for the lock.
	String() string
}

// domain tags, one per lock kind this package implements.
var (
	domainP2WPKH = []byte{0x00, 0x14} // segwit v0, 20-byte program
	domainP2TR   = []byte{0x01, 0x20} // segwit v1 (taproot), 32-byte program
	domainHTLC   = []byte{0x00, 0x20} // segwit v0, 32-byte program (P2WSH)
)

// ErrInvalidLock is returned by constructors given malformed key/hash material.
type ErrInvalidLock struct{ Reason string }

func (e *ErrInvalidLock) Error() string { return fmt.Sprintf("invalid lock: %s", e.Reason) }
