// Package resource implements the reference-counted handle table for
// host objects crossing the guest boundary.
//
// Guests hold externref values whose payload is a Handle into an
// instance's table; the host keeps the real object. References are
// counted explicitly (Insert gives one, Retain/Release adjust), and a
// value implementing Dropper runs its destructor when the last
// reference is released. Observers receive lifecycle events for
// leak diagnostics.
package resource
