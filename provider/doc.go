// Package provider implements the memory providers that back every
// byte region in the runtime.
//
// A Provider is a contiguous, bounds-checked region with one of three
// backing strategies:
//
//	StaticArena      fixed backing carved at program start; never grows
//	HeapProvider     Go heap backing; grows when the profile allows it
//	PlatformProvider page-granular backing with guard regions
//
// Providers hold capability tokens (see package budget) covering their
// backing, acquire more before any growth, and release everything on
// Close. Reads never observe uninitialised bytes: backings are
// zero-filled on construction and on growth.
package provider
