// Package safemem layers integrity-checked views and bounded
// collections over memory providers.
//
// A Slice is a bounds-checked window into a provider with a small-state
// checksum maintained across mutations. Its verification Level decides
// when the checksum is recomputed and compared: never (Off), on read
// (Basic), on a deterministic sample of accesses (Sampling), on every
// access (Full), or on every access with two independent functions
// (Redundant). Accesses the engine marks important are probed at every
// level except Off.
//
// BoundedVec, BoundedStack and BoundedMap are capacity-capped
// containers: capacity is fixed at construction, overflow fails with
// CapacityExceeded, and a failed operation never mutates state. The
// Acquire variants charge their full capacity to a budget crate up
// front, which keeps the strictest profile free of allocation after
// initialization.
package safemem
