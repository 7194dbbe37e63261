// Package budget implements the capability and budget registry.
//
// Every allocation in the runtime flows through a Registry: each
// subsystem (CrateID) reserves a byte budget once at initialization,
// and acquires capability tokens against it at run time. A Token is
// the only proof of the right to hold backing bytes; providers keep
// their token for as long as their backing lives and release it on
// teardown. The registry guarantees that the sum of live token bytes
// per crate always equals the crate's in_use counter, and surfaces a
// non-zero counter at teardown as a ResourceLeak.
//
// The registry is the only mandatory synchronization point between
// engines; it is safe for concurrent use.
package budget
