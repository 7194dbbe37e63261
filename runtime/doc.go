// Package runtime materializes module images into instances.
//
// A Store validates a wasm.Image and builds an Instance: linear
// memories and global regions drawn from budget-accounted providers
// and wrapped in verified slices, bounded tables, and host bindings
// resolved by name through a HostRegistry. Missing imports fail with
// a link error before any guest code runs.
//
// The store never executes guest instructions; the execution engine
// runs the start function and everything after it.
package runtime
