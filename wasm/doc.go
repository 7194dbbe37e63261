// Package wasm defines the core WebAssembly module image: value
// types, section structures, decoded instructions, and the binary
// codec.
//
// An Image is the validated, immutable module description the runtime
// instantiates from. ParseImage decodes a core binary into an Image
// with fully decoded instruction bodies; Validate checks the
// structural invariants the execution engine relies on (indices in
// range, branch targets within their nesting, control structure
// balanced). Encode serializes an Image back to the binary format,
// which keeps the image usable with external runtimes for
// differential testing.
//
// The package covers core wasm (MVP plus sign extension, saturating
// truncation, bulk memory, and reference types). Component-model
// layers sit outside this module.
package wasm
