package provider

import (
	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/errors"
)

// PageSize is the wasm page granularity shared by all providers.
const PageSize = 65536

// Provider backs a contiguous region of bytes with a specific
// allocation strategy. All accesses are bounds-checked; a returned
// view is valid only until the next Grow and must not be retained.
// Every provider holds capability tokens sized to its backing and
// releases them on Close.
type Provider interface {
	// Size returns the current backing size in bytes.
	Size() uint64

	// View returns the byte range [offset, offset+length) or
	// OutOfBounds when the range exceeds the backing.
	View(offset, length uint64) ([]byte, error)

	// Write copies src into the backing at offset, or fails with
	// OutOfBounds without partial effect.
	Write(offset uint64, src []byte) error

	// Grow extends the backing by pages wasm pages, zero-filling the
	// new range. Providers with fixed backings always fail.
	Grow(pages uint64) error

	// Close releases the provider's capability tokens. The backing
	// must not be used afterwards.
	Close()
}

// checkRange validates offset+length against size without overflow.
func checkRange(offset, length, size uint64) error {
	if length > size || offset > size-length {
		return errors.OutOfBounds(offset, length, size)
	}
	return nil
}

// zero clears b. Providers never expose uninitialised bytes.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// acquirePages reserves page-granular backing bytes from a registry.
func acquirePages(reg *budget.Registry, crate budget.CrateID, pages uint64) (*budget.Token, error) {
	return reg.Acquire(crate, pages*PageSize)
}
