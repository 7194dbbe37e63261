package runtime

import (
	"go.uber.org/zap"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/provider"
	"github.com/wippyai/wrt/safemem"
)

// PageSize is the wasm linear memory page granularity.
const PageSize = provider.PageSize

// LinearMemory is a paged guest memory backed by one provider and
// accessed through a verified slice. Growth obeys both the module's
// declared maximum and the owning instance's memory budget; a growth
// the budget rejects fails silently to the guest per wasm semantics.
type LinearMemory struct {
	prov     provider.Provider
	slice    *safemem.Slice
	logger   *zap.Logger
	pages    uint32
	maxPages uint32
}

// NewLinearMemory builds a memory of min pages over a fresh view of
// prov, which must already be at least min pages large. maxPages caps
// growth (from the module's declared max, clamped by the engine's
// budget policy).
func NewLinearMemory(prov provider.Provider, minPages, maxPages uint32, level safemem.Level, logger *zap.Logger) (*LinearMemory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prov.Size() < uint64(minPages)*PageSize {
		return nil, errors.ProviderUnavailable("provider smaller than declared min pages", nil)
	}
	slice, err := safemem.NewSlice(prov, 0, uint64(minPages)*PageSize, level)
	if err != nil {
		return nil, err
	}
	return &LinearMemory{
		prov:     prov,
		slice:    slice,
		logger:   logger,
		pages:    minPages,
		maxPages: maxPages,
	}, nil
}

// Pages returns the current size in pages.
func (m *LinearMemory) Pages() uint32 {
	return m.pages
}

// Size returns the current size in bytes.
func (m *LinearMemory) Size() uint64 {
	return uint64(m.pages) * PageSize
}

// Grow extends the memory by delta pages, returning the previous page
// count, or -1 without mutation when the module maximum or the memory
// budget refuses. This is memory.grow's contract.
func (m *LinearMemory) Grow(delta uint32) int32 {
	old := m.pages
	if delta == 0 {
		return int32(old)
	}
	if uint64(old)+uint64(delta) > uint64(m.maxPages) {
		return -1
	}
	needed := uint64(old+delta)*PageSize - m.prov.Size()
	if needed > 0 {
		growPages := (needed + PageSize - 1) / PageSize
		if err := m.prov.Grow(growPages); err != nil {
			// Silent to the guest; observable to the host.
			m.logger.Warn("memory growth rejected",
				zap.Uint32("current_pages", old),
				zap.Uint32("delta_pages", delta),
				zap.Error(err))
			return -1
		}
	}

	slice, err := safemem.NewSlice(m.prov, 0, uint64(old+delta)*PageSize, m.slice.Level())
	if err != nil {
		m.logger.Warn("memory view rebuild failed", zap.Error(err))
		return -1
	}
	m.slice = slice
	m.pages = old + delta
	return int32(old)
}

// ReadBytes reads length bytes at off with a single bounds check
// against the current page count.
func (m *LinearMemory) ReadBytes(off, length uint64) ([]byte, error) {
	return m.slice.Read(off, length)
}

// WriteBytes writes src at off.
func (m *LinearMemory) WriteBytes(off uint64, src []byte) error {
	return m.slice.Write(off, src)
}

// WriteBytesImportant writes with a forced integrity probe, used for
// stores the verification harness classifies as important.
func (m *LinearMemory) WriteBytesImportant(off uint64, src []byte) error {
	return m.slice.WriteImportant(off, src)
}

// Reseed rebinds the sampling selector to an instruction position.
func (m *LinearMemory) Reseed(pc uint64) {
	m.slice.Reseed(pc)
}

// Verify runs an explicit integrity probe over the whole memory.
func (m *LinearMemory) Verify() error {
	return m.slice.Verify()
}

// NearPageBound reports whether a store of length at off lands within
// slack bytes of a page boundary. The verification harness upgrades
// such stores to important.
func NearPageBound(off, length, slack uint64) bool {
	endInPage := (off + length) % PageSize
	startInPage := off % PageSize
	if endInPage == 0 || endInPage > PageSize-slack {
		return true
	}
	return off >= PageSize && startInPage < slack
}

// Close releases the backing provider.
func (m *LinearMemory) Close() {
	m.prov.Close()
}
