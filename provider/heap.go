package provider

import (
	"github.com/wippyai/wrt/budget"
)

// HeapProvider backs its region with the Go heap and supports growth.
// Only profiles that permit runtime allocation should construct one;
// every grow acquires additional budget before touching the backing.
type HeapProvider struct {
	registry *budget.Registry
	crate    budget.CrateID
	buf      []byte
	tokens   []*budget.Token
}

// NewHeapProvider allocates size bytes against the crate's budget.
func NewHeapProvider(reg *budget.Registry, crate budget.CrateID, size uint64) (*HeapProvider, error) {
	token, err := reg.Acquire(crate, size)
	if err != nil {
		return nil, err
	}
	return &HeapProvider{
		registry: reg,
		crate:    crate,
		buf:      make([]byte, size),
		tokens:   []*budget.Token{token},
	}, nil
}

func (h *HeapProvider) Size() uint64 {
	return uint64(len(h.buf))
}

func (h *HeapProvider) View(offset, length uint64) ([]byte, error) {
	if err := checkRange(offset, length, uint64(len(h.buf))); err != nil {
		return nil, err
	}
	return h.buf[offset : offset+length], nil
}

func (h *HeapProvider) Write(offset uint64, src []byte) error {
	if err := checkRange(offset, uint64(len(src)), uint64(len(h.buf))); err != nil {
		return err
	}
	copy(h.buf[offset:], src)
	return nil
}

// Grow extends the backing by pages wasm pages. Budget is acquired
// first; on failure the backing is untouched. New bytes are zero.
func (h *HeapProvider) Grow(pages uint64) error {
	token, err := acquirePages(h.registry, h.crate, pages)
	if err != nil {
		return err
	}
	grown := make([]byte, uint64(len(h.buf))+pages*PageSize)
	copy(grown, h.buf)
	h.buf = grown
	h.tokens = append(h.tokens, token)
	return nil
}

func (h *HeapProvider) Close() {
	for _, t := range h.tokens {
		t.Release()
	}
	h.tokens = nil
	h.buf = nil
}
