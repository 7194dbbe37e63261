package provider

import (
	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/errors"
)

// guardPages is the number of pages kept on each side of the usable
// region. Accesses resolving into a guard range fail before touching
// the backing, with the same OutOfBounds error as any other range
// violation.
const guardPages = 1

// PlatformProvider obtains page-granular backing with guard regions on
// both ends of the usable range. It stands in for the platform
// abstraction layer on hosts without hardware page protection: the
// guard ranges are enforced in software on every access.
type PlatformProvider struct {
	registry *budget.Registry
	crate    budget.CrateID
	backing  []byte
	pages    uint64
	tokens   []*budget.Token
}

// NewPlatformProvider maps pages wasm pages plus guard regions.
func NewPlatformProvider(reg *budget.Registry, crate budget.CrateID, pages uint64) (*PlatformProvider, error) {
	token, err := acquirePages(reg, crate, pages+2*guardPages)
	if err != nil {
		return nil, err
	}
	return &PlatformProvider{
		registry: reg,
		crate:    crate,
		backing:  make([]byte, (pages+2*guardPages)*PageSize),
		pages:    pages,
		tokens:   []*budget.Token{token},
	}, nil
}

func (p *PlatformProvider) Size() uint64 {
	return p.pages * PageSize
}

// usable returns the region between the guard pages.
func (p *PlatformProvider) usable() []byte {
	lo := uint64(guardPages * PageSize)
	return p.backing[lo : lo+p.pages*PageSize]
}

func (p *PlatformProvider) View(offset, length uint64) ([]byte, error) {
	if err := checkRange(offset, length, p.Size()); err != nil {
		return nil, err
	}
	return p.usable()[offset : offset+length], nil
}

func (p *PlatformProvider) Write(offset uint64, src []byte) error {
	if err := checkRange(offset, uint64(len(src)), p.Size()); err != nil {
		return err
	}
	copy(p.usable()[offset:], src)
	return nil
}

// Grow maps additional pages. The guard regions move with the end of
// the usable range; new bytes are zero.
func (p *PlatformProvider) Grow(pages uint64) error {
	token, err := acquirePages(p.registry, p.crate, pages)
	if err != nil {
		return err
	}
	grown := make([]byte, (p.pages+pages+2*guardPages)*PageSize)
	copy(grown[guardPages*PageSize:], p.usable())
	p.backing = grown
	p.pages += pages
	p.tokens = append(p.tokens, token)
	return nil
}

// CheckGuards verifies both guard regions are still zero. A non-zero
// byte means something wrote through the provider's bounds checks.
func (p *PlatformProvider) CheckGuards() error {
	lo := p.backing[:guardPages*PageSize]
	hi := p.backing[uint64(len(p.backing))-guardPages*PageSize:]
	for _, b := range lo {
		if b != 0 {
			return errors.ErrIntegrityFailure
		}
	}
	for _, b := range hi {
		if b != 0 {
			return errors.ErrIntegrityFailure
		}
	}
	return nil
}

func (p *PlatformProvider) Close() {
	for _, t := range p.tokens {
		t.Release()
	}
	p.tokens = nil
	p.backing = nil
}
