package provider

import (
	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/errors"
)

// StaticArena is a fixed byte region carved out at program start. It
// never grows; the strictest profile uses only arenas so that no
// allocation happens after initialization.
type StaticArena struct {
	buf   []byte
	token *budget.Token
}

// NewStaticArena wraps buf as a provider, zero-filling it first. The
// token must cover len(buf) bytes; it is released on Close.
func NewStaticArena(buf []byte, token *budget.Token) (*StaticArena, error) {
	if token == nil || token.Bytes() < uint64(len(buf)) {
		return nil, errors.New(errors.CategoryResource, errors.KindBudgetExceeded).
			Msg("token smaller than arena backing").
			Build()
	}
	zero(buf)
	return &StaticArena{buf: buf, token: token}, nil
}

// AcquireStaticArena reserves size bytes from the registry and carves
// a fresh arena over them.
func AcquireStaticArena(reg *budget.Registry, crate budget.CrateID, size uint64) (*StaticArena, error) {
	token, err := reg.Acquire(crate, size)
	if err != nil {
		return nil, err
	}
	return &StaticArena{buf: make([]byte, size), token: token}, nil
}

func (a *StaticArena) Size() uint64 {
	return uint64(len(a.buf))
}

func (a *StaticArena) View(offset, length uint64) ([]byte, error) {
	if err := checkRange(offset, length, uint64(len(a.buf))); err != nil {
		return nil, err
	}
	return a.buf[offset : offset+length], nil
}

func (a *StaticArena) Write(offset uint64, src []byte) error {
	if err := checkRange(offset, uint64(len(src)), uint64(len(a.buf))); err != nil {
		return err
	}
	copy(a.buf[offset:], src)
	return nil
}

// Grow always fails: arena backing is fixed at construction.
func (a *StaticArena) Grow(pages uint64) error {
	return errors.New(errors.CategorySystem, errors.KindProviderUnavailable).
		Msg("static arena cannot grow").
		Build()
}

func (a *StaticArena) Close() {
	a.token.Release()
	a.buf = nil
}
