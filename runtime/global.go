package runtime

import (
	"encoding/binary"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/provider"
	"github.com/wippyai/wrt/safemem"
	"github.com/wippyai/wrt/wasm"
)

// globalSlot is the byte size of one global in the backing region:
// a type tag, padding, then the two payload words little-endian.
const globalSlot = 24

// GlobalStore keeps instance globals in a provider-backed verified
// region, so a flipped bit in the backing store surfaces as an
// IntegrityFailure on the next access instead of as silent corruption.
type GlobalStore struct {
	prov    provider.Provider
	slice   *safemem.Slice
	types   []wasm.GlobalType
	ownProv bool
}

// NewGlobalStore lays out count slots in prov and records each
// global's declared type.
func NewGlobalStore(prov provider.Provider, types []wasm.GlobalType, level safemem.Level, ownProv bool) (*GlobalStore, error) {
	need := uint64(len(types)) * globalSlot
	if prov.Size() < need {
		return nil, errors.ProviderUnavailable("provider smaller than global region", nil)
	}
	slice, err := safemem.NewSlice(prov, 0, need, level)
	if err != nil {
		return nil, err
	}
	return &GlobalStore{prov: prov, slice: slice, types: types, ownProv: ownProv}, nil
}

// Len returns the number of globals.
func (g *GlobalStore) Len() int {
	return len(g.types)
}

// Type returns the declared type of global idx.
func (g *GlobalStore) Type(idx uint32) (wasm.GlobalType, error) {
	if int(idx) >= len(g.types) {
		return wasm.GlobalType{}, errors.IndexOutOfRange("global", uint64(idx), uint64(len(g.types)))
	}
	return g.types[idx], nil
}

// Get reads global idx through the verified slice.
func (g *GlobalStore) Get(idx uint32) (Value, error) {
	gt, err := g.Type(idx)
	if err != nil {
		return Value{}, err
	}
	raw, err := g.slice.Read(uint64(idx)*globalSlot, globalSlot)
	if err != nil {
		return Value{}, err
	}
	return Value{
		Type: gt.Type,
		Lo:   binary.LittleEndian.Uint64(raw[8:16]),
		Hi:   binary.LittleEndian.Uint64(raw[16:24]),
	}, nil
}

// Set writes global idx. The declared type must match; mutability is
// enforced by validation and not checked here.
func (g *GlobalStore) Set(idx uint32, v Value) error {
	gt, err := g.Type(idx)
	if err != nil {
		return err
	}
	if gt.Type != v.Type {
		return errors.ErrTypeMismatch
	}
	var raw [globalSlot]byte
	raw[0] = byte(v.Type)
	binary.LittleEndian.PutUint64(raw[8:16], v.Lo)
	binary.LittleEndian.PutUint64(raw[16:24], v.Hi)
	return g.slice.Write(uint64(idx)*globalSlot, raw[:])
}

// setInit writes the initial value at instantiation time, without the
// type check Set performs.
func (g *GlobalStore) setInit(idx uint32, v Value) error {
	var raw [globalSlot]byte
	raw[0] = byte(v.Type)
	binary.LittleEndian.PutUint64(raw[8:16], v.Lo)
	binary.LittleEndian.PutUint64(raw[16:24], v.Hi)
	return g.slice.Write(uint64(idx)*globalSlot, raw[:])
}

// Reseed rebinds the sampling selector to an instruction position.
func (g *GlobalStore) Reseed(pc uint64) {
	g.slice.Reseed(pc)
}

// Verify runs an explicit integrity probe over the global region.
func (g *GlobalStore) Verify() error {
	return g.slice.Verify()
}

// Rehash accepts the current backing contents as the new checksum
// baseline.
func (g *GlobalStore) Rehash() error {
	return g.slice.Rehash()
}

// Close releases the backing provider when the store owns it.
func (g *GlobalStore) Close() {
	if g.ownProv {
		g.prov.Close()
	}
}
