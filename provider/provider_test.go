package provider_test

import (
	"testing"

	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/provider"
)

func newRegistry(t *testing.T, reserved uint64) *budget.Registry {
	t.Helper()
	r := budget.NewRegistry()
	if err := r.Configure(budget.CrateFoundation, reserved); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestStaticArenaBounds(t *testing.T) {
	reg := newRegistry(t, 1024)
	arena, err := provider.AcquireStaticArena(reg, budget.CrateFoundation, 128)
	if err != nil {
		t.Fatal(err)
	}
	defer arena.Close()

	if arena.Size() != 128 {
		t.Fatalf("size = %d, want 128", arena.Size())
	}

	if err := arena.Write(120, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("in-bounds write failed: %v", err)
	}
	if err := arena.Write(121, []byte{1, 2, 3, 4, 5, 6, 7, 8}); !errors.ErrOutOfBounds.Is(err) {
		t.Errorf("write past end = %v, want OutOfBounds", err)
	}
	if _, err := arena.View(128, 1); !errors.ErrOutOfBounds.Is(err) {
		t.Errorf("view past end = %v, want OutOfBounds", err)
	}
	// offset+len overflow must not wrap
	if _, err := arena.View(^uint64(0), 2); !errors.ErrOutOfBounds.Is(err) {
		t.Errorf("overflowing view = %v, want OutOfBounds", err)
	}
}

func TestStaticArenaZeroFilled(t *testing.T) {
	reg := newRegistry(t, 1024)
	dirty := make([]byte, 64)
	for i := range dirty {
		dirty[i] = 0xAA
	}
	tok, err := reg.Acquire(budget.CrateFoundation, 64)
	if err != nil {
		t.Fatal(err)
	}
	arena, err := provider.NewStaticArena(dirty, tok)
	if err != nil {
		t.Fatal(err)
	}
	defer arena.Close()

	view, err := arena.View(0, 64)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range view {
		if b != 0 {
			t.Fatalf("byte %d = %#x after construction, want 0", i, b)
		}
	}
}

func TestStaticArenaGrowFails(t *testing.T) {
	reg := newRegistry(t, 1024)
	arena, err := provider.AcquireStaticArena(reg, budget.CrateFoundation, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer arena.Close()

	if err := arena.Grow(1); err == nil {
		t.Error("static arena grow should fail")
	}
}

func TestHeapProviderGrow(t *testing.T) {
	reg := newRegistry(t, 4*provider.PageSize)
	h, err := provider.NewHeapProvider(reg, budget.CrateFoundation, provider.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if err := h.Write(0, []byte("persist")); err != nil {
		t.Fatal(err)
	}
	if err := h.Grow(2); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if h.Size() != 3*provider.PageSize {
		t.Fatalf("size after grow = %d, want %d", h.Size(), 3*provider.PageSize)
	}

	view, err := h.View(0, 7)
	if err != nil {
		t.Fatal(err)
	}
	if string(view) != "persist" {
		t.Errorf("contents lost across grow: %q", view)
	}

	// New range must read zero.
	tail, err := h.View(2*provider.PageSize, provider.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range tail {
		if b != 0 {
			t.Fatalf("grown byte %d = %#x, want 0", i, b)
		}
	}
}

func TestHeapProviderGrowOverBudget(t *testing.T) {
	reg := newRegistry(t, 2*provider.PageSize)
	h, err := provider.NewHeapProvider(reg, budget.CrateFoundation, provider.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	err = h.Grow(4)
	if !errors.ErrBudgetExceeded.Is(err) {
		t.Fatalf("grow over budget = %v, want BudgetExceeded", err)
	}
	if h.Size() != provider.PageSize {
		t.Errorf("failed grow mutated size: %d", h.Size())
	}
}

func TestPlatformProviderGuards(t *testing.T) {
	reg := newRegistry(t, 16*provider.PageSize)
	p, err := provider.NewPlatformProvider(reg, budget.CrateFoundation, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if p.Size() != 2*provider.PageSize {
		t.Fatalf("size = %d, want %d", p.Size(), 2*provider.PageSize)
	}
	if err := p.Write(2*provider.PageSize-1, []byte{0xFF}); err != nil {
		t.Fatalf("write at last byte: %v", err)
	}
	if err := p.Write(2*provider.PageSize, []byte{0xFF}); !errors.ErrOutOfBounds.Is(err) {
		t.Errorf("write into guard = %v, want OutOfBounds", err)
	}
	if err := p.CheckGuards(); err != nil {
		t.Errorf("guards dirty after bounded writes: %v", err)
	}

	if err := p.Grow(1); err != nil {
		t.Fatal(err)
	}
	view, err := p.View(2*provider.PageSize-1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if view[0] != 0xFF {
		t.Error("contents lost across grow")
	}
}

func TestCloseReleasesBudget(t *testing.T) {
	reg := newRegistry(t, 8*provider.PageSize)

	h, err := provider.NewHeapProvider(reg, budget.CrateFoundation, provider.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Grow(1); err != nil {
		t.Fatal(err)
	}
	h.Close()

	p, err := provider.NewPlatformProvider(reg, budget.CrateFoundation, 1)
	if err != nil {
		t.Fatal(err)
	}
	p.Close()

	if err := reg.CheckLeaks(); err != nil {
		t.Errorf("leak after Close: %v", err)
	}
}
