package errors_test

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/wrt/errors"
)

func TestErrorString(t *testing.T) {
	err := errors.New(errors.CategoryMemory, errors.KindOutOfBounds).
		Msg("load past end of linear memory").
		PC(42).
		Context("len", 4).
		Build()

	s := err.Error()
	for _, want := range []string{"[memory]", "out_of_bounds", "load past end", "pc=42", "(len=4)"} {
		if !strings.Contains(s, want) {
			t.Errorf("error string %q missing %q", s, want)
		}
	}
}

func TestIsMatchesCategoryAndKind(t *testing.T) {
	err := errors.OutOfBounds(100, 8, 64)
	if !stderrors.Is(err, errors.ErrOutOfBounds) {
		t.Error("constructed error should match sentinel")
	}
	if stderrors.Is(err, errors.ErrBudgetExceeded) {
		t.Error("out-of-bounds must not match budget sentinel")
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("mmap failed")
	err := errors.ProviderUnavailable("platform pages", cause)
	if !stderrors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}

func TestContextRingEvictsOldest(t *testing.T) {
	err := errors.New(errors.CategoryCore, errors.KindTypeMismatch).Build()
	for i := uint64(0); i < 6; i++ {
		err.PushContext("n", i)
	}
	frames := err.Context()
	if len(frames) != 4 {
		t.Fatalf("ring length = %d, want 4", len(frames))
	}
	if frames[0].Value != 2 || frames[3].Value != 5 {
		t.Errorf("ring holds %v, want oldest=2 newest=5", frames)
	}
}

func TestContextRingDoesNotAllocate(t *testing.T) {
	err := errors.New(errors.CategoryRuntime, errors.KindTrap).Build()
	allocs := testing.AllocsPerRun(100, func() {
		err.PushContext("pc", 7)
	})
	if allocs != 0 {
		t.Errorf("PushContext allocates %.1f per op, want 0", allocs)
	}
}

func TestSentinelsCoverTaxonomy(t *testing.T) {
	cases := []struct {
		err      *errors.Error
		category errors.Category
	}{
		{errors.ErrStackOverflow, errors.CategoryCore},
		{errors.ErrUnaligned, errors.CategoryMemory},
		{errors.ErrCapacityExceeded, errors.CategoryResource},
		{errors.ErrMalformedModule, errors.CategoryValidation},
		{errors.ErrFuelExhausted, errors.CategoryRuntime},
		{errors.ErrMissingImport, errors.CategoryLink},
		{errors.ErrProviderUnavailable, errors.CategorySystem},
	}
	for _, c := range cases {
		if c.err.Category != c.category {
			t.Errorf("%s: category = %s, want %s", c.err.Kind, c.err.Category, c.category)
		}
	}
}
