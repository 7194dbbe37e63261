package budget

import (
	"sync/atomic"

	"github.com/wippyai/wrt/errors"
)

// Token proves the right to hold bytes against a crate's budget.
// Tokens are minted by Registry.Acquire, cannot be copied usefully
// (all state is unexported and release is guarded), and return their
// bytes to the budget exactly once.
type Token struct {
	registry *Registry
	crate    CrateID
	bytes    uint64
	released atomic.Bool
}

// Crate returns the crate this token draws from.
func (t *Token) Crate() CrateID {
	return t.crate
}

// Bytes returns the byte count the token holds.
func (t *Token) Bytes() uint64 {
	return t.bytes
}

// Release returns the token's bytes to the budget. Releasing twice is
// a no-op; only the first call adjusts the counter.
func (t *Token) Release() {
	if t == nil || t.registry == nil {
		return
	}
	if t.released.CompareAndSwap(false, true) {
		t.registry.release(t.crate, t.bytes)
	}
}

// Split carves n bytes out of the token into a new token of the same
// crate. The registry counter is untouched: the sum of the two tokens
// equals the original. Fails when n exceeds the token's bytes or the
// token was already released.
func (t *Token) Split(n uint64) (*Token, error) {
	if t.released.Load() {
		return nil, errors.New(errors.CategoryResource, errors.KindBudgetExceeded).
			Msg("split of released token").
			Build()
	}
	if n > t.bytes {
		return nil, errors.BudgetExceeded(n, t.bytes)
	}
	t.bytes -= n
	return &Token{registry: t.registry, crate: t.crate, bytes: n}, nil
}
