// Package errors provides the closed error taxonomy for the runtime.
//
// Errors are categorized by Category (which subsystem) and Kind (what
// went wrong). Both sets are closed: no code outside this package
// introduces new categories or kinds. The Error type carries a static
// message, optional instruction/byte positions, and a fixed-size ring
// of context frames, so attaching context never allocates.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.CategoryMemory, errors.KindOutOfBounds).
//		Msg("load past end of linear memory").
//		PC(pc).
//		Context("len", 4).
//		Build()
//
// Or the convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(offset, length, size)
//	err := errors.BudgetExceeded(requested, available)
//
// Shared sentinels (ErrOutOfBounds, ErrBudgetExceeded, ...) exist for
// errors.Is matching; they are immutable and carry no positions.
package errors
