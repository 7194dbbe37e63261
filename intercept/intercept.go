package intercept

import (
	"context"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/runtime"
)

// Decision selects what a hook wants done with the call.
type Decision uint8

const (
	// Continue proceeds with the call unchanged.
	Continue Decision = iota
	// Replace substitutes the hook's values for the stage's output.
	Replace
	// Trap aborts the call with a trap of the carried kind.
	Trap
)

// Outcome is a hook's verdict at one hook point.
type Outcome struct {
	Values   []runtime.Value
	Decision Decision
	TrapKind errors.Kind
}

// ContinueOutcome is the neutral verdict.
func ContinueOutcome() Outcome {
	return Outcome{Decision: Continue}
}

// ReplaceOutcome substitutes values.
func ReplaceOutcome(values []runtime.Value) Outcome {
	return Outcome{Decision: Replace, Values: values}
}

// TrapOutcome aborts with a trap kind.
func TrapOutcome(kind errors.Kind) Outcome {
	return Outcome{Decision: Trap, TrapKind: kind}
}

// Call describes the host call being intercepted.
type Call struct {
	Module string
	Name   string
	Args   []runtime.Value
}

// Hook observes and steers a host call at four points. Bypass runs
// first and may satisfy the call without invoking the host function;
// Modify may rewrite the arguments; BeforeCall is the last gate before
// invocation; AfterCall may rewrite the results.
type Hook interface {
	Bypass(call *Call) Outcome
	Modify(call *Call) Outcome
	BeforeCall(call *Call) Outcome
	AfterCall(call *Call, results []runtime.Value) Outcome
}

// BaseHook returns Continue at every point. Embed it and override the
// points of interest.
type BaseHook struct{}

func (BaseHook) Bypass(*Call) Outcome                     { return ContinueOutcome() }
func (BaseHook) Modify(*Call) Outcome                     { return ContinueOutcome() }
func (BaseHook) BeforeCall(*Call) Outcome                 { return ContinueOutcome() }
func (BaseHook) AfterCall(*Call, []runtime.Value) Outcome { return ContinueOutcome() }

// Invoker performs the underlying host call with possibly rewritten
// arguments.
type Invoker func(ctx context.Context, args []runtime.Value) ([]runtime.Value, error)

// Chain applies hooks in registration order around a host call.
type Chain struct {
	hooks []Hook
}

// NewChain builds a chain over the given hooks.
func NewChain(hooks ...Hook) *Chain {
	return &Chain{hooks: hooks}
}

// Add appends a hook.
func (c *Chain) Add(h Hook) {
	c.hooks = append(c.hooks, h)
}

// Len returns the number of registered hooks.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.hooks)
}

// trapError converts a hook trap verdict into the error the engine
// maps to a trap.
func trapError(kind errors.Kind, call *Call) error {
	return errors.New(errors.CategoryRuntime, kind).
		Msg(call.Module + "." + call.Name).
		Build()
}

// Run drives the call through every hook point. A nil chain invokes
// directly.
func (c *Chain) Run(ctx context.Context, call *Call, invoke Invoker) ([]runtime.Value, error) {
	if c == nil || len(c.hooks) == 0 {
		return invoke(ctx, call.Args)
	}

	for _, h := range c.hooks {
		switch out := h.Bypass(call); out.Decision {
		case Replace:
			return out.Values, nil
		case Trap:
			return nil, trapError(out.TrapKind, call)
		}
	}

	for _, h := range c.hooks {
		switch out := h.Modify(call); out.Decision {
		case Replace:
			call.Args = out.Values
		case Trap:
			return nil, trapError(out.TrapKind, call)
		}
	}

	for _, h := range c.hooks {
		switch out := h.BeforeCall(call); out.Decision {
		case Replace:
			return out.Values, nil
		case Trap:
			return nil, trapError(out.TrapKind, call)
		}
	}

	results, err := invoke(ctx, call.Args)
	if err != nil {
		return nil, err
	}

	for _, h := range c.hooks {
		switch out := h.AfterCall(call, results); out.Decision {
		case Replace:
			results = out.Values
		case Trap:
			return nil, trapError(out.TrapKind, call)
		}
	}
	return results, nil
}
