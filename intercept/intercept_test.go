package intercept_test

import (
	"context"
	"testing"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/intercept"
	"github.com/wippyai/wrt/runtime"
)

type recordingHook struct {
	intercept.BaseHook
	bypass   intercept.Outcome
	modify   intercept.Outcome
	before   intercept.Outcome
	after    intercept.Outcome
	calls    []string
}

func (h *recordingHook) Bypass(c *intercept.Call) intercept.Outcome {
	h.calls = append(h.calls, "bypass")
	return h.bypass
}

func (h *recordingHook) Modify(c *intercept.Call) intercept.Outcome {
	h.calls = append(h.calls, "modify")
	return h.modify
}

func (h *recordingHook) BeforeCall(c *intercept.Call) intercept.Outcome {
	h.calls = append(h.calls, "before")
	return h.before
}

func (h *recordingHook) AfterCall(c *intercept.Call, _ []runtime.Value) intercept.Outcome {
	h.calls = append(h.calls, "after")
	return h.after
}

func neutralHook() *recordingHook {
	return &recordingHook{
		bypass: intercept.ContinueOutcome(),
		modify: intercept.ContinueOutcome(),
		before: intercept.ContinueOutcome(),
		after:  intercept.ContinueOutcome(),
	}
}

func echo(_ context.Context, args []runtime.Value) ([]runtime.Value, error) {
	return args, nil
}

func TestChainContinueInvokes(t *testing.T) {
	h := neutralHook()
	chain := intercept.NewChain(h)

	call := &intercept.Call{Module: "env", Name: "echo", Args: []runtime.Value{runtime.I32(5)}}
	results, err := chain.Run(context.Background(), call, echo)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].AsI32() != 5 {
		t.Errorf("results = %v", results)
	}
	want := []string{"bypass", "modify", "before", "after"}
	for i, w := range want {
		if h.calls[i] != w {
			t.Errorf("hook order %v, want %v", h.calls, want)
			break
		}
	}
}

func TestChainBypassSkipsInvoke(t *testing.T) {
	h := neutralHook()
	h.bypass = intercept.ReplaceOutcome([]runtime.Value{runtime.I32(99)})
	chain := intercept.NewChain(h)

	invoked := false
	call := &intercept.Call{Module: "env", Name: "f"}
	results, err := chain.Run(context.Background(), call, func(_ context.Context, _ []runtime.Value) ([]runtime.Value, error) {
		invoked = true
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if invoked {
		t.Error("bypass must skip the host function")
	}
	if results[0].AsI32() != 99 {
		t.Errorf("results = %v", results)
	}
}

func TestChainModifyRewritesArgs(t *testing.T) {
	h := neutralHook()
	h.modify = intercept.ReplaceOutcome([]runtime.Value{runtime.I32(7)})
	chain := intercept.NewChain(h)

	call := &intercept.Call{Module: "env", Name: "echo", Args: []runtime.Value{runtime.I32(1)}}
	results, err := chain.Run(context.Background(), call, echo)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].AsI32() != 7 {
		t.Errorf("modified args not applied: %v", results)
	}
}

func TestChainAfterCallRewritesResults(t *testing.T) {
	h := neutralHook()
	h.after = intercept.ReplaceOutcome([]runtime.Value{runtime.I32(-1)})
	chain := intercept.NewChain(h)

	call := &intercept.Call{Module: "env", Name: "echo", Args: []runtime.Value{runtime.I32(3)}}
	results, err := chain.Run(context.Background(), call, echo)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].AsI32() != -1 {
		t.Errorf("results = %v, want replaced -1", results)
	}
}

func TestChainTrap(t *testing.T) {
	h := neutralHook()
	h.before = intercept.TrapOutcome(errors.KindTrap)
	chain := intercept.NewChain(h)

	call := &intercept.Call{Module: "env", Name: "f"}
	_, err := chain.Run(context.Background(), call, echo)
	if err == nil {
		t.Fatal("expected trap error")
	}
}

func TestNilChainInvokesDirectly(t *testing.T) {
	var chain *intercept.Chain
	call := &intercept.Call{Args: []runtime.Value{runtime.I64(8)}}
	results, err := chain.Run(context.Background(), call, echo)
	if err != nil || results[0].AsI64() != 8 {
		t.Errorf("nil chain: %v %v", results, err)
	}
}
