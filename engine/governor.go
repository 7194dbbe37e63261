package engine

import (
	"go.uber.org/zap"
)

// Stats are the execution counters the governor maintains.
type Stats struct {
	InstructionsExecuted uint64
	FunctionCalls        uint64
	MemoryOperations     uint64
	FuelConsumed         uint64
	PeakFrameDepth       int
	PeakOperandHeight    int
}

// Governor owns the engine's fuel counter and resource accounting.
// Fuel decreases monotonically between refuels; when an instruction's
// cost exceeds the remaining fuel the engine pauses instead of
// executing it.
type Governor struct {
	logger        *zap.Logger
	fuel          uint64
	stats         Stats
	frameWarn     int
	operandWarn   int
	warnedFrames  bool
	warnedOperand bool
}

// NewGovernor builds a governor with the given initial fuel. Warning
// thresholds of zero disable the corresponding events.
func NewGovernor(fuel uint64, frameWarn, operandWarn int, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{logger: logger, fuel: fuel, frameWarn: frameWarn, operandWarn: operandWarn}
}

// Remaining returns the fuel left.
func (g *Governor) Remaining() uint64 {
	return g.fuel
}

// TryConsume deducts cost if enough fuel remains, reporting whether
// the deduction happened.
func (g *Governor) TryConsume(cost uint64) bool {
	if g.fuel < cost {
		return false
	}
	g.fuel -= cost
	g.stats.FuelConsumed += cost
	return true
}

// Refuel adds fuel, saturating instead of wrapping.
func (g *Governor) Refuel(n uint64) {
	if g.fuel+n < g.fuel {
		g.fuel = ^uint64(0)
		return
	}
	g.fuel += n
}

// Exhaust drops the fuel to zero. Hosts use it for cooperative
// cancellation: the engine pauses at the next instruction boundary.
func (g *Governor) Exhaust() {
	g.fuel = 0
}

// Stats returns a copy of the counters.
func (g *Governor) Stats() Stats {
	return g.stats
}

func (g *Governor) noteInstruction() {
	g.stats.InstructionsExecuted++
}

func (g *Governor) noteCall() {
	g.stats.FunctionCalls++
}

func (g *Governor) noteMemoryOp() {
	g.stats.MemoryOperations++
}

// noteFrameDepth records the frame stack height and emits a one-shot
// event when it crosses the warning threshold.
func (g *Governor) noteFrameDepth(depth int) {
	if depth > g.stats.PeakFrameDepth {
		g.stats.PeakFrameDepth = depth
	}
	if g.frameWarn > 0 && depth >= g.frameWarn && !g.warnedFrames {
		g.warnedFrames = true
		g.logger.Warn("frame depth threshold crossed",
			zap.Int("depth", depth),
			zap.Int("threshold", g.frameWarn))
	}
}

// noteOperandHeight records the operand stack height and emits a
// one-shot event when it crosses the warning threshold.
func (g *Governor) noteOperandHeight(height int) {
	if height > g.stats.PeakOperandHeight {
		g.stats.PeakOperandHeight = height
	}
	if g.operandWarn > 0 && height >= g.operandWarn && !g.warnedOperand {
		g.warnedOperand = true
		g.logger.Warn("operand height threshold crossed",
			zap.Int("height", height),
			zap.Int("threshold", g.operandWarn))
	}
}
