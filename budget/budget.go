package budget

import (
	"os"
	"strings"
	"sync"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/wippyai/wrt/errors"
)

// CrateID identifies an internal subsystem in the budget table. The
// set is fixed at compile time.
type CrateID uint8

const (
	CrateFoundation CrateID = iota // providers, slices, collections
	CrateRuntime                   // instances, linear memories, tables
	CrateEngine                    // operand and frame stacks
	CrateDecoder                   // image buffers
	CrateComponent                 // host bindings, handle tables
	CrateDebug                     // trace buffers
	numCrates
)

var crateNames = [numCrates]string{
	CrateFoundation: "foundation",
	CrateRuntime:    "runtime",
	CrateEngine:     "engine",
	CrateDecoder:    "decoder",
	CrateComponent:  "component",
	CrateDebug:      "debug",
}

// String returns the crate's name as used in WRT_BUDGET_<CRATE> keys.
func (c CrateID) String() string {
	if c < numCrates {
		return crateNames[c]
	}
	return "unknown"
}

// Crates returns all known crate identifiers.
func Crates() []CrateID {
	out := make([]CrateID, numCrates)
	for i := range out {
		out[i] = CrateID(i)
	}
	return out
}

// Snapshot is a point-in-time copy of one crate's counters.
type Snapshot struct {
	Crate    CrateID
	Reserved uint64
	InUse    uint64
	Peak     uint64
}

type entry struct {
	reserved   uint64
	inUse      uint64
	peak       uint64
	configured bool
}

// Registry is the process-wide budget table. Each crate's counters are
// mutated only under the registry lock; in_use never exceeds reserved
// and peak is monotone.
type Registry struct {
	mu     sync.Mutex
	logger *zap.Logger
	table  [numCrates]entry
}

// NewRegistry creates an empty registry. Budgets must be configured
// before any acquisition.
func NewRegistry() *Registry {
	return &Registry{logger: zap.NewNop()}
}

// SetLogger replaces the registry's logger. Leak and exhaustion events
// are reported through it.
func (r *Registry) SetLogger(l *zap.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l != nil {
		r.logger = l
	}
}

// Configure reserves bytes for a crate. A crate may be configured only
// once; later calls fail with BudgetAlreadyConfigured.
func (r *Registry) Configure(crate CrateID, reserved uint64) error {
	if crate >= numCrates {
		return errors.IndexOutOfRange("crate", uint64(crate), uint64(numCrates)-1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &r.table[crate]
	if e.configured {
		return errors.ErrBudgetAlreadyConfigured
	}
	e.configured = true
	e.reserved = reserved
	return nil
}

// Acquire reserves bytes against a crate's budget and mints a token
// proving the right to hold them. Fails with BudgetExceeded when the
// crate's remaining budget is smaller than the request.
func (r *Registry) Acquire(crate CrateID, bytes uint64) (*Token, error) {
	if crate >= numCrates {
		return nil, errors.IndexOutOfRange("crate", uint64(crate), uint64(numCrates)-1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &r.table[crate]
	if !e.configured {
		return nil, errors.New(errors.CategoryResource, errors.KindBudgetExceeded).
			Msg("budget not configured").
			Context("crate", uint64(crate)).
			Build()
	}
	if e.inUse+bytes > e.reserved {
		r.logger.Warn("budget exhausted",
			zap.String("crate", crate.String()),
			zap.Uint64("requested", bytes),
			zap.Uint64("in_use", e.inUse),
			zap.Uint64("reserved", e.reserved))
		return nil, errors.BudgetExceeded(bytes, e.reserved-e.inUse)
	}
	e.inUse += bytes
	if e.inUse > e.peak {
		e.peak = e.inUse
	}
	return &Token{registry: r, crate: crate, bytes: bytes}, nil
}

// release returns bytes to a crate. Called exactly once per live token.
func (r *Registry) release(crate CrateID, bytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &r.table[crate]
	if bytes > e.inUse {
		// Accounting is broken; clamp rather than wrap.
		e.inUse = 0
		return
	}
	e.inUse -= bytes
}

// Snapshot returns a copy of one crate's counters.
func (r *Registry) Snapshot(crate CrateID) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.table[crate]
	return Snapshot{Crate: crate, Reserved: e.reserved, InUse: e.inUse, Peak: e.peak}
}

// CheckLeaks verifies that every crate's in_use counter reads zero.
// A non-zero counter means a token was never released; the first such
// crate is surfaced as ResourceLeak.
func (r *Registry) CheckLeaks() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := CrateID(0); c < numCrates; c++ {
		if r.table[c].inUse != 0 {
			r.logger.Error("budget leak at teardown",
				zap.String("crate", c.String()),
				zap.Uint64("live_bytes", r.table[c].inUse))
			return errors.ResourceLeak(c.String(), r.table[c].inUse)
		}
	}
	return nil
}

// ConfigureFromEnv reads WRT_BUDGET_<CRATE> variables (byte sizes such
// as "64KB" or "1MiB") and configures the matching crates. Crates with
// no variable get defaultBytes. Values that fail to parse are an error;
// already-configured crates are left untouched.
func (r *Registry) ConfigureFromEnv(defaultBytes uint64) error {
	for c := CrateID(0); c < numCrates; c++ {
		key := "WRT_BUDGET_" + strings.ToUpper(c.String())
		reserved := defaultBytes
		if raw, ok := os.LookupEnv(key); ok {
			var v datasize.ByteSize
			if err := v.UnmarshalText([]byte(raw)); err != nil {
				return errors.New(errors.CategoryResource, errors.KindBudgetExceeded).
					Msgf("parse %s=%q", key, raw).
					Cause(err).
					Build()
			}
			reserved = v.Bytes()
		}
		if err := r.Configure(c, reserved); err != nil {
			if err == errors.ErrBudgetAlreadyConfigured {
				continue
			}
			return err
		}
	}
	return nil
}
