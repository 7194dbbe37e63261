package safemem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/provider"
	"github.com/wippyai/wrt/safemem"
)

func newArena(t *testing.T, size uint64) *provider.StaticArena {
	t.Helper()
	reg := budget.NewRegistry()
	require.NoError(t, reg.Configure(budget.CrateFoundation, size))
	arena, err := provider.AcquireStaticArena(reg, budget.CrateFoundation, size)
	require.NoError(t, err)
	t.Cleanup(arena.Close)
	return arena
}

// corrupt flips a byte behind the slice's back, simulating a fault in
// the backing store.
func corrupt(t *testing.T, p provider.Provider, off uint64) {
	t.Helper()
	view, err := p.View(off, 1)
	require.NoError(t, err)
	view[0] ^= 0x40
}

func TestSliceReadWrite(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 16, 64, safemem.Basic)
	require.NoError(t, err)

	require.NoError(t, s.Write(0, []byte("hello")))
	got, err := s.Read(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestSliceBounds(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 0, 32, safemem.Off)
	require.NoError(t, err)

	_, err = s.Read(30, 4)
	assert.ErrorIs(t, err, errors.ErrOutOfBounds)
	err = s.Write(32, []byte{1})
	assert.ErrorIs(t, err, errors.ErrOutOfBounds)
	_, err = s.Sub(16, 17)
	assert.ErrorIs(t, err, errors.ErrOutOfBounds)
}

func TestSubInheritsLevel(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 0, 128, safemem.Full)
	require.NoError(t, err)

	sub, err := s.Sub(32, 32)
	require.NoError(t, err)
	assert.Equal(t, safemem.Full, sub.Level())

	// Sub window accesses are relative to the sub's base.
	require.NoError(t, sub.Write(0, []byte{0xAB}))
	got, err := s.Read(32, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), got[0])
}

func TestBasicDetectsCorruptionOnRead(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 0, 64, safemem.Basic)
	require.NoError(t, err)
	require.NoError(t, s.Write(0, []byte{1, 2, 3, 4}))

	corrupt(t, arena, 2)

	_, err = s.Read(0, 4)
	assert.ErrorIs(t, err, errors.ErrIntegrityFailure)
}

func TestFullDetectsCorruptionOnWrite(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 0, 64, safemem.Full)
	require.NoError(t, err)

	corrupt(t, arena, 10)

	err = s.Write(0, []byte{9})
	assert.ErrorIs(t, err, errors.ErrIntegrityFailure)
}

func TestOffNeverVerifies(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 0, 64, safemem.Off)
	require.NoError(t, err)

	corrupt(t, arena, 5)

	_, err = s.Read(0, 64)
	assert.NoError(t, err)
	assert.NoError(t, s.Verify())
}

func TestRedundantWitness(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 0, 64, safemem.Redundant)
	require.NoError(t, err)
	require.NoError(t, s.Write(0, []byte{7, 7, 7}))

	corrupt(t, arena, 1)

	_, err = s.Read(0, 3)
	assert.ErrorIs(t, err, errors.ErrIntegrityFailure)
}

func TestSamplingEventuallyDetects(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 0, 64, safemem.Sampling(4))
	require.NoError(t, err)
	s.Reseed(0x1234)

	corrupt(t, arena, 3)

	var failed bool
	for i := 0; i < 64; i++ {
		if _, err := s.Read(0, 8); err != nil {
			assert.ErrorIs(t, err, errors.ErrIntegrityFailure)
			failed = true
			break
		}
	}
	assert.True(t, failed, "sampling at 1/4 should probe within 64 accesses")
}

func TestSamplingDeterministic(t *testing.T) {
	run := func() []bool {
		arena := newArena(t, 256)
		s, err := safemem.NewSlice(arena, 0, 64, safemem.Sampling(4))
		require.NoError(t, err)
		s.Reseed(42)
		corrupt(t, arena, 9)
		var outcomes []bool
		for i := 0; i < 32; i++ {
			_, err := s.Read(0, 4)
			outcomes = append(outcomes, err != nil)
		}
		return outcomes
	}
	assert.Equal(t, run(), run(), "probe placement must be a pure function of seed and access count")
}

func TestImportantUpgradesSampling(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 0, 64, safemem.Sampling(1_000_000))
	require.NoError(t, err)
	s.Reseed(7)

	corrupt(t, arena, 0)

	// A plain read with a huge interval is overwhelmingly unlikely to
	// probe; an important read always does.
	_, err = s.ReadImportant(0, 4)
	assert.ErrorIs(t, err, errors.ErrIntegrityFailure)
}

func TestRehashAcceptsNewContents(t *testing.T) {
	arena := newArena(t, 256)
	s, err := safemem.NewSlice(arena, 0, 64, safemem.Full)
	require.NoError(t, err)

	corrupt(t, arena, 4)
	require.NoError(t, s.Rehash())

	_, err = s.Read(0, 64)
	assert.NoError(t, err)
}

func TestChecksumPointUpdateMatchesFull(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	c := safemem.ChecksumOf(data)
	c.Replace(3, data[3], 0xEE)
	data[3] = 0xEE
	full := safemem.ChecksumOf(data)
	assert.Equal(t, full.Sum(), c.Sum())
}

func TestChecksumDetectsTransposition(t *testing.T) {
	a := safemem.ChecksumOf([]byte{1, 2})
	b := safemem.ChecksumOf([]byte{2, 1})
	assert.NotEqual(t, a.Sum(), b.Sum())
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want safemem.Level
	}{
		{"off", safemem.Off},
		{"basic", safemem.Basic},
		{"full", safemem.Full},
		{"redundant", safemem.Redundant},
		{"sampling", safemem.Sampling(16)},
		{"sampling(8)", safemem.Sampling(8)},
		{"FULL", safemem.Full},
	}
	for _, c := range cases {
		got, err := safemem.ParseLevel(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	_, err := safemem.ParseLevel("paranoid")
	assert.Error(t, err)
}
