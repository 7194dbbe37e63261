package safemem

import (
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/provider"
)

// Slice is a bounds- and integrity-checked view over a provider
// window. Every mutation keeps the stored checksum current; reads
// verify it according to the slice's verification level. A slice never
// outlives its provider: construction goes through the owning code,
// and providers are closed only after their slices are dropped.
type Slice struct {
	p       provider.Provider
	offset  uint64
	length  uint64
	level   Level
	sum     Checksum
	witness uint64
	probe   sampler
}

// NewSlice builds a verified view of [offset, offset+length) in p. The
// initial checksum is taken over the current contents.
func NewSlice(p provider.Provider, offset, length uint64, level Level) (*Slice, error) {
	window, err := p.View(offset, length)
	if err != nil {
		return nil, err
	}
	s := &Slice{p: p, offset: offset, length: length, level: level}
	s.sum = ChecksumOf(window)
	if level.Kind == LevelRedundant {
		s.witness = WitnessOf(window)
	}
	s.probe.reseed(offset)
	return s, nil
}

// Len returns the view's length in bytes.
func (s *Slice) Len() uint64 {
	return s.length
}

// Level returns the slice's verification policy.
func (s *Slice) Level() Level {
	return s.level
}

// Sub derives a narrower view. The child inherits the verification
// level and starts with a checksum over its own window.
func (s *Slice) Sub(offset, length uint64) (*Slice, error) {
	if length > s.length || offset > s.length-length {
		return nil, errors.OutOfBounds(offset, length, s.length)
	}
	return NewSlice(s.p, s.offset+offset, length, s.level)
}

// Reseed rebinds the sampling selector, typically to the current
// instruction position so probe placement is deterministic per trace.
func (s *Slice) Reseed(seed uint64) {
	if s.level.Kind == LevelSampling {
		s.probe.reseed(seed)
	}
}

// window returns the live backing bytes for this view.
func (s *Slice) window() ([]byte, error) {
	return s.p.View(s.offset, s.length)
}

// shouldVerify decides whether this access runs an integrity probe.
// Important accesses are always probed regardless of level, except at
// LevelOff where integrity state is not maintained at all.
func (s *Slice) shouldVerify(onRead, important bool) bool {
	switch s.level.Kind {
	case LevelOff:
		return false
	case LevelBasic:
		return onRead || important
	case LevelSampling:
		return important || s.probe.hit(s.level.Interval)
	case LevelFull, LevelRedundant:
		return true
	}
	return false
}

// verify recomputes the window's checksum(s) and compares them against
// the stored state.
func (s *Slice) verify() error {
	window, err := s.window()
	if err != nil {
		return err
	}
	windowSum := ChecksumOf(window)
	if windowSum.Sum() != s.sum.Sum() {
		return errors.New(errors.CategoryMemory, errors.KindIntegrityFailure).
			Msg("checksum mismatch").
			Offset(s.offset).
			Build()
	}
	if s.level.Kind == LevelRedundant && WitnessOf(window) != s.witness {
		return errors.New(errors.CategoryMemory, errors.KindIntegrityFailure).
			Msg("witness checksum mismatch").
			Offset(s.offset).
			Build()
	}
	return nil
}

// Verify runs an explicit integrity probe regardless of level.
func (s *Slice) Verify() error {
	if s.level.Kind == LevelOff {
		return nil
	}
	return s.verify()
}

// Read returns the byte range [off, off+length) of the view.
func (s *Slice) Read(off, length uint64) ([]byte, error) {
	return s.read(off, length, false)
}

// ReadImportant reads with the importance upgrade: the probe runs even
// under Sampling or Basic-on-write policies.
func (s *Slice) ReadImportant(off, length uint64) ([]byte, error) {
	return s.read(off, length, true)
}

func (s *Slice) read(off, length uint64, important bool) ([]byte, error) {
	if length > s.length || off > s.length-length {
		return nil, errors.OutOfBounds(off, length, s.length)
	}
	if s.shouldVerify(true, important) {
		if err := s.verify(); err != nil {
			return nil, err
		}
	}
	return s.p.View(s.offset+off, length)
}

// Write copies src into the view at off, keeping the checksum current.
// When the level demands it, the pre-image is verified first; a failed
// probe leaves the window untouched.
func (s *Slice) Write(off uint64, src []byte) error {
	return s.write(off, src, false)
}

// WriteImportant writes with the importance upgrade.
func (s *Slice) WriteImportant(off uint64, src []byte) error {
	return s.write(off, src, true)
}

func (s *Slice) write(off uint64, src []byte, important bool) error {
	if uint64(len(src)) > s.length || off > s.length-uint64(len(src)) {
		return errors.OutOfBounds(off, uint64(len(src)), s.length)
	}
	if s.shouldVerify(false, important) {
		if err := s.verify(); err != nil {
			return err
		}
	}
	if s.level.Kind != LevelOff {
		// Fold the replaced bytes out of the incremental state before
		// the provider write lands.
		window, err := s.window()
		if err != nil {
			return err
		}
		for i, b := range src {
			pos := off + uint64(i)
			s.sum.Replace(pos, window[pos], b)
		}
	}
	if err := s.p.Write(s.offset+off, src); err != nil {
		return err
	}
	if s.level.Kind == LevelRedundant {
		window, err := s.window()
		if err != nil {
			return err
		}
		s.witness = WitnessOf(window)
	}
	return nil
}

// Rehash recomputes the stored checksums from the current window,
// accepting any out-of-band mutation of the backing bytes.
func (s *Slice) Rehash() error {
	window, err := s.window()
	if err != nil {
		return err
	}
	s.sum = ChecksumOf(window)
	if s.level.Kind == LevelRedundant {
		s.witness = WitnessOf(window)
	}
	return nil
}
