package zseek

import (
	"go.uber.org/zap"
)

// Encoder is a byte-oriented API for producing a seekable zstd stream
// without wrapping an io.Writer: useful when the caller owns frame
// placement itself (e.g. writing each returned chunk to a different
// destination, or buffering them before a single combined write).
type Encoder interface {
	// Encode compresses src as one frame, appends it to the in-memory
	// seek table, and returns the compressed bytes for the caller to
	// place wherever it likes.
	Encode(src []byte) ([]byte, error)

	// EndStream returns the accumulated seek table as a ZSTD skippable
	// frame. The caller appends it after the last Encode output.
	EndStream() ([]byte, error)
}

// NewEncoder returns a byte-oriented Encoder sharing its frame-building
// logic with Writer, but with no underlying sink: every Encode call
// hands compressed bytes back to the caller instead of writing them.
func NewEncoder(opts ...WOption) (Encoder, error) {
	w, err := NewWriter(nil, append(opts, withNoSink())...)
	if err != nil {
		return nil, err
	}
	return w.(*writerImpl), nil
}

// withNoSink satisfies NewWriter's env requirement with a sink that is
// never exercised: Encode/EndStream never call env.WriteFrame or
// env.WriteSeekTable.
func withNoSink() WOption {
	return WithWEnvironment(discardEnv{})
}

type discardEnv struct{}

func (discardEnv) WriteFrame(p []byte) (int, error)     { return len(p), nil }
func (discardEnv) WriteSeekTable(p []byte) (int, error) { return len(p), nil }

func (s *writerImpl) Encode(src []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, nil
	}

	result, err := s.encodeFrameForWriteMany(src)
	if err != nil {
		return nil, err
	}

	s.o.Logger.Debug("encoded frame", zap.Object("entry", &result.entry))
	s.frameEntries = append(s.frameEntries, result.entry)
	s.decompressedTotal += uint64(result.entry.DecompressedSize)
	return result.buf, nil
}

func (s *writerImpl) EndStream() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return nil, err
	}

	seekTableBytes, err := s.encodeSeekTableLocked()
	if err != nil {
		s.state = writerFailed
		s.failure = err
		return nil, err
	}
	s.state = writerFinished
	return seekTableBytes, nil
}
