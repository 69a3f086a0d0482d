package zseek

import (
	"io"

	"github.com/google/btree"

	"github.com/katabyte/zseek/env"
	"github.com/katabyte/zseek/options"
)

// SeekTableSnapshot is an immutable, self-contained view of a parsed
// seek table: enough to decode any range without re-reading the
// trailing skippable frame. ParallelDecoder retains exactly one of
// these per opened file and hands it to each worker's Decoder.
type SeekTableSnapshot struct {
	frames      []*env.FrameOffsetEntry
	checksums   bool
	endOffset   int64
	numFrames   int64
}

// Frames returns the snapshot's frames in stream order. The slice must
// not be mutated by the caller.
func (s *SeekTableSnapshot) Frames() []*env.FrameOffsetEntry { return s.frames }

// Size returns the total decompressed size described by the snapshot.
func (s *SeekTableSnapshot) Size() int64 { return s.endOffset }

// NumFrames returns the number of data frames described by the snapshot.
func (s *SeekTableSnapshot) NumFrames() int64 { return s.numFrames }

// snapshotOf builds a SeekTableSnapshot from an already-indexed reader.
func snapshotOf(r *readerImpl) *SeekTableSnapshot {
	frames := make([]*env.FrameOffsetEntry, 0, r.numFrames)
	if r.index != nil {
		r.index.Ascend(func(i *env.FrameOffsetEntry) bool {
			frames = append(frames, i)
			return true
		})
	}
	return &SeekTableSnapshot{
		frames:    frames,
		checksums: r.checksums,
		endOffset: r.endOffset,
		numFrames: r.numFrames,
	}
}

// ReadSeekTable opens rs (an io.ReadSeeker, typically a file) just long
// enough to parse and validate its trailing seek table, and returns an
// immutable snapshot of it. This is the operation ParallelDecoder.Open
// performs once before dropping its source handle.
func ReadSeekTable(rs io.ReadSeeker, opts ...ROption) (*SeekTableSnapshot, error) {
	var o options.ReaderOptions
	o.SetDefault()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errInvalidConfig("%s", err)
		}
	}

	r := &readerImpl{logger: o.Logger, env: o.Env}
	if r.env == nil {
		if rs == nil {
			return nil, errInvalidConfig("ReadSeekTable requires either an io.ReadSeeker or WithREnvironment")
		}
		r.env = &readSeekerEnvImpl{rs: rs}
	}

	tree, last, err := r.indexSeekTable()
	if err != nil {
		return nil, err
	}
	r.index = tree
	if last != nil {
		r.endOffset = int64(last.DecompressedOffset) + int64(last.DecompressedSize)
		r.numFrames = last.Index + 1
	}
	return snapshotOf(r), nil
}

// snapshotEnv is an REnvironment that serves seek-table metadata from an
// in-memory SeekTableSnapshot while still reading actual frame payloads
// from a live source. It lets NewDecoderFromIndex skip re-parsing the
// trailing skippable frame entirely.
type snapshotEnv struct {
	frames   REnvironment
	snapshot *SeekTableSnapshot
}

// REnvironment is re-exported here so snapshotEnv can embed the seam
// without importing env directly in call sites outside this package.
type REnvironment = env.REnvironment

func (e *snapshotEnv) GetFrameByIndex(index env.FrameOffsetEntry) ([]byte, error) {
	return e.frames.GetFrameByIndex(index)
}

func (e *snapshotEnv) ReadFooter() ([]byte, error) {
	panic("snapshotEnv: ReadFooter should not be called; the index is pre-parsed")
}

func (e *snapshotEnv) ReadSkipFrame(int64) ([]byte, error) {
	panic("snapshotEnv: ReadSkipFrame should not be called; the index is pre-parsed")
}

// NewDecoderFromIndex builds a Decoder over rs using an already-parsed
// SeekTableSnapshot, skipping the second trailer read that a plain
// NewDecoder(rs, ...) would perform. This is what lets ParallelDecoder's
// workers become usable Decoders cheaply: one process-wide ReadSeekTable
// plus one NewDecoderFromIndex per worker, each against its own freshly
// opened source.
func NewDecoderFromIndex(rs io.ReadSeeker, decoder ZSTDDecoder, snapshot *SeekTableSnapshot, opts ...ROption) (Decoder, error) {
	var o options.ReaderOptions
	o.SetDefault()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errInvalidConfig("%s", err)
		}
	}

	baseEnv := o.Env
	if baseEnv == nil {
		if rs == nil {
			return nil, errInvalidConfig("NewDecoderFromIndex requires either an io.ReadSeeker or WithREnvironment")
		}
		baseEnv = &readSeekerEnvImpl{rs: rs}
	}

	r := &readerImpl{
		dec:       decoder,
		logger:    o.Logger,
		env:       &snapshotEnv{frames: baseEnv, snapshot: snapshot},
		checksums: snapshot.checksums,
		endOffset: snapshot.endOffset,
		numFrames: snapshot.numFrames,
	}

	r.index = btree.NewG(8, env.Less)
	for _, f := range snapshot.frames {
		r.index.ReplaceOrInsert(f)
	}

	return r, nil
}
