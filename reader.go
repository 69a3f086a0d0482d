package zseek

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/katabyte/zseek/env"
	"github.com/katabyte/zseek/options"
)

// cachedFrame remembers the most recently decoded frame so back-to-back
// small reads within one frame don't pay for re-decoding it.
type cachedFrame struct {
	m sync.Mutex

	decompressedOffset uint64
	data               []byte
}

func (f *cachedFrame) replace(offset uint64, data []byte) {
	f.m.Lock()
	defer f.m.Unlock()
	f.decompressedOffset = offset
	f.data = data
}

func (f *cachedFrame) get() (uint64, []byte) {
	f.m.Lock()
	defer f.m.Unlock()
	return f.decompressedOffset, f.data
}

// readSeekerEnvImpl is the default REnvironment, backed by an
// io.ReadSeeker (ideally also an io.ReaderAt, to avoid perturbing a
// shared seek position).
type readSeekerEnvImpl struct {
	rs io.ReadSeeker
}

func (e *readSeekerEnvImpl) GetFrameByIndex(index env.FrameOffsetEntry) ([]byte, error) {
	p := make([]byte, index.CompressedSize)
	off := int64(index.CompressedOffset)

	if ra, ok := e.rs.(io.ReaderAt); ok {
		_, err := ra.ReadAt(p, off)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return p, err
	}

	if _, err := e.rs.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	_, err := io.ReadFull(e.rs, p)
	return p, err
}

func (e *readSeekerEnvImpl) ReadFooter() ([]byte, error) {
	n, err := e.rs.Seek(-seekTableFooterSize, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to seek to footer at %d: %w", -seekTableFooterSize, err)
	}
	buf := make([]byte, seekTableFooterSize)
	if _, err := io.ReadFull(e.rs, buf); err != nil {
		return nil, fmt.Errorf("failed to read footer at %d: %w", n, err)
	}
	return buf, nil
}

func (e *readSeekerEnvImpl) ReadSkipFrame(skippableFrameSize int64) ([]byte, error) {
	n, err := e.rs.Seek(-skippableFrameSize, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to seek to skip frame at %d: %w", -skippableFrameSize, err)
	}
	buf := make([]byte, skippableFrameSize)
	if _, err := io.ReadFull(e.rs, buf); err != nil {
		return nil, fmt.Errorf("failed to read skip frame at %d: %w", n, err)
	}
	return buf, nil
}

type readerImpl struct {
	dec ZSTDDecoder

	index *btree.BTreeG[*env.FrameOffsetEntry]

	checksums bool

	offset    int64
	numFrames int64
	endOffset int64

	logger *zap.Logger
	env    env.REnvironment

	closed atomic.Bool

	cachedFrame cachedFrame
}

var (
	_ io.Seeker   = (*readerImpl)(nil)
	_ io.Reader   = (*readerImpl)(nil)
	_ io.ReaderAt = (*readerImpl)(nil)
	_ io.Closer   = (*readerImpl)(nil)
	_ Decoder     = (*readerImpl)(nil)
)

// Reader is the stream-oriented API: it behaves like a read-only,
// randomly-accessible view of the decompressed data.
type Reader interface {
	// Seek repositions the virtual read cursor. NOT goroutine-safe.
	Seek(offset int64, whence int) (int64, error)
	// Read sequentially advances the virtual read cursor. NOT
	// goroutine-safe.
	Read(p []byte) (int, error)
	// ReadAt reads len(p) bytes starting at off without touching the
	// cursor. Safe for concurrent use only if the underlying source is
	// also io.ReaderAt (otherwise every call seeks a shared position).
	ReadAt(p []byte, off int64) (int, error)
	// Close releases resources held by the Reader.
	Close() error
}

// Decoder is the byte-oriented, range-addressed API described in
// spec.md §4.2: given any half-open decompressed range it returns
// exactly the bytes requested, decoding only the frames that overlap.
type Decoder interface {
	// Size returns the total size of the decompressed stream.
	Size() int64
	// NumFrames returns the number of data frames in the stream.
	NumFrames() int64

	// ReadRange copies out[:end-start] = decompressed[start:end].
	// start == end always succeeds with 0 bytes and no I/O, even at
	// start == Size(). Fails with KindOutOfBounds if start > end or
	// end > Size(), and KindIo/KindDecode/KindChecksumMismatch on
	// underlying failures; none of these poison the Decoder.
	ReadRange(start, end int64, out []byte) (int, error)

	// Frame returns the FrameOffsetEntry for frame id, or nil if id is
	// out of range.
	Frame(id int64) *env.FrameOffsetEntry
	// FrameAt returns the FrameOffsetEntry covering decompressed
	// offset off, or nil if off >= Size().
	FrameAt(off int64) *env.FrameOffsetEntry
}

// ZSTDDecoder is the decompressor seam. Satisfied by *zstd.Decoder.
type ZSTDDecoder interface {
	DecodeAll(input, dst []byte) ([]byte, error)
}

// NewReader returns a seekable Reader over rs. rs should ideally also
// implement io.ReaderAt so concurrent ReadAt calls don't fight over a
// shared cursor.
func NewReader(rs io.ReadSeeker, decoder ZSTDDecoder, opts ...ROption) (Reader, error) {
	return newReaderImpl(rs, decoder, opts...)
}

// NewDecoder returns the byte-oriented Decoder over rs.
func NewDecoder(rs io.ReadSeeker, decoder ZSTDDecoder, opts ...ROption) (Decoder, error) {
	return newReaderImpl(rs, decoder, opts...)
}

func newReaderImpl(rs io.ReadSeeker, decoder ZSTDDecoder, opts ...ROption) (*readerImpl, error) {
	var o options.ReaderOptions
	o.SetDefault()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errInvalidConfig("%s", err)
		}
	}

	r := &readerImpl{dec: decoder, logger: o.Logger, env: o.Env}
	if r.env == nil {
		if rs == nil {
			return nil, errInvalidConfig("reader requires either an io.ReadSeeker or WithREnvironment")
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
	return r, nil
}

func (r *readerImpl) Size() int64      { return r.endOffset }
func (r *readerImpl) NumFrames() int64 { return r.numFrames }

// FrameAt returns the FrameOffsetEntry whose decompressed span contains
// off, using the index's btree to binary-search by offset.
func (r *readerImpl) FrameAt(off int64) (found *env.FrameOffsetEntry) {
	if off < 0 || off >= r.endOffset {
		return nil
	}
	r.index.DescendLessOrEqual(&env.FrameOffsetEntry{DecompressedOffset: uint64(off)}, func(i *env.FrameOffsetEntry) bool {
		found = i
		return false
	})
	return found
}

// Frame returns the FrameOffsetEntry for frame id.
func (r *readerImpl) Frame(id int64) (found *env.FrameOffsetEntry) {
	if id < 0 || id >= r.numFrames {
		return nil
	}
	r.index.Ascend(func(i *env.FrameOffsetEntry) bool {
		if i.Index == id {
			found = i
			return false
		}
		return true
	})
	return found
}

func (r *readerImpl) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.cachedFrame.replace(math.MaxUint64, nil)
		r.index = nil
	}
	return nil
}

func (r *readerImpl) Read(p []byte) (int, error) {
	_, n, err := r.readAt(p, r.offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.offset = r.endOffset
		}
		return n, err
	}
	r.offset += int64(n)
	return n, nil
}

func (r *readerImpl) ReadAt(p []byte, off int64) (n int, err error) {
	if len(p) == 0 {
		// An empty p still reports a negative or past-the-end offset.
		_, _, err = r.readAt(p, off)
		return 0, err
	}
	for m := 0; n < len(p) && err == nil; n += m {
		_, m, err = r.readAt(p[n:], off+int64(n))
	}
	return
}

func (r *readerImpl) Seek(offset int64, whence int) (int64, error) {
	newOffset := r.offset
	switch whence {
	case io.SeekCurrent:
		newOffset += offset
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = r.endOffset + offset
	default:
		return 0, fmt.Errorf("unknown whence: %d", whence)
	}
	if newOffset < 0 {
		return 0, fmt.Errorf("offset before start of stream: %d", newOffset)
	}
	r.offset = newOffset
	return r.offset, nil
}

// ReadRange implements Decoder.ReadRange: it decodes and trims every
// frame overlapping [start, end) directly into out.
func (r *readerImpl) ReadRange(start, end int64, out []byte) (int, error) {
	if start > end {
		return 0, errOutOfBounds("start %d > end %d", start, end)
	}
	if end > r.endOffset {
		return 0, errOutOfBounds("end %d > size %d", end, r.endOffset)
	}
	if start == end {
		// Empty ranges never touch the source, even at start == Size().
		return 0, nil
	}
	if int64(len(out)) < end-start {
		return 0, errOutOfBounds("out buffer %d bytes < requested %d bytes", len(out), end-start)
	}

	written := 0
	off := start
	for off < end {
		n, m, err := r.readAt(out[written:written+int(end-off)], off)
		if err != nil {
			return written, err
		}
		written += m
		off = n
	}
	return written, nil
}

// readAt decodes the frame covering off, copies as much of dst as that
// frame can supply starting at off, and returns the offset just past the
// copied bytes, the number of bytes copied, and any error.
func (r *readerImpl) readAt(dst []byte, off int64) (int64, int, error) {
	if r.closed.Load() {
		return 0, 0, fmt.Errorf("decoder is closed")
	}
	if off >= r.endOffset {
		return 0, 0, io.EOF
	}
	if off < 0 {
		return 0, 0, fmt.Errorf("offset before start of stream: %d", off)
	}

	index := r.FrameAt(off)
	if index == nil {
		return 0, 0, errInvalidSeekTable(nil, "no frame covers offset %d", off)
	}

	decompressed, err := r.frameData(index)
	if err != nil {
		return 0, 0, err
	}

	offsetWithinFrame := uint64(off) - index.DecompressedOffset
	size := uint64(len(decompressed)) - offsetWithinFrame
	if size > uint64(len(dst)) {
		size = uint64(len(dst))
	}

	r.logger.Debug("decoded range",
		zap.Uint64("offset_within_frame", offsetWithinFrame),
		zap.Uint64("size", size),
		zap.Object("frame", index))
	copy(dst, decompressed[offsetWithinFrame:offsetWithinFrame+size])

	return off + int64(size), int(size), nil
}

// frameData returns index's decompressed bytes, using the single-frame
// cache when possible.
func (r *readerImpl) frameData(index *env.FrameOffsetEntry) ([]byte, error) {
	cachedOffset, cachedData := r.cachedFrame.get()
	if cachedOffset == index.DecompressedOffset && cachedData != nil {
		return cachedData, nil
	}

	if index.CompressedSize > maxDecoderFrameSize {
		return nil, errFrameTooLarge("frame compressed size %d > %d", index.CompressedSize, maxDecoderFrameSize)
	}

	src, err := r.env.GetFrameByIndex(*index)
	if err != nil {
		return nil, errIo(err, "failed to read compressed frame at %d", index.CompressedOffset)
	}
	if len(src) != int(index.CompressedSize) {
		return nil, errTruncated("short compressed frame at %d: got %d, want %d",
			index.CompressedOffset, len(src), index.CompressedSize)
	}

	decompressed, err := r.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, errDecode(err, "failed to decode frame at %d", index.CompressedOffset)
	}
	if len(decompressed) != int(index.DecompressedSize) {
		return nil, errInvalidSeekTable(nil, "frame at %d decoded to %d bytes, index says %d",
			index.CompressedOffset, len(decompressed), index.DecompressedSize)
	}

	if r.checksums {
		checksum := uint32(xxhash.Sum64(decompressed))
		if checksum != index.Checksum {
			return nil, errChecksumMismatch("frame at %d: expected %#x, got %#x",
				index.CompressedOffset, index.Checksum, checksum)
		}
	}

	r.cachedFrame.replace(index.DecompressedOffset, decompressed)
	return decompressed, nil
}

// indexSeekTable reads the trailing skippable frame, validates it, and
// builds the btree index keyed by decompressed offset.
func (r *readerImpl) indexSeekTable() (*btree.BTreeG[*env.FrameOffsetEntry], *env.FrameOffsetEntry, error) {
	buf, err := r.env.ReadFooter()
	if err != nil {
		return nil, nil, errIo(err, "failed to read footer")
	}
	if len(buf) < seekTableFooterSize {
		return nil, nil, errTruncated("footer is too small: %d bytes", len(buf))
	}

	footer := seekTableFooter{}
	if err := footer.UnmarshalBinary(buf[len(buf)-seekTableFooterSize:]); err != nil {
		return nil, nil, err
	}
	r.logger.Debug("loaded seek table footer", zap.Object("footer", &footer))
	r.checksums = footer.SeekTableDescriptor.ChecksumFlag

	entrySize := int64(8)
	if footer.SeekTableDescriptor.ChecksumFlag {
		entrySize = 12
	}

	skippableFrameSize := seekTableFooterSize + entrySize*int64(footer.NumberOfFrames)
	skippableFrameSize += frameSizeFieldSize + skippableMagicNumberFieldSize

	if skippableFrameSize > maxDecoderFrameSize {
		return nil, nil, errFrameTooLarge("seek table frame is %d bytes > max %d", skippableFrameSize, maxDecoderFrameSize)
	}

	buf, err = r.env.ReadSkipFrame(skippableFrameSize)
	if err != nil {
		return nil, nil, errIo(err, "failed to read seek table skippable frame")
	}
	if len(buf) < int(frameSizeFieldSize+skippableMagicNumberFieldSize+seekTableFooterSize) {
		return nil, nil, errTruncated("seek table skippable frame is too small: %d bytes", len(buf))
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != skippableFrameMagic+seekableTag {
		return nil, nil, errInvalidSeekTable(nil, "skippable frame magic mismatch %#x vs %#x",
			magic, skippableFrameMagic+seekableTag)
	}

	expectedFrameSize := int64(len(buf)) - frameSizeFieldSize - skippableMagicNumberFieldSize
	frameSize := int64(binary.LittleEndian.Uint32(buf[4:8]))
	if frameSize != expectedFrameSize {
		return nil, nil, errInvalidSeekTable(nil, "skippable frame size mismatch: expected %d, got %d",
			expectedFrameSize, frameSize)
	}

	return r.indexEntries(buf[8:len(buf)-seekTableFooterSize], uint64(entrySize))
}

func (r *readerImpl) indexEntries(p []byte, entrySize uint64) (
	*btree.BTreeG[*env.FrameOffsetEntry], *env.FrameOffsetEntry, error,
) {
	if uint64(len(p))%entrySize != 0 {
		return nil, nil, errInvalidSeekTable(nil, "seek table payload %d is not a multiple of %d", len(p), entrySize)
	}

	t := btree.NewG(8, env.Less)
	entry := seekTableEntry{}
	var compOffset, decompOffset uint64
	var last *env.FrameOffsetEntry
	var i int64

	for off := uint64(0); off < uint64(len(p)); off += entrySize {
		if err := entry.UnmarshalBinary(p[off : off+entrySize]); err != nil {
			return nil, nil, err
		}

		last = &env.FrameOffsetEntry{
			Index:              i,
			CompressedOffset:   compOffset,
			DecompressedOffset: decompOffset,
			CompressedSize:     entry.CompressedSize,
			DecompressedSize:   entry.DecompressedSize,
			Checksum:           entry.Checksum,
		}
		t.ReplaceOrInsert(last)
		compOffset += uint64(entry.CompressedSize)
		decompOffset += uint64(entry.DecompressedSize)
		i++
	}

	return t, last, nil
}
