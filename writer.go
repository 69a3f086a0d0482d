package zseek

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/katabyte/zseek/env"
	"github.com/katabyte/zseek/options"
)

// writerEnvImpl is the default WEnvironment, backed by a plain io.Writer.
type writerEnvImpl struct {
	w io.Writer
}

func (e *writerEnvImpl) WriteFrame(p []byte) (int, error)     { return e.w.Write(p) }
func (e *writerEnvImpl) WriteSeekTable(p []byte) (int, error) { return e.w.Write(p) }

type writerState uint8

const (
	writerOpen writerState = iota
	writerFinished
	writerFailed
)

// writerImpl implements Writer, ConcurrentWriter, and the byte-oriented
// Encoder on top of a single piece of state: a buffer of not-yet-flushed
// input and a list of completed frame entries.
type writerImpl struct {
	mu sync.Mutex

	o   options.WriterOptions
	enc *zstd.Encoder
	env env.WEnvironment

	// pending holds uncompressed bytes appended but not yet flushed as
	// a frame; it grows until it reaches o.FrameSize.
	pending []byte

	frameEntries      []seekTableEntry
	decompressedTotal uint64

	state   writerState
	failure error

	once sync.Once
}

var (
	_ io.Writer = (*writerImpl)(nil)
	_ io.Closer = (*writerImpl)(nil)
)

// Writer writes an arbitrary byte stream as a sequence of independently
// decompressible zstd frames, auto-flushing every FrameSize bytes of
// uncompressed input.
type Writer interface {
	// Write appends src to the open frame, flushing completed frames
	// to the sink as FrameSize is reached. A single call may flush
	// more than one frame if len(src) spans multiple frame_size
	// boundaries. Returns len(src) unless the sink fails mid-write.
	Write(src []byte) (int, error)

	// Close flushes any partially-filled open frame, writes the seek
	// table as a trailing skippable frame, and releases the zstd
	// encoder. A second call fails with KindAlreadyFinished. The
	// caller remains responsible for closing the underlying sink.
	Close() error
}

// FrameSource returns one pre-chunked frame of data at a time, and nil
// once there are no more frames.
type FrameSource func() ([]byte, error)

// ConcurrentWriter additionally allows writing many pre-chunked frames
// concurrently, useful when frame boundaries are produced by an external
// content-defined chunker rather than FrameSize.
type ConcurrentWriter interface {
	Writer

	// WriteMany encodes frames produced by frameSource concurrently,
	// but writes them to the sink in the order frameSource produced
	// them.
	WriteMany(ctx context.Context, frameSource FrameSource, opts ...WriteManyOption) error
}

// NewWriter wraps w into a seekable, indexed zstd stream. The resulting
// stream can be randomly accessed through Reader/Decoder/ParallelDecoder.
func NewWriter(w io.Writer, opts ...WOption) (ConcurrentWriter, error) {
	sw := &writerImpl{}
	sw.o.SetDefault()
	for _, o := range opts {
		if err := o(&sw.o); err != nil {
			return nil, errInvalidConfig("%s", err)
		}
	}

	sw.env = sw.o.Env
	if sw.env == nil {
		if w == nil {
			return nil, errInvalidConfig("writer requires either an io.Writer or WithWEnvironment")
		}
		sw.env = &writerEnvImpl{w: w}
	}

	var zopts []zstd.EOption
	zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(sw.o.CompressionLevel)))
	enc, err := zstd.NewWriter(nil, zopts...)
	if err != nil {
		return nil, errIo(err, "failed to create zstd encoder")
	}
	sw.enc = enc

	return sw, nil
}

func (s *writerImpl) Write(src []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return 0, err
	}

	total := len(src)
	for len(src) > 0 {
		room := int(s.o.FrameSize) - len(s.pending)
		n := len(src)
		if n > room {
			n = room
		}
		s.pending = append(s.pending, src[:n]...)
		src = src[n:]

		if int64(len(s.pending)) >= s.o.FrameSize {
			if err := s.flushFrameLocked(); err != nil {
				s.state = writerFailed
				s.failure = err
				return 0, err
			}
		}
	}
	return total, nil
}

// flushFrameLocked compresses s.pending into a frame, writes it to the
// sink, and records its seek-table entry; a no-op if pending is empty.
// Caller holds s.mu.
func (s *writerImpl) flushFrameLocked() error {
	src := s.pending
	s.pending = nil

	if len(src) == 0 {
		return nil
	}
	if int64(len(src)) > maxFrameSize {
		return errFrameTooLarge("frame uncompressed size %d > %d", len(src), maxFrameSize)
	}

	dst := s.enc.EncodeAll(src, nil)
	if int64(len(dst)) > maxFrameSize {
		return errFrameTooLarge("frame compressed size %d > %d", len(dst), maxFrameSize)
	}

	newTotal := s.decompressedTotal + uint64(len(src))
	if newTotal < s.decompressedTotal {
		return errOverflow("decompressed total overflowed uint64")
	}

	entry := seekTableEntry{
		CompressedSize:   uint32(len(dst)),
		DecompressedSize: uint32(len(src)),
	}
	if s.o.EmitChecksums {
		entry.Checksum = uint32(xxhash.Sum64(src))
	}

	n, err := s.env.WriteFrame(dst)
	if err != nil {
		return errIo(err, "failed to write frame")
	}
	if n != len(dst) {
		return errIo(nil, "partial frame write: %d of %d bytes", n, len(dst))
	}

	s.o.Logger.Debug("appended frame", zap.Object("entry", &entry))
	s.frameEntries = append(s.frameEntries, entry)
	s.decompressedTotal = newTotal
	if int64(len(s.frameEntries)) > math.MaxUint32 {
		return errOverflow("frame count overflowed uint32")
	}
	return nil
}

func (s *writerImpl) checkWritableLocked() error {
	switch s.state {
	case writerFinished:
		return errAlreadyFinished()
	case writerFailed:
		return errPoisoned(s.failure)
	default:
		return nil
	}
}

func (s *writerImpl) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.checkWritableLocked(); err != nil {
		return err
	}

	if ferr := s.flushFrameLocked(); ferr != nil {
		s.state = writerFailed
		s.failure = ferr
		return ferr
	}

	seekTableBytes, err := s.encodeSeekTableLocked()
	if err != nil {
		s.state = writerFailed
		s.failure = err
		return err
	}

	if _, err = s.env.WriteSeekTable(seekTableBytes); err != nil {
		err = errIo(err, "failed to write seek table")
		s.state = writerFailed
		s.failure = err
		return err
	}

	s.state = writerFinished
	s.once.Do(func() { err = multierr.Append(err, s.enc.Close()) })
	return err
}

func (s *writerImpl) encodeSeekTableLocked() ([]byte, error) {
	entrySize := 8
	if s.o.EmitChecksums {
		entrySize = 12
	}

	seekTable := make([]byte, len(s.frameEntries)*entrySize+seekTableFooterSize)
	for i, e := range s.frameEntries {
		if entrySize == 12 {
			e.marshalBinaryInline(seekTable[i*entrySize : (i+1)*entrySize])
		} else {
			var tmp [12]byte
			e.marshalBinaryInline(tmp[:])
			copy(seekTable[i*entrySize:(i+1)*entrySize], tmp[:8])
		}
	}

	footer := seekTableFooter{
		NumberOfFrames: uint32(len(s.frameEntries)),
		SeekTableDescriptor: seekTableDescriptor{
			ChecksumFlag: s.o.EmitChecksums,
		},
		SeekableMagicNumber: seekableMagicNumber,
	}
	footer.marshalBinaryInline(seekTable[len(s.frameEntries)*entrySize:])

	return createSkippableFrame(seekableTag, seekTable)
}

// encodeResult is the (compressed bytes, seek-table entry) pair produced
// by encoding one frame out-of-order in WriteMany.
type encodeResult struct {
	buf   []byte
	entry seekTableEntry
}

func (s *writerImpl) encodeFrameForWriteMany(frame []byte) (encodeResult, error) {
	if int64(len(frame)) > maxFrameSize {
		return encodeResult{}, errFrameTooLarge("frame uncompressed size %d > %d", len(frame), maxFrameSize)
	}
	dst := s.enc.EncodeAll(frame, nil)
	entry := seekTableEntry{
		CompressedSize:   uint32(len(dst)),
		DecompressedSize: uint32(len(frame)),
	}
	if s.o.EmitChecksums {
		entry.Checksum = uint32(xxhash.Sum64(frame))
	}
	return encodeResult{buf: dst, entry: entry}, nil
}

// WriteMany fans frame encoding out across a bounded worker pool while
// preserving frameSource's emission order in the output stream: the
// producer hands out an ordered queue of result channels as promises, and
// the consumer drains them strictly in order regardless of which worker
// finishes encoding first.
func (s *writerImpl) WriteMany(ctx context.Context, frameSource FrameSource, opts ...WriteManyOption) error {
	wo := writeManyOptions{concurrency: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		if err := o(&wo); err != nil {
			return err
		}
	}

	s.mu.Lock()
	err := s.checkWritableLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(wo.concurrency + 2) // +producer +consumer
	queue := make(chan chan encodeResult, wo.concurrency*2)

	g.Go(func() error {
		for {
			frame, err := frameSource()
			if err != nil {
				return fmt.Errorf("frame source failed: %w", err)
			}
			if frame == nil {
				close(queue)
				return nil
			}

			ch := make(chan encodeResult, 1)
			select {
			case <-gCtx.Done():
				return nil
			case queue <- ch:
			}

			frame := frame
			g.Go(func() error {
				result, err := s.encodeFrameForWriteMany(frame)
				if err != nil {
					return err
				}
				select {
				case <-gCtx.Done():
				case ch <- result:
					close(ch)
				}
				return nil
			})
		}
	})

	g.Go(func() error {
		for {
			var ch <-chan encodeResult
			select {
			case <-gCtx.Done():
				return nil
			case ch = <-queue:
			}
			if ch == nil {
				return nil
			}

			var result encodeResult
			select {
			case <-gCtx.Done():
				return nil
			case result = <-ch:
			}

			s.mu.Lock()
			n, err := s.env.WriteFrame(result.buf)
			if err == nil && n != len(result.buf) {
				err = fmt.Errorf("partial write: %d of %d", n, len(result.buf))
			}
			if err == nil {
				s.frameEntries = append(s.frameEntries, result.entry)
				s.decompressedTotal += uint64(result.entry.DecompressedSize)
			}
			s.mu.Unlock()
			if err != nil {
				return fmt.Errorf("failed to write compressed frame: %w", err)
			}
			if wo.writeCallback != nil {
				wo.writeCallback(result.entry.DecompressedSize)
			}
		}
	})

	return g.Wait()
}
