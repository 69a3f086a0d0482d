// Package parallel schedules range reads over a seekable zstd container
// across a bounded worker pool, one independently-opened file handle per
// worker, mirroring zseek.Writer's WriteMany fan-out but for reads.
package parallel

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/katabyte/zseek"
)

// Range is a half-open decompressed byte range [Start, End).
type Range struct {
	Start int64
	End   int64
}

func (r Range) len() int64 { return r.End - r.Start }

// Decoder is the subset of *zstd.Decoder ParallelDecoder needs; satisfied
// by *zstd.Decoder, and injectable for tests.
type Decoder interface {
	DecodeAll(input, dst []byte) ([]byte, error)
}

// ParallelDecoder schedules ReadRanges work across a pool of workers,
// each holding its own independently-opened file handle. It owns only
// the file path and an immutable snapshot of the parsed seek table; it
// never shares a mutable read cursor across goroutines.
type ParallelDecoder struct {
	path     string
	snapshot *zseek.SeekTableSnapshot
	logger   *zap.Logger

	concurrency int
	newDecoder  func() (Decoder, error)
}

// Option configures a ParallelDecoder.
type Option func(*ParallelDecoder)

// WithConcurrency bounds how many ranges are read concurrently. Defaults
// to runtime.GOMAXPROCS(0).
func WithConcurrency(n int) Option {
	return func(p *ParallelDecoder) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger installs a structured logger for debug-level tracing.
func WithLogger(l *zap.Logger) Option {
	return func(p *ParallelDecoder) { p.logger = l }
}

// WithZSTDDecoderFactory overrides how each worker constructs its
// decompressor; defaults to a fresh *zstd.Decoder per worker, since
// *zstd.Decoder is not safe for concurrent use across goroutines that
// may run DecodeAll simultaneously.
func WithZSTDDecoderFactory(f func() (Decoder, error)) Option {
	return func(p *ParallelDecoder) { p.newDecoder = f }
}

// Open opens path once to parse and retain an immutable snapshot of its
// seek table, then closes the handle: per spec, ParallelDecoder owns no
// open source of its own, only (path, seek_table_metadata).
func Open(path string, opts ...Option) (*ParallelDecoder, error) {
	p := &ParallelDecoder{
		path:        path,
		logger:      zap.NewNop(),
		concurrency: runtime.GOMAXPROCS(0),
		newDecoder: func() (Decoder, error) {
			return zstd.NewReader(nil)
		},
	}
	for _, o := range opts {
		o(p)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parallel: failed to open %s: %w", path, err)
	}
	defer f.Close()

	snapshot, err := zseek.ReadSeekTable(f, zseek.WithRLogger(p.logger))
	if err != nil {
		return nil, fmt.Errorf("parallel: failed to read seek table from %s: %w", path, err)
	}
	p.snapshot = snapshot

	return p, nil
}

// Size returns the total decompressed size described by the cached
// seek table.
func (p *ParallelDecoder) Size() int64 { return p.snapshot.Size() }

// NumFrames returns the number of data frames described by the cached
// seek table.
func (p *ParallelDecoder) NumFrames() int64 { return p.snapshot.NumFrames() }

// ReadRanges reads every range in ranges concurrently, each against its
// own freshly-opened file handle and zstd decoder, and returns one
// buffer per range in input order regardless of completion order. An
// empty ranges slice returns an empty slice without opening the file.
// On the first worker error, remaining workers are canceled via ctx and
// the returned error names the failing range's index; no partial
// results are exposed.
func (p *ParallelDecoder) ReadRanges(ctx context.Context, ranges []Range) ([][]byte, error) {
	if len(ranges) == 0 {
		return nil, nil
	}

	for i, r := range ranges {
		if r.Start > r.End {
			return nil, fmt.Errorf("parallel: range %d has start %d > end %d", i, r.Start, r.End)
		}
	}

	results := make([][]byte, len(ranges))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, r := range ranges {
		i, r := i, r
		if r.len() == 0 {
			results[i] = []byte{}
			continue
		}
		g.Go(func() error {
			buf, err := p.readOne(gCtx, r)
			if err != nil {
				return fmt.Errorf("parallel: range %d [%d,%d): %w", i, r.Start, r.End, err)
			}
			results[i] = buf
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// readOne performs the per-worker algorithm described in spec.md §4.3:
// open the file independently, build a lightweight Decoder from the
// shared snapshot (skipping a second trailer read), and call ReadRange.
func (p *ParallelDecoder) readOne(ctx context.Context, r Range) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	dec, err := p.newDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to build zstd decoder: %w", err)
	}
	if closer, ok := dec.(interface{ Close() }); ok {
		defer closer.Close()
	}

	d, err := zseek.NewDecoderFromIndex(f, dec, p.snapshot, zseek.WithRLogger(p.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder from snapshot: %w", err)
	}

	buf := make([]byte, r.len())
	n, err := d.ReadRange(r.Start, r.End, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
