// Package options holds the functional-option sets for Writer and Reader
// construction, kept separate from the zseek package so other packages
// (e.g. parallel) can build options without importing zseek's internals.
package options

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/katabyte/zseek/env"
)

// WOption configures a Writer at construction time.
type WOption func(*WriterOptions) error

// WriterOptions holds the resolved configuration for a Writer.
type WriterOptions struct {
	Logger *zap.Logger
	Env    env.WEnvironment

	// FrameSize is the target number of uncompressed bytes per frame
	// before the writer auto-flushes. Must be in [1KiB, 2GiB).
	FrameSize int64
	// CompressionLevel is forwarded to the zstd encoder.
	CompressionLevel int
	// EmitChecksums sets the seek table's checksum descriptor bit and
	// stores a per-frame XXH64 checksum.
	EmitChecksums bool
}

// SetDefault resets o to the package defaults: 256KiB frames, zstd level
// 3, checksums enabled, no logger, and the default io.Writer environment.
func (o *WriterOptions) SetDefault() {
	*o = WriterOptions{
		Logger:           zap.NewNop(),
		FrameSize:        256 << 10,
		CompressionLevel: 3,
		EmitChecksums:    true,
	}
}

// WithWLogger installs a structured logger for debug-level tracing of
// frame appends.
func WithWLogger(l *zap.Logger) WOption {
	return func(o *WriterOptions) error { o.Logger = l; return nil }
}

// WithWEnvironment substitutes the default io.Writer-backed sink for a
// custom one, e.g. one that performs its own chunking upstream.
func WithWEnvironment(e env.WEnvironment) WOption {
	return func(o *WriterOptions) error { o.Env = e; return nil }
}

// WithFrameSize sets the target uncompressed size per frame. Larger
// values improve the compression ratio at the cost of seek granularity
// and per-frame decode memory.
func WithFrameSize(n int64) WOption {
	return func(o *WriterOptions) error {
		if n < 1<<10 || n > (1<<31)-1 {
			return fmt.Errorf("frame_size %d out of range [1KiB, 2GiB)", n)
		}
		o.FrameSize = n
		return nil
	}
}

// WithCompressionLevel sets the zstd compression level.
func WithCompressionLevel(level int) WOption {
	return func(o *WriterOptions) error {
		if level < 1 || level > 22 {
			return fmt.Errorf("compression level %d out of range [1, 22]", level)
		}
		o.CompressionLevel = level
		return nil
	}
}

// WithEmitChecksums toggles per-frame XXH64 checksums in the seek table.
func WithEmitChecksums(emit bool) WOption {
	return func(o *WriterOptions) error { o.EmitChecksums = emit; return nil }
}
