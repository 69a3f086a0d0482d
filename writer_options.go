package zseek

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/katabyte/zseek/env"
	"github.com/katabyte/zseek/options"
)

// WOption configures a Writer; re-exported from options so callers only
// need to import the zseek package for the common path.
type WOption = options.WOption

// WithWLogger installs a structured logger for debug-level frame tracing.
func WithWLogger(l *zap.Logger) WOption { return options.WithWLogger(l) }

// WithWEnvironment substitutes the default io.Writer-backed sink.
func WithWEnvironment(e env.WEnvironment) WOption { return options.WithWEnvironment(e) }

// WithFrameSize sets the target uncompressed size per frame, in [1KiB, 2GiB).
func WithFrameSize(n int64) WOption { return options.WithFrameSize(n) }

// WithCompressionLevel sets the zstd compression level, in [1, 22].
func WithCompressionLevel(level int) WOption { return options.WithCompressionLevel(level) }

// WithEmitChecksums toggles per-frame XXH64 checksums in the seek table.
func WithEmitChecksums(emit bool) WOption { return options.WithEmitChecksums(emit) }

type writeManyOptions struct {
	concurrency   int
	writeCallback func(uint32)
}

// WriteManyOption configures a ConcurrentWriter.WriteMany call.
type WriteManyOption func(*writeManyOptions) error

// WithConcurrency bounds how many frames WriteMany encodes in parallel.
// Defaults to runtime.GOMAXPROCS(0).
func WithConcurrency(concurrency int) WriteManyOption {
	return func(o *writeManyOptions) error {
		if concurrency < 1 {
			return fmt.Errorf("concurrency must be positive: %d", concurrency)
		}
		o.concurrency = concurrency
		return nil
	}
}

// WithWriteCallback registers a callback invoked with each frame's
// decompressed size as it is durably written, in FrameSource order.
func WithWriteCallback(cb func(size uint32)) WriteManyOption {
	return func(o *writeManyOptions) error {
		o.writeCallback = cb
		return nil
	}
}
