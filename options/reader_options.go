package options

import (
	"go.uber.org/zap"

	"github.com/katabyte/zseek/env"
)

// ROption configures a Reader/Decoder at construction time.
type ROption func(*ReaderOptions) error

// ReaderOptions holds the resolved configuration for a Reader.
type ReaderOptions struct {
	Logger *zap.Logger
	Env    env.REnvironment
}

// SetDefault resets o to the package defaults: no logger, default
// io.ReadSeeker-backed source.
func (o *ReaderOptions) SetDefault() {
	*o = ReaderOptions{
		Logger: zap.NewNop(),
	}
}

// WithRLogger installs a structured logger for debug-level tracing of
// frame reads.
func WithRLogger(l *zap.Logger) ROption {
	return func(o *ReaderOptions) error { o.Logger = l; return nil }
}

// WithREnvironment substitutes the default io.ReadSeeker-backed source
// for a custom one.
func WithREnvironment(e env.REnvironment) ROption {
	return func(o *ReaderOptions) error { o.Env = e; return nil }
}
