package zseek

import (
	"go.uber.org/zap"

	"github.com/katabyte/zseek/env"
	"github.com/katabyte/zseek/options"
)

// ROption configures a Reader/Decoder; re-exported from options so
// callers only need to import the zseek package for the common path.
type ROption = options.ROption

// WithRLogger installs a structured logger for debug-level read tracing.
func WithRLogger(l *zap.Logger) ROption { return options.WithRLogger(l) }

// WithREnvironment substitutes the default io.ReadSeeker-backed source.
func WithREnvironment(e env.REnvironment) ROption { return options.WithREnvironment(e) }
