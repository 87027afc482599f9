// pkg/buspirate/options.go
package buspirate

import (
	"go.uber.org/zap"

	"buspirate-host/internal/cobs"
)

type options struct {
	logger       *zap.Logger
	maxFrameSize int
	readChunk    int
}

// Option configures a connection opened with Open.
type Option func(*options)

// WithLogger sets the logger used for exchanges and mode transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxFrameSize sets the decoded frame capacity. Larger responses fail
// with a FramingError.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// WithReadChunk sets how many bytes are requested from the channel per read.
func WithReadChunk(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readChunk = n
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:       zap.NewNop(),
		maxFrameSize: cobs.DefaultMaxFrameSize,
		readChunk:    defaultReadChunk,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
