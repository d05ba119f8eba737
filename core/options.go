package core

import "go.uber.org/zap"

// Option configures a Producer.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

func defaults() options {
	return options{
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger used for delivery events and shutdown
// diagnostics. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
