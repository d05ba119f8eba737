package nats

import (
	"time"

	"github.com/miladsoleymani/deliverymux/broker"
)

// Option configures the NATS engine.
type Option func(*options)

type options struct {
	clientID   string
	ackTimeout time.Duration
	dedupe     bool
	stream     string
	maxBytes   int
	limit      int
}

func defaults() options {
	return options{
		ackTimeout: 30 * time.Second,
	}
}

// WithClientID sets the connection name reported to the server.
func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

// WithAckTimeout bounds how long a publish waits for its stream ack before
// it is reported as timed out.
func WithAckTimeout(d time.Duration) Option {
	return func(o *options) { o.ackTimeout = d }
}

// WithDeduplication attaches a unique Nats-Msg-Id to every message so the
// stream can drop republished duplicates.
func WithDeduplication(enabled bool) Option {
	return func(o *options) { o.dedupe = enabled }
}

// WithExpectStream fails publishes that land in any stream other than name.
func WithExpectStream(name string) Option {
	return func(o *options) { o.stream = name }
}

// WithMessageMaxBytes bounds key plus value size.
func WithMessageMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithQueueLimit bounds the number of messages in flight.
func WithQueueLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) ([]Option, error) {
	opts := []Option{
		WithClientID(cfg.ClientID),
		WithQueueLimit(cfg.QueueLimit),
		WithMessageMaxBytes(cfg.MessageMaxBytes),
	}
	if v, err := cfg.Duration("ack_timeout", 0); err != nil {
		return nil, err
	} else if v > 0 {
		opts = append(opts, WithAckTimeout(v))
	}
	if v, err := cfg.Bool("dedupe", false); err != nil {
		return nil, err
	} else if v {
		opts = append(opts, WithDeduplication(true))
	}
	if v := cfg.String("stream", ""); v != "" {
		opts = append(opts, WithExpectStream(v))
	}
	return opts, nil
}
