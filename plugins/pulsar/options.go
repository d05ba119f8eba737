package pulsar

import (
	"fmt"
	"strings"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/miladsoleymani/deliverymux/broker"
)

// Option configures the Pulsar engine.
type Option func(*options)

type options struct {
	// Client
	operationTimeout  time.Duration
	connectionTimeout time.Duration

	// Producer
	name         string
	sendTimeout  time.Duration
	compression  pulsar.CompressionType
	batchDelay   time.Duration
	noBatching   bool
	maxBytes     int
	limit        int
	metadataTTL  time.Duration
}

func defaults() options {
	return options{
		operationTimeout:  30 * time.Second,
		connectionTimeout: 5 * time.Second,
		sendTimeout:       30 * time.Second,
		compression:       pulsar.NoCompression,
		batchDelay:        10 * time.Millisecond,
		metadataTTL:       time.Minute,
	}
}

// WithOperationTimeout bounds client operations such as creating producers.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) { o.operationTimeout = d }
}

// WithConnectionTimeout bounds establishing a broker connection.
func WithConnectionTimeout(d time.Duration) Option {
	return func(o *options) { o.connectionTimeout = d }
}

// WithName sets the producer name prefix. Each topic's producer gets the
// topic appended.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithSendTimeout fails messages that are not acknowledged in time.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) { o.sendTimeout = d }
}

// WithCompression sets the batch compression codec.
func WithCompression(c pulsar.CompressionType) Option {
	return func(o *options) { o.compression = c }
}

// WithLinger sets the maximum batching delay.
func WithLinger(d time.Duration) Option {
	return func(o *options) { o.batchDelay = d }
}

// WithoutBatching sends every message in its own request.
func WithoutBatching() Option {
	return func(o *options) { o.noBatching = true }
}

// WithMessageMaxBytes bounds key plus payload size.
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
		WithName(cfg.ClientID),
		WithQueueLimit(cfg.QueueLimit),
		WithMessageMaxBytes(cfg.MessageMaxBytes),
	}
	if v, err := cfg.Duration("send_timeout", 0); err != nil {
		return nil, err
	} else if v > 0 {
		opts = append(opts, WithSendTimeout(v))
	}
	if v, err := cfg.Duration("operation_timeout", 0); err != nil {
		return nil, err
	} else if v > 0 {
		opts = append(opts, WithOperationTimeout(v))
	}
	if v, err := cfg.Duration("linger", 0); err != nil {
		return nil, err
	} else if v > 0 {
		opts = append(opts, WithLinger(v))
	}
	if v, err := cfg.Bool("disable_batching", false); err != nil {
		return nil, err
	} else if v {
		opts = append(opts, WithoutBatching())
	}
	if v := cfg.String("compression", ""); v != "" {
		c, err := parseCompression(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCompression(c))
	}
	return opts, nil
}

func parseCompression(v string) (pulsar.CompressionType, error) {
	switch strings.ToUpper(v) {
	case "NONE":
		return pulsar.NoCompression, nil
	case "LZ4":
		return pulsar.LZ4, nil
	case "ZLIB":
		return pulsar.ZLib, nil
	case "ZSTD":
		return pulsar.ZSTD, nil
	}
	return pulsar.NoCompression, fmt.Errorf("deliverymux/pulsar: unknown compression %q", v)
}
