package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/deliverymux/broker"
)

// Option configures the Kafka engine.
type Option func(*options)

type options struct {
	// Writer
	balancer     kafka.Balancer
	batchSize    int
	batchTimeout time.Duration
	writeTimeout time.Duration
	requiredAcks kafka.RequiredAcks
	compression  kafka.Compression
	autoCreate   bool

	// Metadata lookups for explicit partitions
	metadataTTL     time.Duration
	metadataTimeout time.Duration

	// General
	clientID string
	dialer   *kafka.Dialer
	maxBytes int
	limit    int
}

func defaults() options {
	return options{
		balancer:        &kafka.Hash{},
		batchSize:       100,
		batchTimeout:    10 * time.Millisecond,
		writeTimeout:    10 * time.Second,
		requiredAcks:    kafka.RequireAll,
		metadataTTL:     15 * time.Second,
		metadataTimeout: 5 * time.Second,
	}
}

// WithBalancer sets the partitioner used for messages without an explicit
// partition. The default hashes keys and spreads unkeyed messages round robin.
func WithBalancer(b kafka.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithBatchSize sets the maximum batch size for writes.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithLinger sets how long the writer waits to fill a batch.
func WithLinger(d time.Duration) Option {
	return func(o *options) { o.batchTimeout = d }
}

// WithWriteTimeout bounds each produce request.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithRequiredAcks sets the acknowledgement level.
func WithRequiredAcks(acks kafka.RequiredAcks) Option {
	return func(o *options) { o.requiredAcks = acks }
}

// WithCompression sets the batch compression codec.
func WithCompression(c kafka.Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithAutoTopicCreation lets the broker create unknown topics on first write.
func WithAutoTopicCreation(enabled bool) Option {
	return func(o *options) { o.autoCreate = enabled }
}

// WithMetadataTTL sets how long partition counts are cached.
func WithMetadataTTL(d time.Duration) Option {
	return func(o *options) { o.metadataTTL = d }
}

// WithClientID sets the client id sent to the brokers.
func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

// WithDialer sets a custom dialer for TLS/SASL connections.
func WithDialer(d *kafka.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithMessageMaxBytes bounds key plus value size.
func WithMessageMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithQueueLimit bounds the number of messages in flight.
func WithQueueLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// optsFromConfig extracts options from the broker.Config.
func optsFromConfig(cfg broker.Config) ([]Option, error) {
	opts := []Option{
		WithClientID(cfg.ClientID),
		WithQueueLimit(cfg.QueueLimit),
		WithMessageMaxBytes(cfg.MessageMaxBytes),
	}

	if v, err := cfg.Int("batch_size", 0); err != nil {
		return nil, err
	} else if v > 0 {
		opts = append(opts, WithBatchSize(v))
	}
	if v, err := cfg.Duration("linger", 0); err != nil {
		return nil, err
	} else if v > 0 {
		opts = append(opts, WithLinger(v))
	}
	if v, err := cfg.Duration("write_timeout", 0); err != nil {
		return nil, err
	} else if v > 0 {
		opts = append(opts, WithWriteTimeout(v))
	}
	if v, err := cfg.Bool("allow_auto_topic_creation", false); err != nil {
		return nil, err
	} else if v {
		opts = append(opts, WithAutoTopicCreation(true))
	}

	if v := cfg.String("acks", ""); v != "" {
		acks, err := parseAcks(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRequiredAcks(acks))
	}
	if v := cfg.String("compression", ""); v != "" {
		c, err := parseCompression(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCompression(c))
	}
	if v := cfg.String("partitioner", ""); v != "" {
		b, err := parseBalancer(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithBalancer(b))
	}

	if d, ok := cfg.Extra["dialer"].(*kafka.Dialer); ok {
		opts = append(opts, WithDialer(d))
	}
	return opts, nil
}

func parseAcks(v string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(v) {
	case "all", "-1":
		return kafka.RequireAll, nil
	case "1", "leader":
		return kafka.RequireOne, nil
	case "0", "none":
		return kafka.RequireNone, nil
	}
	return 0, fmt.Errorf("deliverymux/kafka: unknown acks %q", v)
}

func parseCompression(v string) (kafka.Compression, error) {
	switch strings.ToLower(v) {
	case "none", "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("deliverymux/kafka: unknown compression %q", v)
}

func parseBalancer(v string) (kafka.Balancer, error) {
	switch strings.ToLower(v) {
	case "hash":
		return &kafka.Hash{}, nil
	case "murmur2", "murmur2_random":
		return kafka.Murmur2Balancer{}, nil
	case "crc32", "consistent_random":
		return kafka.CRC32Balancer{}, nil
	case "least_bytes":
		return &kafka.LeastBytes{}, nil
	case "round_robin":
		return &kafka.RoundRobin{}, nil
	}
	return nil, fmt.Errorf("deliverymux/kafka: unknown partitioner %q", v)
}
