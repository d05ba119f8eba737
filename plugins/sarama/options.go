package sarama

import (
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/miladsoleymani/deliverymux/broker"
)

// Option configures the sarama engine.
type Option func(*options)

type options struct {
	version      sarama.KafkaVersion
	clientID     string
	requiredAcks sarama.RequiredAcks
	compression  sarama.CompressionCodec
	partitioner  sarama.PartitionerConstructor
	linger       time.Duration
	retries      int
	timeout      time.Duration
	maxBytes     int
	limit        int
}

func defaults() options {
	return options{
		version:      sarama.V2_1_0_0,
		requiredAcks: sarama.WaitForAll,
		compression:  sarama.CompressionNone,
		partitioner:  sarama.NewHashPartitioner,
		retries:      3,
		timeout:      10 * time.Second,
	}
}

// WithVersion sets the Kafka protocol version sarama speaks.
func WithVersion(v sarama.KafkaVersion) Option {
	return func(o *options) { o.version = v }
}

// WithClientID sets the client id sent to the brokers.
func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

// WithRequiredAcks sets the acknowledgement level.
func WithRequiredAcks(acks sarama.RequiredAcks) Option {
	return func(o *options) { o.requiredAcks = acks }
}

// WithCompression sets the batch compression codec.
func WithCompression(c sarama.CompressionCodec) Option {
	return func(o *options) { o.compression = c }
}

// WithPartitioner sets the partitioner used for messages without an
// explicit partition.
func WithPartitioner(p sarama.PartitionerConstructor) Option {
	return func(o *options) { o.partitioner = p }
}

// WithLinger sets the flush frequency.
func WithLinger(d time.Duration) Option {
	return func(o *options) { o.linger = d }
}

// WithRetries sets how often sarama retries a failed produce request.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithTimeout bounds how long the broker may wait for the required acks.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMessageMaxBytes bounds key plus value size.
func WithMessageMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithQueueLimit bounds the number of messages in flight.
func WithQueueLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// NewConfig returns the sarama configuration the engine runs with.
func NewConfig(fns ...Option) (*sarama.Config, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return opts.saramaConfig()
}

func (o options) saramaConfig() (*sarama.Config, error) {
	c := sarama.NewConfig()
	c.Version = o.version
	if o.clientID != "" {
		c.ClientID = o.clientID
	}
	c.Producer.Return.Successes = true
	c.Producer.Return.Errors = true
	c.Producer.RequiredAcks = o.requiredAcks
	c.Producer.Compression = o.compression
	c.Producer.Flush.Frequency = o.linger
	c.Producer.Retry.Max = o.retries
	c.Producer.Timeout = o.timeout
	if o.maxBytes > 0 {
		c.Producer.MaxMessageBytes = o.maxBytes
	}
	fallback := o.partitioner
	c.Producer.Partitioner = func(topic string) sarama.Partitioner {
		return hintPartitioner{fallback: fallback(topic)}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("deliverymux/sarama: invalid config: %w", err)
	}
	return c, nil
}

// optsFromConfig extracts options from the broker.Config.
func optsFromConfig(cfg broker.Config) ([]Option, error) {
	opts := []Option{
		WithClientID(cfg.ClientID),
		WithQueueLimit(cfg.QueueLimit),
		WithMessageMaxBytes(cfg.MessageMaxBytes),
	}

	if v := cfg.String("version", ""); v != "" {
		version, err := sarama.ParseKafkaVersion(v)
		if err != nil {
			return nil, fmt.Errorf("deliverymux/sarama: %w", err)
		}
		opts = append(opts, WithVersion(version))
	}
	if v := cfg.String("acks", ""); v != "" {
		acks, err := parseAcks(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRequiredAcks(acks))
	}
	if v := cfg.String("compression", ""); v != "" {
		var codec sarama.CompressionCodec
		if err := codec.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("deliverymux/sarama: %w", err)
		}
		opts = append(opts, WithCompression(codec))
	}
	if v := cfg.String("partitioner", ""); v != "" {
		p, err := parsePartitioner(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPartitioner(p))
	}
	if v, err := cfg.Duration("linger", 0); err != nil {
		return nil, err
	} else if v > 0 {
		opts = append(opts, WithLinger(v))
	}
	if v, err := cfg.Int("retries", -1); err != nil {
		return nil, err
	} else if v >= 0 {
		opts = append(opts, WithRetries(v))
	}
	return opts, nil
}

func parseAcks(v string) (sarama.RequiredAcks, error) {
	switch strings.ToLower(v) {
	case "all", "-1":
		return sarama.WaitForAll, nil
	case "1", "leader":
		return sarama.WaitForLocal, nil
	case "0", "none":
		return sarama.NoResponse, nil
	}
	return 0, fmt.Errorf("deliverymux/sarama: unknown acks %q", v)
}

func parsePartitioner(v string) (sarama.PartitionerConstructor, error) {
	switch strings.ToLower(v) {
	case "hash":
		return sarama.NewHashPartitioner, nil
	case "murmur2", "murmur2_random":
		return sarama.NewReferenceHashPartitioner, nil
	case "consistent_random", "crc32":
		return sarama.NewConsistentCRCHashPartitioner, nil
	case "random":
		return sarama.NewRandomPartitioner, nil
	case "round_robin":
		return sarama.NewRoundRobinPartitioner, nil
	}
	return nil, fmt.Errorf("deliverymux/sarama: unknown partitioner %q", v)
}
