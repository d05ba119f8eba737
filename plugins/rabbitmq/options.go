package rabbitmq

import (
	"time"

	"github.com/miladsoleymani/deliverymux/broker"
)

// Option configures the RabbitMQ engine.
type Option func(*options)

type options struct {
	// Exchange settings
	exchange     string
	exchangeType string
	declare      bool

	// Message settings
	persistent  bool
	contentType string

	clientID       string
	confirmTimeout time.Duration
	maxBytes       int
	limit          int
}

func defaults() options {
	return options{
		exchange:       "",       // default exchange routes by queue name
		exchangeType:   "direct", // direct, fanout, topic, headers
		persistent:     true,
		contentType:    "application/octet-stream",
		confirmTimeout: 30 * time.Second,
	}
}

// WithExchange publishes to the named exchange instead of the default one.
// The topic becomes the routing key.
func WithExchange(name, kind string) Option {
	return func(o *options) {
		o.exchange = name
		o.exchangeType = kind
	}
}

// WithDeclareExchange declares the exchange as durable when the engine opens.
func WithDeclareExchange(declare bool) Option {
	return func(o *options) { o.declare = declare }
}

// WithPersistent sets whether messages survive a broker restart.
func WithPersistent(persistent bool) Option {
	return func(o *options) { o.persistent = persistent }
}

// WithContentType sets the content type of every message.
func WithContentType(ct string) Option {
	return func(o *options) { o.contentType = ct }
}

// WithClientID sets the connection name and the AppId of every message.
func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

// WithConfirmTimeout bounds how long a message waits for its publisher
// confirm before it is reported as timed out.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *options) { o.confirmTimeout = d }
}

// WithMessageMaxBytes bounds key plus body size.
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
	if ex := cfg.String("exchange", ""); ex != "" {
		opts = append(opts, WithExchange(ex, cfg.String("exchange_type", "direct")))
	}
	if v, err := cfg.Bool("declare_exchange", false); err != nil {
		return nil, err
	} else if v {
		opts = append(opts, WithDeclareExchange(true))
	}
	if v, err := cfg.Bool("persistent", true); err != nil {
		return nil, err
	} else if !v {
		opts = append(opts, WithPersistent(false))
	}
	if ct := cfg.String("content_type", ""); ct != "" {
		opts = append(opts, WithContentType(ct))
	}
	if v, err := cfg.Duration("confirm_timeout", 0); err != nil {
		return nil, err
	} else if v > 0 {
		opts = append(opts, WithConfirmTimeout(v))
	}
	return opts, nil
}
