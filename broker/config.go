package broker

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/internal/events"
)

// Config holds engine-agnostic configuration.
// Engine plugins extract the fields they need.
//
// A Config is also a core.Opener, so it can be passed straight to
// core.NewProducer:
//
//	cfg := broker.Config{Engine: "kafka", Brokers: []string{"localhost:9092"}}
//	p, err := core.NewProducer(cfg, pc)
type Config struct {
	// Engine names the registered plugin that opens the engine.
	Engine string `yaml:"engine"`

	// Brokers is a list of broker addresses (e.g., "localhost:9092").
	Brokers []string `yaml:"brokers"`

	// ClientID identifies the producer to the broker. Defaults to
	// "deliverymux-<uuid>".
	ClientID string `yaml:"client_id"`

	// Topic is the default topic for engines that bind one up front.
	Topic string `yaml:"topic"`

	// QueueLimit bounds the number of messages in flight. Send fails with
	// core.ErrQueueFull beyond it.
	QueueLimit int `yaml:"queue_limit"`

	// MessageMaxBytes bounds key plus payload size. Larger messages are
	// rejected with core.ErrMsgSizeTooLarge.
	MessageMaxBytes int `yaml:"message_max_bytes"`

	// Options holds plugin-specific string settings, e.g. "acks" or
	// "linger". Unknown keys are ignored by the plugins.
	Options map[string]string `yaml:"options"`

	// Extra holds plugin-specific values that cannot be expressed as
	// strings, such as TLS configs or pre-built clients.
	Extra map[string]any `yaml:"-"`

	// Logger is handed to the engine. Defaults to a no-op logger.
	Logger *zap.Logger `yaml:"-"`
}

// LoadConfig reads a YAML config file. Environment variables in the file are
// expanded and unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("deliverymux/broker: read config: %w", err)
	}
	if err := ParseConfig([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseConfig decodes YAML into cfg, rejecting unknown keys.
func ParseConfig(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("deliverymux/broker: invalid config: %w", err)
	}
	return nil
}

// Validate reports every problem with the config at once.
func (c Config) Validate() error {
	var err error
	if c.Engine == "" {
		err = multierr.Append(err, errors.New("engine is required"))
	}
	if c.QueueLimit < 0 {
		err = multierr.Append(err, fmt.Errorf("queue_limit must not be negative, got %d", c.QueueLimit))
	}
	if c.MessageMaxBytes < 0 {
		err = multierr.Append(err, fmt.Errorf("message_max_bytes must not be negative, got %d", c.MessageMaxBytes))
	}
	for i, b := range c.Brokers {
		if b == "" {
			err = multierr.Append(err, fmt.Errorf("brokers[%d] is empty", i))
		}
	}
	if err != nil {
		return fmt.Errorf("deliverymux/broker: invalid config: %w", err)
	}
	return nil
}

// WithDefaults returns a copy of c with unset fields filled in.
func (c Config) WithDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "deliverymux-" + uuid.New().String()
	}
	if c.QueueLimit == 0 {
		c.QueueLimit = events.DefaultLimit
	}
	if c.MessageMaxBytes == 0 {
		c.MessageMaxBytes = events.DefaultMessageMaxBytes
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Open implements core.Opener by creating the configured engine.
func (c Config) Open(cb core.DeliveryCallback, opaque core.Handle) (core.Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return Create(c.Engine, c.WithDefaults(), cb, opaque)
}

// String returns the option key, or def when it is unset.
func (c Config) String(key, def string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Int parses the option key as an integer.
func (c Config) Int(key string, def int) (int, error) {
	v, ok := c.Options[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("deliverymux/broker: option %q: %w", key, err)
	}
	return n, nil
}

// Bool parses the option key as a boolean.
func (c Config) Bool(key string, def bool) (bool, error) {
	v, ok := c.Options[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("deliverymux/broker: option %q: %w", key, err)
	}
	return b, nil
}

// Duration parses the option key with time.ParseDuration.
func (c Config) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.Options[key]
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("deliverymux/broker: option %q: %w", key, err)
	}
	return d, nil
}
