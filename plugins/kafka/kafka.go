package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/miladsoleymani/deliverymux/broker"
	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/internal/events"
)

func init() {
	broker.Register("kafka", func(cfg broker.Config, cb core.DeliveryCallback, opaque core.Handle) (core.Engine, error) {
		opts, err := optsFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		e, err := New(cfg.Brokers, cfg.Logger, opts...)
		if err != nil {
			return nil, err
		}
		e.Bind(cb, opaque)
		return e, nil
	})
}

// Engine implements core.Engine for Apache Kafka using segmentio/kafka-go.
//
// Design decisions:
//   - One async kafka.Writer shared across all Produce calls. Its Completion
//     hook pushes every finished batch onto the completion queue.
//   - The per-message handle travels in Message.WriterData, so completions
//     map back to the producer without any lookup table.
//   - Explicit partitions are validated against cached topic metadata before
//     the message is accepted; kafka-go itself would silently rebalance them.
//   - Close flushes the writer; kafka-go blocks until every Completion call
//     has returned.
type Engine struct {
	writer *kafka.Writer
	client *kafka.Client
	queue  *events.Queue
	opts   options
	logger *zap.Logger

	cb     core.DeliveryCallback
	opaque core.Handle

	mu       sync.Mutex
	metadata map[string]topicMetadata

	closed atomic.Bool
}

type topicMetadata struct {
	partitions int
	fetched    time.Time
}

// envelope rides along with each message in kafka.Message.WriterData.
type envelope struct {
	opaque    core.Handle
	partition int32
}

// New creates a Kafka engine. Call Bind before producing.
func New(brokers []string, logger *zap.Logger, fns ...Option) (*Engine, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("deliverymux/kafka: at least one broker address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	transport := &kafka.Transport{
		ClientID:    opts.clientID,
		MetadataTTL: opts.metadataTTL,
	}
	if opts.dialer != nil {
		transport.TLS = opts.dialer.TLS
		transport.SASL = opts.dialer.SASLMechanism
	}

	e := &Engine{
		queue:    events.NewQueue(opts.limit),
		opts:     opts,
		logger:   logger.With(zap.String("engine", "kafka")),
		metadata: make(map[string]topicMetadata),
	}

	addr := kafka.TCP(brokers...)
	e.client = &kafka.Client{
		Addr:      addr,
		Timeout:   opts.metadataTimeout,
		Transport: transport,
	}
	e.writer = &kafka.Writer{
		Addr:                   addr,
		Balancer:               hintBalancer{fallback: opts.balancer},
		BatchSize:              opts.batchSize,
		BatchTimeout:           opts.batchTimeout,
		WriteTimeout:           opts.writeTimeout,
		RequiredAcks:           opts.requiredAcks,
		Compression:            opts.compression,
		AllowAutoTopicCreation: opts.autoCreate,
		Async:                  true,
		Completion:             e.complete,
		Transport:              transport,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			e.logger.Sugar().Errorf(msg, args...)
		}),
	}
	return e, nil
}

// Bind sets the callback completions are dispatched to.
func (e *Engine) Bind(cb core.DeliveryCallback, opaque core.Handle) {
	e.cb = cb
	e.opaque = opaque
}

func (e *Engine) Produce(req *core.ProduceRequest) core.RespErr {
	if e.closed.Load() {
		return core.ErrDestroy
	}
	if code := events.CheckRequest(req, e.opts.maxBytes); code.IsError() {
		return code
	}
	if req.Partition != core.PartitionUnassigned {
		if code := e.checkPartition(req.Topic, req.Partition); code.IsError() {
			return code
		}
	}
	if code := e.queue.Reserve(); code.IsError() {
		return code
	}

	key, value := events.Own(req)
	msg := kafka.Message{
		Topic:      req.Topic,
		Key:        key,
		Value:      value,
		Time:       events.Timestamp(req),
		WriterData: &envelope{opaque: req.Opaque, partition: req.Partition},
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.metadataTimeout)
	defer cancel()
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		e.queue.Cancel()
		code := mapError(err)
		if code == core.ErrUnknownTopicOrPart {
			code = core.ErrUnknownTopic
		}
		e.logger.Debug("produce rejected", zap.String("topic", req.Topic), zap.Error(err))
		return code
	}
	return core.ErrNoError
}

// complete runs on kafka-go's goroutines once a batch is acknowledged or has
// failed for good.
func (e *Engine) complete(msgs []kafka.Message, err error) {
	code := mapError(err)
	if code.IsError() {
		e.logger.Debug("batch failed", zap.Int("messages", len(msgs)), zap.Error(err))
	}
	for i := range msgs {
		m := &msgs[i]
		env, ok := m.WriterData.(*envelope)
		if !ok {
			continue
		}
		c := core.Completion{
			Topic:     m.Topic,
			Err:       code,
			Partition: int32(m.Partition),
			Offset:    m.Offset,
			Opaque:    env.opaque,
		}
		if code.IsError() {
			c.Offset = core.OffsetInvalid
			if env.partition != core.PartitionUnassigned {
				c.Partition = env.partition
			}
		}
		e.queue.Push(c)
	}
}

func (e *Engine) checkPartition(topic string, partition int32) core.RespErr {
	n, err := e.partitions(topic)
	if err != nil {
		code := mapError(err)
		if code == core.ErrUnknownTopicOrPart {
			return core.ErrUnknownTopic
		}
		return code
	}
	if int(partition) >= n {
		return core.ErrUnknownPartition
	}
	return core.ErrNoError
}

// partitions returns the partition count of topic, from cache when fresh.
func (e *Engine) partitions(topic string) (int, error) {
	e.mu.Lock()
	md, ok := e.metadata[topic]
	e.mu.Unlock()
	if ok && time.Since(md.fetched) < e.opts.metadataTTL {
		return md.partitions, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.metadataTimeout)
	defer cancel()
	resp, err := e.client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return 0, fmt.Errorf("deliverymux/kafka: metadata for %q: %w", topic, err)
	}
	for _, t := range resp.Topics {
		if t.Name != topic {
			continue
		}
		if t.Error != nil {
			return 0, t.Error
		}
		e.mu.Lock()
		e.metadata[topic] = topicMetadata{partitions: len(t.Partitions), fetched: time.Now()}
		e.mu.Unlock()
		return len(t.Partitions), nil
	}
	return 0, kafka.UnknownTopicOrPartition
}

func (e *Engine) Poll(timeout time.Duration) int {
	return e.queue.Poll(timeout, e.dispatch)
}

func (e *Engine) Flush(timeout time.Duration) core.RespErr {
	return e.queue.Flush(timeout, e.dispatch)
}

func (e *Engine) Len() int {
	return e.queue.Len()
}

// Close flushes the writer. Completions of the flushed batches stay queued
// for the next Poll.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer e.queue.Close()
	if err := e.writer.Close(); err != nil {
		return fmt.Errorf("deliverymux/kafka: close writer: %w", err)
	}
	return nil
}

func (e *Engine) dispatch(c *core.Completion) {
	e.cb(e, c, e.opaque)
}

// hintBalancer honors the partition chosen by the caller and defers to
// fallback for everything else.
type hintBalancer struct {
	fallback kafka.Balancer
}

func (b hintBalancer) Balance(msg kafka.Message, partitions ...int) int {
	if env, ok := msg.WriterData.(*envelope); ok && env.partition != core.PartitionUnassigned {
		for _, p := range partitions {
			if p == int(env.partition) {
				return p
			}
		}
	}
	return b.fallback.Balance(msg, partitions...)
}

var _ core.Engine = (*Engine)(nil)
