package sarama

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/miladsoleymani/deliverymux/broker"
	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/internal/events"
)

func init() {
	broker.Register("sarama", func(cfg broker.Config, cb core.DeliveryCallback, opaque core.Handle) (core.Engine, error) {
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

// Engine implements core.Engine on top of a sarama.AsyncProducer.
//
// Two goroutines drain Successes() and Errors() into the completion queue.
// The per-message handle travels in ProducerMessage.Metadata. Produce never
// waits for room in the producer's input buffer; a full buffer is reported
// as core.ErrQueueFull.
type Engine struct {
	producer sarama.AsyncProducer
	client   sarama.Client // owned, nil when the producer was injected
	lookup   sarama.Client // metadata source for explicit partitions, may be nil
	queue    *events.Queue
	maxBytes int
	logger   *zap.Logger

	cb     core.DeliveryCallback
	opaque core.Handle

	// mu keeps Produce from writing to Input while Close shuts it down.
	mu     sync.RWMutex
	closed atomic.Bool
	wg     sync.WaitGroup
}

type envelope struct {
	opaque    core.Handle
	partition int32
}

// New connects to the brokers and creates an engine. Call Bind before
// producing.
func New(brokers []string, logger *zap.Logger, fns ...Option) (*Engine, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("deliverymux/sarama: at least one broker address is required")
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	conf, err := opts.saramaConfig()
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("deliverymux/sarama: connect: %w", err)
	}
	producer, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("deliverymux/sarama: create producer: %w", err)
	}
	return newEngine(producer, client, logger, opts), nil
}

// NewFromProducer wraps an existing producer. It must have been created from
// a config returned by NewConfig. client is optional; when set, explicit
// partitions are validated against its metadata before a message is
// accepted. The engine closes neither.
func NewFromProducer(producer sarama.AsyncProducer, client sarama.Client, logger *zap.Logger, fns ...Option) *Engine {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	e := newEngine(producer, nil, logger, opts)
	e.lookup = client
	return e
}

func newEngine(producer sarama.AsyncProducer, client sarama.Client, logger *zap.Logger, opts options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		producer: producer,
		client:   client,
		lookup:   client,
		queue:    events.NewQueue(opts.limit),
		maxBytes: opts.maxBytes,
		logger:   logger.With(zap.String("engine", "sarama")),
	}
	e.wg.Add(2)
	go e.drainSuccesses()
	go e.drainErrors()
	return e
}

// Bind sets the callback completions are dispatched to.
func (e *Engine) Bind(cb core.DeliveryCallback, opaque core.Handle) {
	e.cb = cb
	e.opaque = opaque
}

func (e *Engine) Produce(req *core.ProduceRequest) core.RespErr {
	if code := events.CheckRequest(req, e.maxBytes); code.IsError() {
		return code
	}
	if req.Partition != core.PartitionUnassigned {
		if code := e.checkPartition(req.Topic, req.Partition); code.IsError() {
			return code
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return core.ErrDestroy
	}
	if code := e.queue.Reserve(); code.IsError() {
		return code
	}

	key, value := events.Own(req)
	msg := &sarama.ProducerMessage{
		Topic:     req.Topic,
		Timestamp: events.Timestamp(req),
		Metadata:  &envelope{opaque: req.Opaque, partition: req.Partition},
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}
	if value != nil {
		msg.Value = sarama.ByteEncoder(value)
	}
	select {
	case e.producer.Input() <- msg:
		return core.ErrNoError
	default:
		e.queue.Cancel()
		return core.ErrQueueFull
	}
}

func (e *Engine) checkPartition(topic string, partition int32) core.RespErr {
	if e.lookup == nil {
		return core.ErrNoError
	}
	partitions, err := e.lookup.Partitions(topic)
	if err != nil {
		code := mapError(err)
		if code == core.ErrUnknownTopicOrPart {
			return core.ErrUnknownTopic
		}
		return code
	}
	if int(partition) >= len(partitions) {
		return core.ErrUnknownPartition
	}
	return core.ErrNoError
}

func (e *Engine) drainSuccesses() {
	defer e.wg.Done()
	for msg := range e.producer.Successes() {
		env, ok := msg.Metadata.(*envelope)
		if !ok {
			continue
		}
		e.queue.Push(core.Completion{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Opaque:    env.opaque,
		})
	}
}

func (e *Engine) drainErrors() {
	defer e.wg.Done()
	for perr := range e.producer.Errors() {
		if perr.Msg == nil {
			e.logger.Error("producer error without message", zap.Error(perr.Err))
			continue
		}
		env, ok := perr.Msg.Metadata.(*envelope)
		if !ok {
			continue
		}
		partition := perr.Msg.Partition
		if env.partition != core.PartitionUnassigned {
			partition = env.partition
		}
		e.logger.Debug("message failed",
			zap.String("topic", perr.Msg.Topic),
			zap.Int32("partition", partition),
			zap.Error(perr.Err),
		)
		e.queue.Push(core.Completion{
			Topic:     perr.Msg.Topic,
			Err:       mapError(perr.Err),
			Partition: partition,
			Offset:    core.OffsetInvalid,
			Opaque:    env.opaque,
		})
	}
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

// Close shuts the producer down and waits until every buffered message has
// been acknowledged or failed. Their completions stay queued for Poll.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return nil
	}
	e.producer.AsyncClose()
	e.mu.Unlock()

	e.wg.Wait()
	e.queue.Close()

	var err error
	if e.client != nil {
		err = multierr.Append(err, e.client.Close())
	}
	if err != nil {
		return fmt.Errorf("deliverymux/sarama: close: %w", err)
	}
	return nil
}

func (e *Engine) dispatch(c *core.Completion) {
	e.cb(e, c, e.opaque)
}

var _ core.Engine = (*Engine)(nil)
