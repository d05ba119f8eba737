package pulsar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/miladsoleymani/deliverymux/broker"
	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/internal/events"
)

func init() {
	broker.Register("pulsar", func(cfg broker.Config, cb core.DeliveryCallback, opaque core.Handle) (core.Engine, error) {
		opts, err := optsFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("deliverymux/pulsar: at least one service URL is required")
		}
		e, err := New(strings.Join(cfg.Brokers, ","), cfg.Logger, opts...)
		if err != nil {
			return nil, err
		}
		e.Bind(cb, opaque)
		return e, nil
	})
}

// Sender is the part of pulsar.Producer the engine uses.
type Sender interface {
	SendAsync(ctx context.Context, msg *pulsar.ProducerMessage, cb func(pulsar.MessageID, *pulsar.ProducerMessage, error))
	Flush() error
	Close()
}

// Client creates one Sender per topic.
type Client interface {
	CreateProducer(opts pulsar.ProducerOptions) (Sender, error)
	TopicPartitions(topic string) ([]string, error)
	Close()
}

type clientAdapter struct {
	pulsar.Client
}

func (c clientAdapter) CreateProducer(opts pulsar.ProducerOptions) (Sender, error) {
	return c.Client.CreateProducer(opts)
}

// Engine implements core.Engine for Apache Pulsar.
//
// Design decisions:
//   - One pulsar.Producer per topic, created on first use.
//   - Messages go out with SendAsync; its callback queues the completion.
//   - Explicit partitions are validated against the topic's partition list
//     and enforced through a MessageRouter.
//   - The offset of a delivered message is its entry id.
type Engine struct {
	client Client
	owned  bool
	queue  *events.Queue
	opts   options
	logger *zap.Logger

	cb     core.DeliveryCallback
	opaque core.Handle

	mu        sync.Mutex
	producers map[string]Sender
	metadata  map[string]topicMetadata

	hints sync.Map // *pulsar.ProducerMessage -> int32
	next  atomic.Uint32

	gate   sync.RWMutex
	closed atomic.Bool
}

type topicMetadata struct {
	partitions int
	fetched    time.Time
}

// sendState tells a failure reported from inside SendAsync apart from one
// reported later.
type sendState struct {
	mu      sync.Mutex
	inCall  bool
	syncErr error
}

// New connects to the Pulsar service at url. Call Bind before producing.
func New(url string, logger *zap.Logger, fns ...Option) (*Engine, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               url,
		OperationTimeout:  opts.operationTimeout,
		ConnectionTimeout: opts.connectionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("deliverymux/pulsar: create client: %w", err)
	}

	e := newEngine(clientAdapter{client}, logger, opts)
	e.owned = true
	return e, nil
}

// NewFromClient wraps an existing client. The engine does not close it.
func NewFromClient(client Client, logger *zap.Logger, fns ...Option) *Engine {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return newEngine(client, logger, opts)
}

func newEngine(client Client, logger *zap.Logger, opts options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		client:    client,
		queue:     events.NewQueue(opts.limit),
		opts:      opts,
		logger:    logger.With(zap.String("engine", "pulsar")),
		producers: make(map[string]Sender),
		metadata:  make(map[string]topicMetadata),
	}
}

// Bind sets the callback completions are dispatched to.
func (e *Engine) Bind(cb core.DeliveryCallback, opaque core.Handle) {
	e.cb = cb
	e.opaque = opaque
}

func (e *Engine) Produce(req *core.ProduceRequest) core.RespErr {
	if code := events.CheckRequest(req, e.opts.maxBytes); code.IsError() {
		return code
	}
	if req.Partition != core.PartitionUnassigned {
		if code := e.checkPartition(req.Topic, req.Partition); code.IsError() {
			return code
		}
	}

	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed.Load() {
		return core.ErrDestroy
	}
	if code := e.queue.Reserve(); code.IsError() {
		return code
	}

	producer, err := e.producer(req.Topic)
	if err != nil {
		e.queue.Cancel()
		e.logger.Debug("create producer failed", zap.String("topic", req.Topic), zap.Error(err))
		return mapError(err)
	}

	key, value := events.Own(req)
	msg := &pulsar.ProducerMessage{
		Payload:   value,
		EventTime: events.Timestamp(req),
	}
	if key != nil {
		msg.Key = string(key)
	}
	if req.Partition != core.PartitionUnassigned {
		e.hints.Store(msg, req.Partition)
	}

	topic, opaque, hint := req.Topic, req.Opaque, req.Partition
	state := &sendState{inCall: true}
	producer.SendAsync(context.Background(), msg, func(id pulsar.MessageID, _ *pulsar.ProducerMessage, err error) {
		e.hints.Delete(msg)

		state.mu.Lock()
		if state.inCall && err != nil {
			state.syncErr = err
			state.mu.Unlock()
			return
		}
		state.mu.Unlock()

		c := core.Completion{Topic: topic, Opaque: opaque}
		if err != nil {
			e.logger.Debug("send failed", zap.String("topic", topic), zap.Error(err))
			c.Err = mapError(err)
			c.Partition = hint
			c.Offset = core.OffsetInvalid
		} else {
			c.Partition = max(id.PartitionIdx(), 0)
			c.Offset = id.EntryID()
		}
		e.queue.Push(c)
	})

	state.mu.Lock()
	state.inCall = false
	serr := state.syncErr
	state.mu.Unlock()
	if serr != nil {
		e.queue.Cancel()
		return mapError(serr)
	}
	return core.ErrNoError
}

// producer returns the topic's producer, creating it on first use.
func (e *Engine) producer(topic string) (Sender, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.producers[topic]; ok {
		return p, nil
	}

	opts := pulsar.ProducerOptions{
		Topic:                   topic,
		SendTimeout:             e.opts.sendTimeout,
		CompressionType:         e.opts.compression,
		BatchingMaxPublishDelay: e.opts.batchDelay,
		DisableBatching:         e.opts.noBatching,
		DisableBlockIfQueueFull: true,
		MessageRouter:           e.route,
	}
	if e.opts.name != "" {
		opts.Name = e.opts.name + "-" + topic
	}
	if e.opts.limit > 0 {
		opts.MaxPendingMessages = e.opts.limit
	}

	p, err := e.client.CreateProducer(opts)
	if err != nil {
		return nil, err
	}
	e.producers[topic] = p
	return p, nil
}

// route places hinted messages on their partition, keyed messages by hash
// and the rest round robin.
func (e *Engine) route(msg *pulsar.ProducerMessage, md pulsar.TopicMetadata) int {
	n := int(md.NumPartitions())
	if n <= 0 {
		return 0
	}
	if v, ok := e.hints.Load(msg); ok {
		if p := int(v.(int32)); p < n {
			return p
		}
	}
	if msg.Key != "" {
		return int(xxhash.Sum64String(msg.Key) % uint64(n))
	}
	return int((e.next.Add(1) - 1) % uint32(n))
}

func (e *Engine) checkPartition(topic string, partition int32) core.RespErr {
	e.mu.Lock()
	md, ok := e.metadata[topic]
	e.mu.Unlock()

	if !ok || time.Since(md.fetched) >= e.opts.metadataTTL {
		names, err := e.client.TopicPartitions(topic)
		if err != nil {
			return mapError(err)
		}
		md = topicMetadata{partitions: len(names), fetched: time.Now()}
		e.mu.Lock()
		e.metadata[topic] = md
		e.mu.Unlock()
	}
	if int(partition) >= md.partitions {
		return core.ErrUnknownPartition
	}
	return core.ErrNoError
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

// Close flushes and closes every producer. Pulsar runs the callbacks of all
// pending sends before Close returns.
func (e *Engine) Close() error {
	e.gate.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.gate.Unlock()
		return nil
	}
	e.gate.Unlock()

	e.mu.Lock()
	producers := e.producers
	e.producers = make(map[string]Sender)
	e.mu.Unlock()

	var err error
	for topic, p := range producers {
		if ferr := p.Flush(); ferr != nil {
			err = multierr.Append(err, fmt.Errorf("flush %q: %w", topic, ferr))
		}
		p.Close()
	}
	if e.owned {
		e.client.Close()
	}
	e.queue.Close()

	if err != nil {
		return fmt.Errorf("deliverymux/pulsar: %w", err)
	}
	return nil
}

func (e *Engine) dispatch(c *core.Completion) {
	e.cb(e, c, e.opaque)
}

// mapError converts a Pulsar error to a response code.
func mapError(err error) core.RespErr {
	if err == nil {
		return core.ErrNoError
	}
	var perr *pulsar.Error
	if errors.As(err, &perr) {
		switch perr.Result() {
		case pulsar.TimeoutError:
			return core.ErrMsgTimedOut
		case pulsar.ProducerQueueIsFull:
			return core.ErrQueueFull
		case pulsar.MessageTooBig:
			return core.ErrMsgSizeTooLarge
		case pulsar.ProducerClosed:
			return core.ErrDestroy
		case pulsar.TopicNotFound, pulsar.InvalidTopicName:
			return core.ErrUnknownTopic
		case pulsar.AuthorizationError:
			return core.ErrTopicAuthorizationFailed
		case pulsar.ConnectError:
			return core.ErrTransport
		}
		return core.ErrFail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrMsgTimedOut
	}
	return core.ErrFail
}

var _ core.Engine = (*Engine)(nil)
