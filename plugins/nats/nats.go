package nats

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/miladsoleymani/deliverymux/broker"
	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/internal/events"
)

func init() {
	broker.Register("nats", func(cfg broker.Config, cb core.DeliveryCallback, opaque core.Handle) (core.Engine, error) {
		opts, err := optsFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("deliverymux/nats: at least one broker URL is required")
		}
		e, err := New(strings.Join(cfg.Brokers, ","), cfg.Logger, opts...)
		if err != nil {
			return nil, err
		}
		e.Bind(cb, opaque)
		return e, nil
	})
}

// Headers carrying the fields a NATS message has no slot for.
const (
	HeaderKey       = "Deliverymux-Key"
	HeaderTimestamp = "Deliverymux-Timestamp"
)

// Publisher is the part of jetstream.JetStream the engine uses.
type Publisher interface {
	PublishMsgAsync(msg *nats.Msg, opts ...jetstream.PublishOpt) (jetstream.PubAckFuture, error)
}

// Engine implements core.Engine for NATS JetStream.
//
// Design decisions:
//   - Subjects are the topics. JetStream has no partitions, so only the
//     unassigned partition and partition 0 are accepted.
//   - Every publish is asynchronous; one goroutine per message waits on its
//     PubAckFuture and queues the completion.
//   - The offset of a delivered message is its stream sequence.
//   - Keys and timestamps travel as headers.
type Engine struct {
	conn   *nats.Conn // owned, nil when the publisher was injected
	js     Publisher
	queue  *events.Queue
	opts   options
	logger *zap.Logger

	cb     core.DeliveryCallback
	opaque core.Handle

	mu     sync.RWMutex
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New creates a NATS JetStream engine. url is a standard NATS URL
// (nats://host:port), or several separated by commas. Call Bind before
// producing.
func New(url string, logger *zap.Logger, fns ...Option) (*Engine, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	var connOpts []nats.Option
	if opts.clientID != "" {
		connOpts = append(connOpts, nats.Name(opts.clientID))
	}
	nc, err := nats.Connect(url, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("deliverymux/nats: connect to %q: %w", url, err)
	}

	limit := opts.limit
	if limit <= 0 {
		limit = events.DefaultLimit
	}
	js, err := jetstream.New(nc, jetstream.WithPublishAsyncMaxPending(limit))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("deliverymux/nats: init jetstream: %w", err)
	}

	e := newEngine(js, logger, opts)
	e.conn = nc
	return e, nil
}

// NewFromPublisher wraps an existing JetStream publisher. The engine does not
// close its connection.
func NewFromPublisher(js Publisher, logger *zap.Logger, fns ...Option) *Engine {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return newEngine(js, logger, opts)
}

func newEngine(js Publisher, logger *zap.Logger, opts options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		js:     js,
		queue:  events.NewQueue(opts.limit),
		opts:   opts,
		logger: logger.With(zap.String("engine", "nats")),
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
	if req.Partition > 0 {
		return core.ErrUnknownPartition
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
	msg := nats.NewMsg(req.Topic)
	msg.Data = value
	if key != nil {
		msg.Header.Set(HeaderKey, base64.StdEncoding.EncodeToString(key))
	}
	if req.Timestamp != 0 {
		msg.Header.Set(HeaderTimestamp, strconv.FormatInt(req.Timestamp, 10))
	}

	var pubOpts []jetstream.PublishOpt
	if e.opts.dedupe {
		pubOpts = append(pubOpts, jetstream.WithMsgID(uuid.NewString()))
	}
	if e.opts.stream != "" {
		pubOpts = append(pubOpts, jetstream.WithExpectStream(e.opts.stream))
	}

	fut, err := e.js.PublishMsgAsync(msg, pubOpts...)
	if err != nil {
		e.queue.Cancel()
		e.logger.Debug("publish rejected", zap.String("subject", req.Topic), zap.Error(err))
		return mapError(err)
	}

	e.wg.Add(1)
	go e.await(fut, req.Topic, req.Opaque)
	return core.ErrNoError
}

// await queues the completion of one publish once the stream has answered.
func (e *Engine) await(fut jetstream.PubAckFuture, topic string, opaque core.Handle) {
	defer e.wg.Done()

	timer := time.NewTimer(e.opts.ackTimeout)
	defer timer.Stop()

	c := core.Completion{Topic: topic, Opaque: opaque}
	select {
	case ack := <-fut.Ok():
		c.Offset = int64(ack.Sequence)
	case err := <-fut.Err():
		e.logger.Debug("publish failed", zap.String("subject", topic), zap.Error(err))
		c.Err = mapError(err)
		c.Offset = core.OffsetInvalid
	case <-timer.C:
		c.Err = core.ErrMsgTimedOut
		c.Offset = core.OffsetInvalid
	}
	e.queue.Push(c)
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

// Close waits for every outstanding publish to be acknowledged, fail or time
// out, then closes the connection if the engine owns it.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.queue.Close()
	if e.conn != nil {
		e.conn.Close()
	}
	return nil
}

func (e *Engine) dispatch(c *core.Completion) {
	e.cb(e, c, e.opaque)
}

// mapError converts a NATS error to a response code.
func mapError(err error) core.RespErr {
	switch {
	case err == nil:
		return core.ErrNoError
	case errors.Is(err, jetstream.ErrTooManyStalledMsgs):
		return core.ErrQueueFull
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return core.ErrDestroy
	case errors.Is(err, nats.ErrNoResponders):
		return core.ErrUnknownTopic
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, jetstream.ErrNoStreamResponse):
		return core.ErrMsgTimedOut
	case errors.Is(err, nats.ErrMaxPayload):
		return core.ErrMsgSizeTooLarge
	case errors.Is(err, nats.ErrNoServers), errors.Is(err, nats.ErrDisconnected):
		return core.ErrTransport
	}
	return core.ErrFail
}

var _ core.Engine = (*Engine)(nil)
