// Package mock provides a deterministic in-memory core.Engine for tests.
package mock

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/internal/events"
)

// Option configures an Engine.
type Option func(*Engine)

// WithPartitions sets the partition count of every topic. Counts below one
// are raised to one.
func WithPartitions(n int32) Option {
	return func(e *Engine) { e.partitions = max(n, 1) }
}

// WithLimit bounds the number of messages in flight.
func WithLimit(n int) Option {
	return func(e *Engine) { e.limit = n }
}

// WithMessageMaxBytes bounds key plus value size.
func WithMessageMaxBytes(n int) Option {
	return func(e *Engine) { e.maxBytes = n }
}

// WithHold keeps completions back until Release is called.
func WithHold() Option {
	return func(e *Engine) { e.hold = true }
}

// WithFailure makes every message sent to topic fail asynchronously with code.
func WithFailure(topic string, code core.RespErr) Option {
	return func(e *Engine) { e.failures[topic] = code }
}

// WithOpenError makes Open fail with err.
func WithOpenError(err error) Option {
	return func(e *Engine) { e.openErr = err }
}

// Produced records a request the engine accepted.
type Produced struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp int64
	Opaque    core.Handle
}

// Engine is a test double for core.Engine. It completes messages in FIFO
// order, routes keyed messages by hash and unkeyed ones round robin.
type Engine struct {
	partitions int32
	limit      int
	maxBytes   int
	hold       bool
	failures   map[string]core.RespErr
	openErr    error

	queue  *events.Queue
	cb     core.DeliveryCallback
	opaque core.Handle

	mu       sync.Mutex
	next     int32
	offsets  map[string]map[int32]int64
	held     []core.Completion
	produced []Produced
	closed   bool
}

// NewEngine returns an Engine with three partitions per topic.
func NewEngine(fns ...Option) *Engine {
	e := &Engine{
		partitions: 3,
		failures:   make(map[string]core.RespErr),
		offsets:    make(map[string]map[int32]int64),
	}
	for _, fn := range fns {
		fn(e)
	}
	e.queue = events.NewQueue(e.limit)
	return e
}

// Open implements core.Opener by returning the engine itself.
func (e *Engine) Open(cb core.DeliveryCallback, opaque core.Handle) (core.Engine, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}
	e.cb = cb
	e.opaque = opaque
	return e, nil
}

func (e *Engine) Produce(req *core.ProduceRequest) core.RespErr {
	if code := events.CheckRequest(req, e.maxBytes); code.IsError() {
		return code
	}
	if req.Partition >= e.partitions {
		return core.ErrUnknownPartition
	}
	if code := e.queue.Reserve(); code.IsError() {
		return code
	}

	key, value := events.Own(req)

	e.mu.Lock()
	partition := req.Partition
	if partition == core.PartitionUnassigned {
		partition = e.choose(key)
	}
	offsets := e.offsets[req.Topic]
	if offsets == nil {
		offsets = make(map[int32]int64)
		e.offsets[req.Topic] = offsets
	}
	offset := offsets[partition]
	offsets[partition]++

	e.produced = append(e.produced, Produced{
		Topic:     req.Topic,
		Partition: partition,
		Offset:    offset,
		Key:       key,
		Value:     value,
		Timestamp: req.Timestamp,
		Opaque:    req.Opaque,
	})

	c := core.Completion{
		Topic:     req.Topic,
		Partition: partition,
		Offset:    offset,
		Opaque:    req.Opaque,
	}
	if code, ok := e.failures[req.Topic]; ok {
		c.Err = code
		c.Offset = core.OffsetInvalid
	}
	if e.hold {
		e.held = append(e.held, c)
		e.mu.Unlock()
		return core.ErrNoError
	}
	e.mu.Unlock()

	e.queue.Push(c)
	return core.ErrNoError
}

// choose must be called with e.mu held.
func (e *Engine) choose(key []byte) int32 {
	if key != nil {
		return int32(xxhash.Sum64(key) % uint64(e.partitions))
	}
	p := e.next
	e.next = (e.next + 1) % e.partitions
	return p
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

// Close fails every held message with core.ErrDestroy.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	held := e.held
	e.held = nil
	e.mu.Unlock()

	e.queue.Close()
	for _, c := range held {
		c.Err = core.ErrDestroy
		c.Offset = core.OffsetInvalid
		e.queue.Push(c)
	}
	return nil
}

func (e *Engine) dispatch(c *core.Completion) {
	e.cb(e, c, e.opaque)
}

// Release moves up to n held completions to the queue, oldest first, and
// returns how many were moved.
func (e *Engine) Release(n int) int {
	e.mu.Lock()
	if n > len(e.held) {
		n = len(e.held)
	}
	batch := e.held[:n]
	e.held = e.held[n:]
	e.mu.Unlock()

	for _, c := range batch {
		e.queue.Push(c)
	}
	return n
}

// Inject queues an arbitrary completion, as a misbehaving engine would.
func (e *Engine) Inject(c core.Completion) {
	if code := e.queue.Reserve(); code.IsError() {
		return
	}
	e.queue.Push(c)
}

// Produced returns every request accepted so far.
func (e *Engine) Produced() []Produced {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Produced, len(e.produced))
	copy(out, e.produced)
	return out
}

// IsClosed reports whether Close was called.
func (e *Engine) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
