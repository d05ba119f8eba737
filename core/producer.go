package core

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Record is a message to be sent. Key and Payload are copied by the engine,
// so the caller may reuse them as soon as Send returns.
type Record struct {
	Topic string

	// Partition selects the target partition. nil lets the engine choose:
	// by key hash when Key is set, otherwise at random.
	Partition *int32

	Key     []byte // nil means no key
	Payload []byte // nil means no payload

	// Timestamp is stamped by the engine when zero.
	Timestamp time.Time
}

// Partition returns a pointer to n for use in Record.Partition.
func Partition(n int32) *int32 { return &n }

// Producer sends messages through an engine and reports their outcome to a
// ProducerContext. Delivery reports are only dispatched while Poll or Flush
// is running, so a producer must be polled regularly.
//
// A Producer may be cloned cheaply. All clones share one engine and one
// ProducerContext, and any clone's Poll may dispatch any pending report.
//
//	p, err := core.NewProducer(cfg, core.DeliveryFunc[Order](onDelivery))
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	if err := p.Send(core.Record{Topic: "orders", Payload: body}, &order); err != nil {
//	    return err
//	}
//	p.Poll(100 * time.Millisecond)
type Producer[D any] struct {
	client *Client[D]
	closed atomic.Bool
}

// NewProducer opens an engine that reports completions to pc.
func NewProducer[D any](opener Opener, pc ProducerContext[D], fns ...Option) (*Producer[D], error) {
	if opener == nil {
		return nil, ErrNilOpener
	}
	if pc == nil {
		return nil, ErrNilContext
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	client, err := newClient(opener, pc, opts)
	if err != nil {
		return nil, err
	}
	return &Producer[D]{client: client}, nil
}

// NewBaseProducer opens a producer that ignores delivery reports.
func NewBaseProducer(opener Opener, fns ...Option) (*Producer[struct{}], error) {
	return NewProducer[struct{}](opener, EmptyProducerContext{}, fns...)
}

// Send hands a copy of rec to the engine. dc, if not nil, is returned to the
// ProducerContext with the message's delivery report.
//
// A nil error only means the engine accepted the message; its final outcome
// arrives later through Poll. A *ProductionError means the engine rejected
// it outright: no report will follow and dc remains the caller's.
func (p *Producer[D]) Send(rec Record, dc *D) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if strings.IndexByte(rec.Topic, 0) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, rec.Topic)
	}

	partition := PartitionUnassigned
	if rec.Partition != nil {
		partition = *rec.Partition
	}
	var ts int64
	if !rec.Timestamp.IsZero() {
		ts = rec.Timestamp.UnixMilli()
	}

	h := p.client.inflight.Insert(dc)
	req := &ProduceRequest{
		Topic:     rec.Topic,
		Partition: partition,
		Flags:     MsgFlagCopy,
		Value:     rec.Payload,
		Key:       rec.Key,
		Opaque:    h,
		Timestamp: ts,
	}
	if code := p.client.engine.Produce(req); code.IsError() {
		// The engine never took the handle, so nothing else can release it.
		_, _ = p.client.inflight.Take(h)
		return newProductionError(code)
	}
	return nil
}

// Poll dispatches pending delivery reports to the ProducerContext, waiting up
// to timeout for the first one. A negative timeout waits indefinitely. It
// returns the number of reports dispatched.
func (p *Producer[D]) Poll(timeout time.Duration) int {
	if p.closed.Load() {
		return 0
	}
	return p.client.engine.Poll(timeout)
}

// Flush polls until every message accepted so far has been reported, or the
// timeout elapses. It should be called before Close.
func (p *Producer[D]) Flush(timeout time.Duration) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if code := p.client.engine.Flush(timeout); code.IsError() {
		return newProductionError(code)
	}
	return nil
}

// Len returns the number of accepted messages whose report has not been
// dispatched yet.
func (p *Producer[D]) Len() int {
	if p.closed.Load() {
		return 0
	}
	return p.client.engine.Len()
}

// Clone returns a new handle to the same engine and ProducerContext. Each
// handle must be closed independently.
func (p *Producer[D]) Clone() *Producer[D] {
	c := &Producer[D]{client: p.client}
	if p.closed.Load() {
		c.closed.Store(true)
		return c
	}
	p.client.acquire()
	return c
}

// Close releases this handle. Closing the last handle closes the engine;
// call Flush first so that no message is left without a report.
func (p *Producer[D]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.client.release()
}

// Run polls the producer until ctx is cancelled. Each Poll waits up to
// timeout; a non-positive timeout defaults to 100ms.
func (p *Producer[D]) Run(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if p.closed.Load() {
			return ErrClosed
		}
		p.client.engine.Poll(timeout)
	}
}
