package core

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Client is the state shared by a producer handle and all of its clones: the
// engine connection, the ProducerContext and the delivery contexts of
// messages in flight. The last handle to be closed releases it.
type Client[D any] struct {
	engine   Engine
	context  ProducerContext[D]
	inflight *Registry[*D]
	handle   Handle
	refs     atomic.Int64
	logger   *zap.Logger
}

func newClient[D any](opener Opener, pc ProducerContext[D], o options) (*Client[D], error) {
	c := &Client[D]{
		context:  pc,
		inflight: NewRegistry[*D](),
		logger:   o.logger,
	}
	c.handle = clients.Insert(c)

	engine, err := opener.Open(deliveryCallback[D], c.handle)
	if err != nil {
		_, _ = clients.Take(c.handle)
		return nil, fmt.Errorf("deliverymux: open engine: %w", err)
	}
	c.engine = engine
	c.refs.Store(1)
	return c, nil
}

func (c *Client[D]) acquire() {
	c.refs.Add(1)
}

// release drops one reference. The last one closes the engine, dispatches
// whatever the engine completed while shutting down and frees the client's
// slot in the callback table.
func (c *Client[D]) release() error {
	if c.refs.Add(-1) > 0 {
		return nil
	}

	closeErr := c.engine.Close()
	if n := c.engine.Poll(0); n > 0 {
		c.logger.Debug("dispatched delivery events on close", zap.Int("events", n))
	}
	if abandoned := c.inflight.Drain(); len(abandoned) > 0 {
		c.logger.Warn("producer closed with messages in flight",
			zap.Int("messages", len(abandoned)),
		)
	}
	_, _ = clients.Take(c.handle)

	if closeErr != nil {
		return fmt.Errorf("deliverymux: close engine: %w", closeErr)
	}
	return nil
}
