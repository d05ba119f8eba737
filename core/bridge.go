package core

import "go.uber.org/zap"

// clients is the process-wide table the delivery callback resolves its
// opaque handle against. Each Client owns exactly one slot, from
// construction until its last producer handle is closed.
var clients = NewRegistry[any]()

// deliveryCallback is the DeliveryCallback every engine is opened with. It
// runs on whichever goroutine is polling the engine.
//
// The client is only borrowed from the table, so it survives any number of
// completions. The per-message delivery context is taken out of the client's
// registry, which releases it exactly once.
func deliveryCallback[D any](_ Engine, c *Completion, opaque Handle) {
	v, err := clients.Get(opaque)
	if err != nil {
		return
	}
	client, ok := v.(*Client[D])
	if !ok {
		return
	}

	var dc *D
	if c.Opaque != NoHandle {
		dc, err = client.inflight.Take(c.Opaque)
		if err != nil {
			client.logger.Error("dropping duplicate delivery event",
				zap.String("topic", c.Topic),
				zap.Int32("partition", c.Partition),
				zap.Uint64("handle", uint64(c.Opaque)),
				zap.Error(err),
			)
			return
		}
	}

	report := newDeliveryReport(c.Err, c.Topic, c.Partition, c.Offset)
	client.logger.Debug("delivery event received", zap.Stringer("report", report))
	client.context.Delivery(report, dc)
}
