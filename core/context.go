package core

// ProducerContext receives the outcome of every message sent through a
// producer. D is the type of the per-message delivery context the
// application attaches in Send.
//
// Delivery runs synchronously on the goroutine that called Poll or Flush, so
// it must return promptly. Clones of a producer may poll from different
// goroutines at once, so implementations must be safe for concurrent use.
type ProducerContext[D any] interface {
	// Delivery is called once per accepted message. dc is the value passed to
	// Send, or nil if Send was called without a delivery context.
	Delivery(report DeliveryReport, dc *D)
}

// DeliveryFunc adapts a plain function to ProducerContext.
//
//	p, err := core.NewProducer(cfg, core.DeliveryFunc[Order](func(r core.DeliveryReport, o *Order) {
//	    if !r.Success() {
//	        log.Printf("order %s: %v", o.ID, r.Err())
//	    }
//	}))
type DeliveryFunc[D any] func(report DeliveryReport, dc *D)

func (f DeliveryFunc[D]) Delivery(report DeliveryReport, dc *D) { f(report, dc) }

// EmptyProducerContext ignores all delivery reports. Use it when completion
// handling is not needed.
type EmptyProducerContext struct{}

func (EmptyProducerContext) Delivery(DeliveryReport, *struct{}) {}

// MiddlewareFunc wraps a ProducerContext to add cross-cutting behavior.
//
//	func Counting[D any](n *atomic.Int64) core.MiddlewareFunc[D] {
//	    return func(next core.ProducerContext[D]) core.ProducerContext[D] {
//	        return core.DeliveryFunc[D](func(r core.DeliveryReport, dc *D) {
//	            n.Add(1)
//	            next.Delivery(r, dc)
//	        })
//	    }
//	}
type MiddlewareFunc[D any] func(ProducerContext[D]) ProducerContext[D]

// Chain wraps pc with middleware. Given [A, B, C] the call order is
// A -> B -> C -> pc.
func Chain[D any](pc ProducerContext[D], mws ...MiddlewareFunc[D]) ProducerContext[D] {
	for i := len(mws) - 1; i >= 0; i-- {
		pc = mws[i](pc)
	}
	return pc
}
