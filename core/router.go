package core

import "sync"

// DeliveryRouter is a ProducerContext that dispatches each report to the
// context registered for the first pattern matching the report's topic.
//
//	r := core.NewDeliveryRouter[Order]()
//	r.Handle("orders.#", ordersCtx)
//	r.Handle("payments.*", paymentsCtx)
//	p, err := core.NewProducer[Order](cfg, r)
type DeliveryRouter[D any] struct {
	mu       sync.RWMutex
	routes   []route[D]
	matcher  TopicMatcher
	fallback ProducerContext[D]
}

type route[D any] struct {
	pattern string
	pc      ProducerContext[D]
}

// NewDeliveryRouter returns a router using DefaultMatcher. Reports matching
// no pattern are dropped until a fallback is set.
func NewDeliveryRouter[D any]() *DeliveryRouter[D] {
	return &DeliveryRouter[D]{matcher: DefaultMatcher{}}
}

// SetMatcher replaces the topic matcher.
func (r *DeliveryRouter[D]) SetMatcher(m TopicMatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matcher = m
}

// Handle registers pc for a topic pattern. Patterns are tried in
// registration order.
func (r *DeliveryRouter[D]) Handle(pattern string, pc ProducerContext[D]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route[D]{pattern: pattern, pc: pc})
}

// Fallback sets the context receiving reports that match no pattern.
func (r *DeliveryRouter[D]) Fallback(pc ProducerContext[D]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = pc
}

func (r *DeliveryRouter[D]) Delivery(report DeliveryReport, dc *D) {
	r.mu.RLock()
	target := r.fallback
	for _, rt := range r.routes {
		if r.matcher.Match(rt.pattern, report.Topic()) {
			target = rt.pc
			break
		}
	}
	r.mu.RUnlock()

	if target != nil {
		target.Delivery(report, dc)
	}
}
