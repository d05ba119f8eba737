// Package deliverymux provides the top-level API for DeliveryMux. It
// re-exports the core types for convenience, so users can write:
//
//	p, err := deliverymux.NewProducer[Order](cfg, deliverymux.DeliveryFunc(onDelivery))
//	p.Send(deliverymux.Record{Topic: "orders", Payload: body}, &order)
//	p.Poll(100 * time.Millisecond)
package deliverymux

import (
	"github.com/miladsoleymani/deliverymux/core"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Record          = core.Record
	DeliveryReport  = core.DeliveryReport
	RespErr         = core.RespErr
	ProductionError = core.ProductionError
	Engine          = core.Engine
	Opener          = core.Opener
	Option          = core.Option
)

// NewProducer opens an engine that reports completions to pc.
func NewProducer[D any](opener Opener, pc core.ProducerContext[D], opts ...Option) (*core.Producer[D], error) {
	return core.NewProducer[D](opener, pc, opts...)
}

// NewBaseProducer opens a producer that ignores delivery reports.
func NewBaseProducer(opener Opener, opts ...Option) (*core.Producer[struct{}], error) {
	return core.NewBaseProducer(opener, opts...)
}

// DeliveryFunc adapts a plain function to a producer context.
func DeliveryFunc[D any](fn func(report DeliveryReport, dc *D)) core.ProducerContext[D] {
	return core.DeliveryFunc[D](fn)
}
