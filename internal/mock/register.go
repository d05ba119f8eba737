package mock

import (
	"fmt"

	"github.com/miladsoleymani/deliverymux/broker"
	"github.com/miladsoleymani/deliverymux/core"
)

// Importing this package registers a "mock" engine, which the CLI offers for
// dry runs. Options: "partitions" (default 3).
func init() {
	broker.Register("mock", func(cfg broker.Config, cb core.DeliveryCallback, opaque core.Handle) (core.Engine, error) {
		partitions, err := cfg.Int("partitions", 3)
		if err != nil {
			return nil, err
		}
		if partitions < 1 {
			return nil, fmt.Errorf("deliverymux/mock: option \"partitions\" must be at least 1, got %d", partitions)
		}
		e := NewEngine(
			WithPartitions(int32(partitions)),
			WithLimit(cfg.QueueLimit),
			WithMessageMaxBytes(cfg.MessageMaxBytes),
		)
		return e.Open(cb, opaque)
	})
}
