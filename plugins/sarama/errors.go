package sarama

import (
	"context"
	"errors"
	"net"

	"github.com/IBM/sarama"

	"github.com/miladsoleymani/deliverymux/core"
)

// mapError converts a sarama error to a response code. Kafka protocol errors
// keep their wire code.
func mapError(err error) core.RespErr {
	if err == nil {
		return core.ErrNoError
	}

	var kerr sarama.KError
	if errors.As(err, &kerr) {
		return core.RespErr(kerr)
	}

	switch {
	case errors.Is(err, sarama.ErrShuttingDown), errors.Is(err, sarama.ErrClosedClient):
		return core.ErrDestroy
	case errors.Is(err, sarama.ErrOutOfBrokers):
		return core.ErrAllBrokersDown
	case errors.Is(err, sarama.ErrInvalidPartition):
		return core.ErrUnknownPartition
	case errors.Is(err, context.DeadlineExceeded):
		return core.ErrMsgTimedOut
	case errors.Is(err, sarama.ErrNotConnected):
		return core.ErrTransport
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return core.ErrMsgTimedOut
		}
		return core.ErrTransport
	}
	return core.ErrFail
}
