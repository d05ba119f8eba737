package kafka

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/deliverymux/core"
)

// mapError converts a kafka-go error to a response code. Kafka protocol
// errors keep their wire code.
func mapError(err error) core.RespErr {
	if err == nil {
		return core.ErrNoError
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return core.RespErr(kerr)
	}
	var tooLarge kafka.MessageTooLargeError
	if errors.As(err, &tooLarge) {
		return core.ErrMsgSizeTooLarge
	}

	switch {
	case errors.Is(err, io.ErrClosedPipe):
		return core.ErrDestroy
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return core.ErrMsgTimedOut
	case errors.Is(err, context.Canceled):
		return core.ErrDestroy
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
