package core

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when operations are attempted on a closed producer handle.
	ErrClosed = errors.New("deliverymux: producer is closed")

	// ErrInvalidTopic is returned when a topic name cannot be passed to an engine,
	// i.e. it contains a NUL byte.
	ErrInvalidTopic = errors.New("deliverymux: topic name contains a NUL byte")

	// ErrNilContext is returned when a producer is created without a ProducerContext.
	ErrNilContext = errors.New("deliverymux: producer context is nil")

	// ErrNilOpener is returned when a producer is created without an engine opener.
	ErrNilOpener = errors.New("deliverymux: engine opener is nil")

	// ErrStaleHandle is returned by a Registry for a handle that was never issued
	// or whose value has already been removed.
	ErrStaleHandle = errors.New("deliverymux: stale or unknown handle")
)

// RespErr is a response code reported by an engine. Negative values are raised
// by the client itself, non-negative values are broker protocol codes.
type RespErr int32

const (
	ErrBadMsg           RespErr = -199
	ErrDestroy          RespErr = -197
	ErrFail             RespErr = -196
	ErrTransport        RespErr = -195
	ErrMsgTimedOut      RespErr = -192
	ErrUnknownPartition RespErr = -190
	ErrUnknownTopic     RespErr = -188
	ErrAllBrokersDown   RespErr = -187
	ErrInvalidArg       RespErr = -186
	ErrTimedOut         RespErr = -185
	ErrQueueFull        RespErr = -184

	ErrUnknown                  RespErr = -1
	ErrNoError                  RespErr = 0
	ErrInvalidMsg               RespErr = 2
	ErrUnknownTopicOrPart       RespErr = 3
	ErrLeaderNotAvailable       RespErr = 5
	ErrNotLeaderForPartition    RespErr = 6
	ErrRequestTimedOut          RespErr = 7
	ErrBrokerNotAvailable       RespErr = 8
	ErrMsgSizeTooLarge          RespErr = 10
	ErrNotEnoughReplicas        RespErr = 19
	ErrTopicAuthorizationFailed RespErr = 29
)

var respErrNames = map[RespErr]string{
	ErrBadMsg:                   "Local: Bad message format",
	ErrDestroy:                  "Local: Broker handle destroyed",
	ErrFail:                     "Local: Communication failure with broker",
	ErrTransport:                "Local: Broker transport failure",
	ErrMsgTimedOut:              "Local: Message timed out",
	ErrUnknownPartition:         "Local: Unknown partition",
	ErrUnknownTopic:             "Local: Unknown topic",
	ErrAllBrokersDown:           "Local: All broker connections are down",
	ErrInvalidArg:               "Local: Invalid argument or configuration",
	ErrTimedOut:                 "Local: Timed out",
	ErrQueueFull:                "Local: Queue full",
	ErrUnknown:                  "Broker: Unknown error",
	ErrNoError:                  "Success",
	ErrInvalidMsg:               "Broker: Invalid message",
	ErrUnknownTopicOrPart:       "Broker: Unknown topic or partition",
	ErrLeaderNotAvailable:       "Broker: Leader not available",
	ErrNotLeaderForPartition:    "Broker: Not leader for partition",
	ErrRequestTimedOut:          "Broker: Request timed out",
	ErrBrokerNotAvailable:       "Broker: Broker not available",
	ErrMsgSizeTooLarge:          "Broker: Message size too large",
	ErrNotEnoughReplicas:        "Broker: Not enough in-sync replicas",
	ErrTopicAuthorizationFailed: "Broker: Topic authorization failed",
}

// IsError reports whether the code denotes a failure.
func (e RespErr) IsError() bool { return e != ErrNoError }

func (e RespErr) String() string {
	if name, ok := respErrNames[e]; ok {
		return name
	}
	return fmt.Sprintf("RespErr(%d)", int32(e))
}

func (e RespErr) Error() string { return e.String() }

// ProductionError reports a message that could not be produced, either
// synchronously from Send or asynchronously inside a DeliveryReport.
// Code is the engine's original response code.
type ProductionError struct {
	Code RespErr
}

func (e *ProductionError) Error() string {
	return fmt.Sprintf("deliverymux: message production error: %s (%d)", e.Code, int32(e.Code))
}

// Unwrap exposes the response code, so errors.Is(err, ErrQueueFull) works.
func (e *ProductionError) Unwrap() error { return e.Code }

func newProductionError(code RespErr) error {
	return &ProductionError{Code: code}
}
