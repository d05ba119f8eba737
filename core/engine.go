package core

import "time"

// MsgFlags tune how an engine treats a ProduceRequest.
type MsgFlags int

const (
	// MsgFlagCopy tells the engine to copy Key and Value before Produce
	// returns; the caller may reuse its buffers immediately afterwards.
	MsgFlagCopy MsgFlags = 1 << iota
)

// ProduceRequest is one message handed to an engine.
type ProduceRequest struct {
	Topic     string
	Partition int32 // PartitionUnassigned lets the engine choose
	Flags     MsgFlags
	Value     []byte // nil means absent
	Key       []byte // nil means absent
	Opaque    Handle // returned unaltered in the Completion
	Timestamp int64  // milliseconds since the epoch, 0 lets the engine decide
}

// Completion is the engine's record of a message whose fate is known.
type Completion struct {
	Topic     string
	Err       RespErr
	Partition int32
	Offset    int64
	Opaque    Handle
}

// DeliveryCallback is invoked by an engine for every Completion, from within
// Poll or Flush. opaque is the handle the engine was opened with.
type DeliveryCallback func(e Engine, c *Completion, opaque Handle)

// Engine is the contract between a producer and the client library that owns
// the broker connection. Engines drive their own I/O and queue completions
// internally until Poll or Flush dispatches them to the DeliveryCallback.
//
// An engine must report every accepted request at most once, and must not
// invoke the callback for a request it rejected synchronously.
type Engine interface {
	// Produce enqueues req for asynchronous transmission. A non-zero code
	// means the request was rejected and will never be reported.
	Produce(req *ProduceRequest) RespErr

	// Poll dispatches queued completions, waiting up to timeout for the first
	// one. A negative timeout waits indefinitely. It returns the number of
	// completions dispatched.
	Poll(timeout time.Duration) int

	// Flush polls until every accepted request has been reported or the
	// timeout elapses, in which case it returns ErrTimedOut.
	Flush(timeout time.Duration) RespErr

	// Len returns the number of accepted requests not yet dispatched.
	Len() int

	// Close stops the engine. Completions produced while shutting down stay
	// queued and can still be dispatched by Poll.
	Close() error
}

// Opener creates an Engine that routes completions through cb, passing
// opaque back on every call.
type Opener interface {
	Open(cb DeliveryCallback, opaque Handle) (Engine, error)
}

// OpenerFunc adapts a plain function to Opener.
type OpenerFunc func(cb DeliveryCallback, opaque Handle) (Engine, error)

func (f OpenerFunc) Open(cb DeliveryCallback, opaque Handle) (Engine, error) {
	return f(cb, opaque)
}
