package events

import (
	"bytes"
	"time"

	"github.com/miladsoleymani/deliverymux/core"
)

// DefaultMessageMaxBytes mirrors Kafka's default message.max.bytes.
const DefaultMessageMaxBytes = 1000000

// CheckRequest performs the synchronous checks every engine applies before
// accepting a request.
func CheckRequest(req *core.ProduceRequest, maxBytes int) core.RespErr {
	if req.Topic == "" {
		return core.ErrUnknownTopic
	}
	if req.Partition < core.PartitionUnassigned {
		return core.ErrInvalidArg
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMessageMaxBytes
	}
	if len(req.Key)+len(req.Value) > maxBytes {
		return core.ErrMsgSizeTooLarge
	}
	return core.ErrNoError
}

// Own returns the key and value of req, copied when the request carries
// core.MsgFlagCopy. Absent (nil) fields stay nil.
func Own(req *core.ProduceRequest) (key, value []byte) {
	if req.Flags&core.MsgFlagCopy == 0 {
		return req.Key, req.Value
	}
	return bytes.Clone(req.Key), bytes.Clone(req.Value)
}

// Timestamp converts the request timestamp, returning the zero time when the
// engine should stamp the message itself.
func Timestamp(req *core.ProduceRequest) time.Time {
	if req.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(req.Timestamp)
}
