package core

import "fmt"

const (
	// PartitionUnassigned lets the engine choose the partition.
	PartitionUnassigned int32 = -1

	// OffsetInvalid is returned by DeliveryReport.Result for failed messages.
	OffsetInvalid int64 = -1001
)

// DeliveryReport describes the outcome of one produced message. It is built
// exactly once per completion and never modified afterwards.
type DeliveryReport struct {
	err       RespErr
	topic     string
	partition int32
	offset    int64
}

func newDeliveryReport(err RespErr, topic string, partition int32, offset int64) DeliveryReport {
	return DeliveryReport{
		err:       err,
		topic:     topic,
		partition: partition,
		offset:    offset,
	}
}

// Success reports whether the message was produced.
func (r DeliveryReport) Success() bool { return !r.err.IsError() }

// Result returns the partition and offset of a produced message, or a
// *ProductionError carrying the engine's response code.
func (r DeliveryReport) Result() (int32, int64, error) {
	if r.err.IsError() {
		return PartitionUnassigned, OffsetInvalid, newProductionError(r.err)
	}
	return r.partition, r.offset, nil
}

// Err returns the raw response code. ErrNoError means success.
func (r DeliveryReport) Err() RespErr { return r.err }

func (r DeliveryReport) Topic() string { return r.topic }

func (r DeliveryReport) Partition() int32 { return r.partition }

func (r DeliveryReport) Offset() int64 { return r.offset }

func (r DeliveryReport) String() string {
	if r.Success() {
		return fmt.Sprintf("delivered %s [%d] @ %d", r.topic, r.partition, r.offset)
	}
	return fmt.Sprintf("failed %s [%d]: %s", r.topic, r.partition, r.err)
}
