package sarama

import (
	"github.com/IBM/sarama"

	"github.com/miladsoleymani/deliverymux/core"
)

// hintPartitioner places messages on the partition chosen at Send and leaves
// the rest to fallback.
type hintPartitioner struct {
	fallback sarama.Partitioner
}

func (p hintPartitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if env, ok := msg.Metadata.(*envelope); ok && env.partition != core.PartitionUnassigned {
		if env.partition >= numPartitions {
			return -1, sarama.ErrInvalidPartition
		}
		return env.partition, nil
	}
	return p.fallback.Partition(msg, numPartitions)
}

// RequiresConsistency is true so that sarama passes the full partition list;
// a hinted partition is an index into that list.
func (p hintPartitioner) RequiresConsistency() bool {
	return true
}

func (p hintPartitioner) MessageRequiresConsistency(msg *sarama.ProducerMessage) bool {
	if env, ok := msg.Metadata.(*envelope); ok && env.partition != core.PartitionUnassigned {
		return true
	}
	if dc, ok := p.fallback.(sarama.DynamicConsistencyPartitioner); ok {
		return dc.MessageRequiresConsistency(msg)
	}
	return p.fallback.RequiresConsistency()
}

var _ sarama.DynamicConsistencyPartitioner = hintPartitioner{}
