package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/deliverymux/core"
)

func TestWithPartitions_AtLeastOne(t *testing.T) {
	for _, n := range []int32{0, -4} {
		e := NewEngine(WithPartitions(n))
		_, err := e.Open(func(core.Engine, *core.Completion, core.Handle) {}, core.NoHandle)
		require.NoError(t, err)

		assert.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{Topic: "t", Partition: core.PartitionUnassigned}))
		assert.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{Topic: "t", Partition: core.PartitionUnassigned, Key: []byte("k")}))
		assert.Equal(t, core.ErrUnknownPartition, e.Produce(&core.ProduceRequest{Topic: "t", Partition: 1}))

		for _, p := range e.Produced() {
			assert.Equal(t, int32(0), p.Partition)
		}
		assert.Len(t, e.Produced(), 2)
	}
}
