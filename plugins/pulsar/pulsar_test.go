package pulsar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/deliverymux/broker"
	"github.com/miladsoleymani/deliverymux/core"
)

type sent struct {
	msg *pulsar.ProducerMessage
	cb  func(pulsar.MessageID, *pulsar.ProducerMessage, error)
}

// sender records sends and completes them on demand. With fail set it
// rejects inside SendAsync, as a full queue does.
type sender struct {
	mu     sync.Mutex
	sends  []sent
	fail   error
	closed bool
}

func (s *sender) SendAsync(_ context.Context, msg *pulsar.ProducerMessage, cb func(pulsar.MessageID, *pulsar.ProducerMessage, error)) {
	s.mu.Lock()
	fail := s.fail
	if fail == nil {
		s.sends = append(s.sends, sent{msg: msg, cb: cb})
	}
	s.mu.Unlock()
	if fail != nil {
		cb(nil, msg, fail)
	}
}

func (s *sender) Flush() error { return nil }

func (s *sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *sender) get(i int) sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[i]
}

type client struct {
	mu         sync.Mutex
	producers  map[string]*sender
	options    []pulsar.ProducerOptions
	partitions int
}

func (c *client) CreateProducer(opts pulsar.ProducerOptions) (Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &sender{}
	c.producers[opts.Topic] = s
	c.options = append(c.options, opts)
	return s, nil
}

func (c *client) TopicPartitions(topic string) ([]string, error) {
	names := make([]string, c.partitions)
	for i := range names {
		names[i] = topic
	}
	return names, nil
}

func (c *client) Close() {}

func (c *client) producer(topic string) *sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producers[topic]
}

type metadata uint32

func (m metadata) NumPartitions() uint32 { return uint32(m) }

func newTestEngine(t *testing.T, fns ...Option) (*Engine, *client, *[]core.Completion) {
	t.Helper()
	c := &client{producers: make(map[string]*sender), partitions: 4}
	e := NewFromClient(c, nil, fns...)
	var got []core.Completion
	e.Bind(func(_ core.Engine, comp *core.Completion, _ core.Handle) {
		got = append(got, *comp)
	}, core.NoHandle)
	return e, c, &got
}

func TestEngine_SendAndComplete(t *testing.T) {
	e, c, got := newTestEngine(t, WithName("svc"))

	require.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{
		Topic:     "persistent://public/default/orders",
		Partition: core.PartitionUnassigned,
		Flags:     core.MsgFlagCopy,
		Key:       []byte("customer-42"),
		Value:     []byte("payload"),
		Timestamp: 1700000000000,
		Opaque:    6,
	}))
	assert.Equal(t, 1, e.Len())

	s := c.producer("persistent://public/default/orders")
	require.NotNil(t, s)
	first := s.get(0)
	assert.Equal(t, []byte("payload"), first.msg.Payload)
	assert.Equal(t, "customer-42", first.msg.Key)
	assert.Equal(t, int64(1700000000000), first.msg.EventTime.UnixMilli())
	assert.Equal(t, "svc-persistent://public/default/orders", c.options[0].Name)
	assert.True(t, c.options[0].DisableBlockIfQueueFull)

	id := pulsar.EarliestMessageID()
	first.cb(id, first.msg, nil)
	require.Equal(t, core.ErrNoError, e.Flush(time.Second))

	require.Len(t, *got, 1)
	assert.Equal(t, core.ErrNoError, (*got)[0].Err)
	assert.Equal(t, id.EntryID(), (*got)[0].Offset)
	assert.Equal(t, int32(0), (*got)[0].Partition)
	assert.Equal(t, core.Handle(6), (*got)[0].Opaque)
	require.NoError(t, e.Close())
	assert.True(t, s.closed)
}

func TestEngine_AsynchronousFailure(t *testing.T) {
	e, c, got := newTestEngine(t)

	require.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: 2, Opaque: 1}))
	s := c.producer("orders").get(0)
	s.cb(nil, s.msg, errors.New("broker went away"))
	require.Equal(t, core.ErrNoError, e.Flush(time.Second))

	require.Len(t, *got, 1)
	assert.Equal(t, core.ErrFail, (*got)[0].Err)
	assert.Equal(t, int32(2), (*got)[0].Partition)
	assert.Equal(t, core.OffsetInvalid, (*got)[0].Offset)
	require.NoError(t, e.Close())
}

func TestEngine_FailureInsideSendIsSynchronous(t *testing.T) {
	e, c, got := newTestEngine(t)

	require.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: core.PartitionUnassigned}))
	c.producer("orders").fail = errors.New("queue full")

	assert.Equal(t, core.ErrFail, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: core.PartitionUnassigned}))
	assert.Equal(t, 1, e.Len())
	assert.Equal(t, 0, e.Poll(0))
	assert.Empty(t, *got)
}

func TestEngine_ExplicitPartitionValidated(t *testing.T) {
	e, _, _ := newTestEngine(t)
	defer e.Close()

	assert.Equal(t, core.ErrUnknownPartition, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: 4}))
	assert.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: 3}))
}

func TestEngine_Route(t *testing.T) {
	e, _, _ := newTestEngine(t)
	defer e.Close()

	hinted := &pulsar.ProducerMessage{Key: "k"}
	e.hints.Store(hinted, int32(3))
	assert.Equal(t, 3, e.route(hinted, metadata(4)))

	keyed := &pulsar.ProducerMessage{Key: "customer-42"}
	want := e.route(keyed, metadata(8))
	for i := 0; i < 5; i++ {
		assert.Equal(t, want, e.route(keyed, metadata(8)))
	}

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		seen[e.route(&pulsar.ProducerMessage{}, metadata(3))] = true
	}
	assert.Len(t, seen, 3)
}

func TestEngine_ProduceAfterClose(t *testing.T) {
	e, _, got := newTestEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, core.ErrDestroy, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: core.PartitionUnassigned}))
	assert.Empty(t, *got)
}

func TestOptsFromConfig(t *testing.T) {
	fns, err := optsFromConfig(broker.Config{
		ClientID: "svc",
		Options:  map[string]string{"compression": "zstd", "send_timeout": "5s", "disable_batching": "true"},
	})
	require.NoError(t, err)

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	assert.Equal(t, "svc", opts.name)
	assert.Equal(t, pulsar.ZSTD, opts.compression)
	assert.Equal(t, 5*time.Second, opts.sendTimeout)
	assert.True(t, opts.noBatching)

	_, err = optsFromConfig(broker.Config{Options: map[string]string{"compression": "brotli"}})
	assert.Error(t, err)
}
