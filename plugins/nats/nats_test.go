package nats

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/deliverymux/broker"
	"github.com/miladsoleymani/deliverymux/core"
)

type future struct {
	ok  chan *jetstream.PubAck
	err chan error
	msg *nats.Msg
}

func (f *future) Ok() <-chan *jetstream.PubAck { return f.ok }
func (f *future) Err() <-chan error            { return f.err }
func (f *future) Msg() *nats.Msg               { return f.msg }

type publisher struct {
	mu      sync.Mutex
	futures []*future
	reject  error
}

func (p *publisher) PublishMsgAsync(msg *nats.Msg, _ ...jetstream.PublishOpt) (jetstream.PubAckFuture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject != nil {
		return nil, p.reject
	}
	f := &future{ok: make(chan *jetstream.PubAck, 1), err: make(chan error, 1), msg: msg}
	p.futures = append(p.futures, f)
	return f, nil
}

func (p *publisher) future(i int) *future {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.futures[i]
}

func newTestEngine(t *testing.T, fns ...Option) (*Engine, *publisher, *[]core.Completion) {
	t.Helper()
	pub := &publisher{}
	e := NewFromPublisher(pub, nil, fns...)
	var got []core.Completion
	e.Bind(func(_ core.Engine, c *core.Completion, _ core.Handle) {
		got = append(got, *c)
	}, core.NoHandle)
	return e, pub, &got
}

func TestEngine_AckBecomesOffset(t *testing.T) {
	e, pub, got := newTestEngine(t)

	require.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{
		Topic:     "orders.created",
		Partition: core.PartitionUnassigned,
		Flags:     core.MsgFlagCopy,
		Key:       []byte{0x00, 0xff},
		Value:     []byte("payload"),
		Timestamp: 1700000000000,
		Opaque:    3,
	}))
	assert.Equal(t, 1, e.Len())

	f := pub.future(0)
	assert.Equal(t, "orders.created", f.msg.Subject)
	assert.Equal(t, []byte("payload"), f.msg.Data)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x00, 0xff}), f.msg.Header.Get(HeaderKey))
	assert.Equal(t, "1700000000000", f.msg.Header.Get(HeaderTimestamp))

	f.ok <- &jetstream.PubAck{Stream: "ORDERS", Sequence: 42}
	require.Equal(t, core.ErrNoError, e.Flush(time.Second))

	require.Len(t, *got, 1)
	assert.Equal(t, core.Completion{Topic: "orders.created", Offset: 42, Opaque: 3}, (*got)[0])
	require.NoError(t, e.Close())
}

func TestEngine_PublishFailure(t *testing.T) {
	e, pub, got := newTestEngine(t)

	require.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: 0, Opaque: 9}))
	pub.future(0).err <- nats.ErrNoResponders
	require.Equal(t, core.ErrNoError, e.Flush(time.Second))

	require.Len(t, *got, 1)
	assert.Equal(t, core.ErrUnknownTopic, (*got)[0].Err)
	assert.Equal(t, core.OffsetInvalid, (*got)[0].Offset)
	assert.Equal(t, core.Handle(9), (*got)[0].Opaque)
	require.NoError(t, e.Close())
}

func TestEngine_AckTimeout(t *testing.T) {
	e, _, got := newTestEngine(t, WithAckTimeout(10*time.Millisecond))

	require.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: core.PartitionUnassigned}))
	require.Equal(t, core.ErrNoError, e.Flush(time.Second))
	require.Len(t, *got, 1)
	assert.Equal(t, core.ErrMsgTimedOut, (*got)[0].Err)
	require.NoError(t, e.Close())
}

func TestEngine_SynchronousRejection(t *testing.T) {
	e, pub, got := newTestEngine(t)

	assert.Equal(t, core.ErrUnknownPartition, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: 1}))
	assert.Equal(t, core.ErrUnknownTopic, e.Produce(&core.ProduceRequest{Partition: core.PartitionUnassigned}))

	pub.reject = jetstream.ErrTooManyStalledMsgs
	assert.Equal(t, core.ErrQueueFull, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: core.PartitionUnassigned}))
	assert.Equal(t, 0, e.Len())

	require.NoError(t, e.Close())
	assert.Equal(t, core.ErrDestroy, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: core.PartitionUnassigned}))
	assert.Empty(t, *got)
}

func TestEngine_CloseWaitsForOutstandingPublishes(t *testing.T) {
	e, pub, got := newTestEngine(t)

	require.Equal(t, core.ErrNoError, e.Produce(&core.ProduceRequest{Topic: "orders", Partition: core.PartitionUnassigned, Opaque: 1}))
	go func() {
		time.Sleep(20 * time.Millisecond)
		pub.future(0).ok <- &jetstream.PubAck{Sequence: 7}
	}()

	require.NoError(t, e.Close())
	assert.Equal(t, 1, e.Poll(0))
	require.Len(t, *got, 1)
	assert.Equal(t, int64(7), (*got)[0].Offset)
}

func TestMapError(t *testing.T) {
	assert.Equal(t, core.ErrNoError, mapError(nil))
	assert.Equal(t, core.ErrQueueFull, mapError(jetstream.ErrTooManyStalledMsgs))
	assert.Equal(t, core.ErrDestroy, mapError(nats.ErrConnectionClosed))
	assert.Equal(t, core.ErrMsgTimedOut, mapError(nats.ErrTimeout))
	assert.Equal(t, core.ErrMsgSizeTooLarge, mapError(nats.ErrMaxPayload))
	assert.Equal(t, core.ErrTransport, mapError(nats.ErrNoServers))
	assert.Equal(t, core.ErrFail, mapError(assert.AnError))
}

func TestOptsFromConfig(t *testing.T) {
	fns, err := optsFromConfig(broker.Config{
		ClientID: "svc",
		Options:  map[string]string{"ack_timeout": "2s", "dedupe": "true", "stream": "ORDERS"},
	})
	require.NoError(t, err)

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	assert.Equal(t, "svc", opts.clientID)
	assert.Equal(t, 2*time.Second, opts.ackTimeout)
	assert.True(t, opts.dedupe)
	assert.Equal(t, "ORDERS", opts.stream)

	_, err = optsFromConfig(broker.Config{Options: map[string]string{"dedupe": "maybe"}})
	assert.Error(t, err)
}
