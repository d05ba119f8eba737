package broker_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/deliverymux/broker"
	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/internal/events"
	_ "github.com/miladsoleymani/deliverymux/internal/mock"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DELIVERYMUX_TEST_BROKER", "kafka-1:9092")

	path := filepath.Join(t.TempDir(), "producer.yaml")
	data := `
engine: kafka
brokers:
  - ${DELIVERYMUX_TEST_BROKER}
  - kafka-2:9092
client_id: billing
topic: invoices
queue_limit: 500
options:
  acks: all
  linger: 5ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := broker.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "kafka", cfg.Engine)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	assert.Equal(t, "billing", cfg.ClientID)
	assert.Equal(t, "invoices", cfg.Topic)
	assert.Equal(t, 500, cfg.QueueLimit)
	assert.Equal(t, "all", cfg.String("acks", "1"))

	linger, err := cfg.Duration("linger", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, linger)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := broker.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	var cfg broker.Config
	err = broker.ParseConfig([]byte("engine: kafka\ngroup: consumers\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group")
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, broker.Config{Engine: "mock"}.Validate())

	err := broker.Config{QueueLimit: -1, Brokers: []string{""}}.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "engine is required")
	assert.Contains(t, msg, "queue_limit")
	assert.Contains(t, msg, "brokers[0]")
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := broker.Config{Engine: "mock"}.WithDefaults()
	assert.True(t, strings.HasPrefix(cfg.ClientID, "deliverymux-"))
	assert.Equal(t, events.DefaultLimit, cfg.QueueLimit)
	assert.Equal(t, events.DefaultMessageMaxBytes, cfg.MessageMaxBytes)
	assert.NotNil(t, cfg.Logger)

	other := broker.Config{Engine: "mock"}.WithDefaults()
	assert.NotEqual(t, cfg.ClientID, other.ClientID)

	kept := broker.Config{ClientID: "fixed", QueueLimit: 3}.WithDefaults()
	assert.Equal(t, "fixed", kept.ClientID)
	assert.Equal(t, 3, kept.QueueLimit)
}

func TestConfig_TypedOptions(t *testing.T) {
	cfg := broker.Config{Options: map[string]string{
		"retries":    "4",
		"idempotent": "true",
		"bad":        "x",
	}}

	n, err := cfg.Int("retries", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = cfg.Int("absent", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	b, err := cfg.Bool("idempotent", false)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = cfg.Int("bad", 0)
	assert.Error(t, err)
	_, err = cfg.Bool("bad", false)
	assert.Error(t, err)
	_, err = cfg.Duration("bad", 0)
	assert.Error(t, err)
}

func TestConfig_OpensRegisteredEngine(t *testing.T) {
	var reports []core.DeliveryReport
	pc := core.DeliveryFunc[string](func(r core.DeliveryReport, _ *string) {
		reports = append(reports, r)
	})

	cfg := broker.Config{Engine: "mock", Options: map[string]string{"partitions": "1"}}
	p, err := core.NewProducer[string](cfg, pc)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Send(core.Record{Topic: "t"}, nil))
	require.NoError(t, p.Flush(time.Second))
	require.Len(t, reports, 1)
	assert.Equal(t, int32(0), reports[0].Partition())
}

func TestConfig_MockRejectsZeroPartitions(t *testing.T) {
	for _, n := range []string{"0", "-1"} {
		cfg := broker.Config{Engine: "mock", Options: map[string]string{"partitions": n}}
		_, err := core.NewBaseProducer(cfg)
		require.Error(t, err, n)
		assert.Contains(t, err.Error(), `"partitions" must be at least 1`)
	}
}

func TestConfig_OpenRejectsInvalidConfig(t *testing.T) {
	_, err := core.NewBaseProducer(broker.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine is required")

	_, err = core.NewBaseProducer(broker.Config{Engine: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engine")
}

func TestNames(t *testing.T) {
	assert.Contains(t, broker.Names(), "mock")
}
