package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEngines(t *testing.T) {
	out, err := execute(t, "", "engines")
	require.NoError(t, err)

	for _, name := range []string{"kafka", "mock", "nats", "pulsar", "rabbitmq", "sarama"} {
		assert.Contains(t, out, name+"\n")
	}
}

func TestProduce(t *testing.T) {
	out, err := execute(t, "user-1:created\nuser-2:created\nplain\n",
		"produce", "-e", "mock", "-t", "orders", "-k", ":")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for i, want := range []string{"1\tdelivered orders", "2\tdelivered orders", "3\tdelivered orders"} {
		assert.True(t, strings.HasPrefix(lines[i], want), lines[i])
	}
}

func TestProduce_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deliverymux.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: mock\ntopic: payments\noptions:\n  partitions: \"2\"\n"), 0o600))

	out, err := execute(t, "a\nb\n", "produce", "-c", path, "-p", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1\tdelivered payments [1] @ 0")
	assert.Contains(t, out, "2\tdelivered payments [1] @ 1")
}

func TestProduce_RejectedPartition(t *testing.T) {
	_, err := execute(t, "a\n", "produce", "-e", "mock", "-t", "orders", "-p", "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestProduce_Errors(t *testing.T) {
	_, err := execute(t, "", "produce", "-e", "mock")
	assert.EqualError(t, err, "a topic is required")

	_, err = execute(t, "", "produce", "-t", "orders")
	assert.Error(t, err)

	_, err = execute(t, "", "produce", "-e", "nope", "-t", "orders")
	assert.ErrorContains(t, err, "unknown engine")
}
