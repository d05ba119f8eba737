package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/core/middleware"
)

type produceFlags struct {
	topic        string
	partition    int32
	keySeparator string
	flushTimeout time.Duration
}

// line is the delivery context attached to every message: its position in
// the input.
type line struct {
	number int
}

func newProduceCmd(g *globalFlags) *cobra.Command {
	f := &produceFlags{}
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Send every line of stdin as a message",
		Long: `Send every line of stdin as a message and print one delivery report per line.

With --key-separator set, the text before the first separator is used as the
message key. The command exits non-zero if any message failed.

Examples:
  # One message per line, partitioned by the engine
  seq 10 | deliverymux produce -c kafka.yaml -t orders

  # Keyed messages
  printf 'user-1:created\nuser-2:created\n' | deliverymux produce -e mock -t orders -k :`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProduce(cmd, g, f)
		},
	}
	cmd.Flags().StringVarP(&f.topic, "topic", "t", "", "topic to produce to, overrides the config file")
	cmd.Flags().Int32VarP(&f.partition, "partition", "p", core.PartitionUnassigned, "partition, -1 lets the engine choose")
	cmd.Flags().StringVarP(&f.keySeparator, "key-separator", "k", "", "split each line into key and payload")
	cmd.Flags().DurationVar(&f.flushTimeout, "flush-timeout", 30*time.Second, "how long to wait for outstanding reports on exit")
	return cmd
}

func runProduce(cmd *cobra.Command, g *globalFlags, f *produceFlags) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if f.topic != "" {
		cfg.Topic = f.topic
	}
	if cfg.Topic == "" {
		return errors.New("a topic is required")
	}

	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	cfg.Logger = logger

	var failed atomic.Int64
	out := cmd.OutOrStdout()
	report := core.DeliveryFunc[line](func(r core.DeliveryReport, l *line) {
		if !r.Success() {
			failed.Add(1)
		}
		fmt.Fprintf(out, "%d\t%s\n", l.number, r)
	})
	pc := core.Chain[line](report,
		middleware.Recovery[line](logger),
		middleware.Logging[line](logger),
	)

	p, err := core.NewProducer[line](cfg, pc, core.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	poller := p.Clone()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = poller.Run(ctx, 100*time.Millisecond)
	}()

	sent, err := produceLines(ctx, p, cmd.InOrStdin(), cfg.Topic, f)
	logger.Debug("input consumed", zap.Int("sent", sent))
	stop()
	<-done
	_ = poller.Close()

	if ferr := p.Flush(f.flushTimeout); ferr != nil {
		logger.Warn("flush timed out", zap.Int("outstanding", p.Len()))
		err = multierr.Append(err, ferr)
	}
	if n := failed.Load(); n > 0 {
		err = multierr.Append(err, fmt.Errorf("%d of %d messages failed", n, sent))
	}
	return err
}

// produceLines sends every line of r and returns how many were accepted.
// A full queue is retried after the poller has made room.
func produceLines(ctx context.Context, p *core.Producer[line], r io.Reader, topic string, f *produceFlags) (int, error) {
	var partition *int32
	if f.partition != core.PartitionUnassigned {
		partition = core.Partition(f.partition)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sent := 0
	for n := 1; scanner.Scan(); n++ {
		rec := core.Record{Topic: topic, Partition: partition, Payload: []byte(scanner.Text())}
		if f.keySeparator != "" {
			if key, payload, ok := strings.Cut(scanner.Text(), f.keySeparator); ok {
				rec.Key, rec.Payload = []byte(key), []byte(payload)
			}
		}

		for {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			err := p.Send(rec, &line{number: n})
			if errors.Is(err, core.ErrQueueFull) {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			if err != nil {
				return sent, fmt.Errorf("line %d: %w", n, err)
			}
			sent++
			break
		}
	}
	return sent, scanner.Err()
}
