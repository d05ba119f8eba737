package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/miladsoleymani/deliverymux/broker"

	// Engines register themselves from init.
	_ "github.com/miladsoleymani/deliverymux/internal/mock"
	_ "github.com/miladsoleymani/deliverymux/plugins/kafka"
	_ "github.com/miladsoleymani/deliverymux/plugins/nats"
	_ "github.com/miladsoleymani/deliverymux/plugins/pulsar"
	_ "github.com/miladsoleymani/deliverymux/plugins/rabbitmq"
	_ "github.com/miladsoleymani/deliverymux/plugins/sarama"
)

type globalFlags struct {
	config  string
	engine  string
	brokers []string
	verbose bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "deliverymux",
		Short:         "Produce messages and report their delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "", "YAML engine configuration file")
	root.PersistentFlags().StringVarP(&g.engine, "engine", "e", "", "engine name, overrides the config file")
	root.PersistentFlags().StringSliceVarP(&g.brokers, "brokers", "b", nil, "broker addresses, override the config file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log every delivery report")

	root.AddCommand(newProduceCmd(g), newEnginesCmd())
	return root
}

// loadConfig reads the configuration file, if any, and applies the flags.
func (g *globalFlags) loadConfig() (broker.Config, error) {
	var cfg broker.Config
	if g.config != "" {
		var err error
		if cfg, err = broker.LoadConfig(g.config); err != nil {
			return broker.Config{}, err
		}
	}
	if g.engine != "" {
		cfg.Engine = g.engine
	}
	if len(g.brokers) > 0 {
		cfg.Brokers = g.brokers
	}
	return cfg, cfg.Validate()
}

func (g *globalFlags) logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if g.verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func newEnginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the registered engines",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range broker.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
