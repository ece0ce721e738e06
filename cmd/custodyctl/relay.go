package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pharmatrace/internal/events"
)

var (
	relayOnce     bool
	relayInterval time.Duration
	relayBatch    int
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward outbox events to Kafka",
	Long:  `Drains unpublished outbox rows to the configured Kafka topic. Requires both PHARMATRACE_POSTGRES_DSN and PHARMATRACE_KAFKA_BROKERS.`,
	Args:  cobra.NoArgs,
	RunE:  runRelay,
}

func init() {
	relayCmd.Flags().BoolVar(&relayOnce, "once", false, "drain the outbox once and exit")
	relayCmd.Flags().DurationVar(&relayInterval, "interval", 2*time.Second, "poll interval")
	relayCmd.Flags().IntVar(&relayBatch, "batch", 100, "rows per batch")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Outbox == nil || a.Kafka == nil {
		return fmt.Errorf("relay needs both postgres and kafka configured")
	}

	relay := events.NewRelay(a.Outbox,
		events.NewKafkaPublisher(a.Kafka, a.Config.Kafka.Topic),
		events.WithInterval(relayInterval),
		events.WithBatchSize(relayBatch),
		events.WithRelayLogger(a.Logger),
	)
	if !relayOnce {
		return relay.Run(ctx)
	}

	total := 0
	for {
		n, err := relay.DrainOnce(ctx)
		if err != nil {
			return err
		}
		total += n
		if n < relayBatch {
			break
		}
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %d events\n", total)
	return err
}
