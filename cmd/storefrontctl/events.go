package main

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func newEventsCmd(v *viper.Viper) *cobra.Command {
	events := &cobra.Command{
		Use:   "events",
		Short: "Order event stream tooling",
	}

	cfg := kafka.ReplayConfig{}
	replay := &cobra.Command{
		Use:   "replay-dlq",
		Short: "Re-publish order events that the outbox worker parked in the dead letter topic",
		Long: `Reads the DLQ topic partition by partition and republishes the original order events.
Without --execute the command only lists replay candidates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			brokers := splitBrokers(v.GetString("brokers"))
			if len(brokers) == 0 {
				return fmt.Errorf("kafka brokers are required: pass --brokers or set KAFKA_BROKERS")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			client, consumer, err := kafka.NewReplayClient(brokers)
			if err != nil {
				return err
			}
			defer func() {
				_ = consumer.Close()
				_ = client.Close()
			}()

			var publisher kafka.EventPublisher
			if cfg.Execute {
				producer, err := kafka.NewProducer(brokers)
				if err != nil {
					return err
				}
				defer producer.Close()
				publisher = producer
			}

			stats, err := kafka.ReplayDLQ(cmd.Context(), cfg, client, kafka.SaramaPartitionSource{Consumer: consumer}, publisher,
				log.WithField("component", "dlq-replay"))
			if err != nil {
				return err
			}
			mode := "dry-run"
			if cfg.Execute {
				mode = "execute"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: processed=%d replayed=%d skipped=%d\n", mode, stats.Processed, stats.Replayed, stats.Skipped)
			return nil
		},
	}
	replay.Flags().String("brokers", "", "Kafka brokers, comma-separated (fallback: KAFKA_BROKERS)")
	replay.Flags().StringVar(&cfg.SourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	replay.Flags().StringVar(&cfg.TargetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	replay.Flags().IntVar(&cfg.Limit, "limit", kafka.DefaultReplayLimit, "max number of messages to scan")
	replay.Flags().BoolVar(&cfg.Execute, "execute", false, "publish events; default is dry-run")
	replay.Flags().BoolVar(&cfg.FromNewest, "from-newest", false, "scan the latest messages first")
	replay.Flags().DurationVar(&cfg.IdleTimeout, "idle-timeout", kafka.DefaultReplayIdleTimeout, "idle timeout per partition")
	_ = v.BindPFlag("brokers", replay.Flags().Lookup("brokers"))

	events.AddCommand(replay)
	return events
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			brokers = append(brokers, part)
		}
	}
	return brokers
}
