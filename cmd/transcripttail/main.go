// Command transcripttail follows the transcript topics the relay publishes
// to and prints each event as it arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"transcription-relay/internal/config"
	"transcription-relay/internal/events"
	"transcription-relay/internal/observability/logging"
)

func main() {
	defaults := config.Defaults().Kafka
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", defaults.TopicPartial, "Partial transcript topic")
	topicFinal := flag.String("topic-final", defaults.TopicFinal, "Final transcript topic")
	partials := flag.Bool("partials", false, "Also print partial transcripts")
	since := flag.Duration("since", 0, "Replay events published within this window")
	client := flag.String("client", "", "Only show events for this client ID")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", Output: os.Stderr})

	topics := []string{*topicFinal}
	if *partials {
		topics = append(topics, *topicPartial)
	}
	consumer := events.NewConsumer(events.ConsumerConfig{
		Brokers: strings.Split(*brokers, ","),
		Topics:  topics,
		Since:   *since,
	})
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("brokers", *brokers).Strs("topics", topics).Msg("Transcript tail starting")

	err := consumer.Run(ctx, func(t events.Transcript) {
		if *client != "" && t.ClientID != *client {
			return
		}
		kind := "partial"
		if t.Final {
			kind = "final"
		}
		ts := time.UnixMilli(t.Timestamp).Format("15:04:05.000")
		fmt.Printf("%s %s %-7s %s\n", ts, t.ClientID, kind, t.Text)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Transcript tail stopped")
		consumer.Close()
		stop()
		os.Exit(1)
	}
	log.Info().Msg("Transcript tail stopped")
}
