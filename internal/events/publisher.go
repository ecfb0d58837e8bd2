// Package events publishes forwarded transcripts to Kafka and reads them back.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"transcription-relay/internal/models"
	"transcription-relay/internal/observability/metrics"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// topicWriter is one destination topic. w is nil in log-only mode.
type topicWriter struct {
	topic string
	kind  string
	w     *kafka.Writer
}

// Publisher fans forwarded transcripts out to the partial and final topics.
// Messages are keyed by client ID and hash-partitioned, so one client's
// transcripts stay ordered on a single partition.
type Publisher struct {
	partial   topicWriter
	final     topicWriter
	principal string
	metrics   *metrics.Metrics
}

// New creates a publisher using the global metrics. A nil, disabled or
// broker-less config yields a log-only publisher.
func New(cfg *Config) *Publisher {
	return NewWithMetrics(cfg, metrics.DefaultMetrics)
}

// NewWithMetrics is New with an explicit metrics sink.
func NewWithMetrics(cfg *Config, m *metrics.Metrics) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}
	p := &Publisher{
		partial:   topicWriter{topic: cfg.TopicPartial, kind: "partial"},
		final:     topicWriter{topic: cfg.TopicFinal, kind: "final"},
		principal: cfg.Principal,
		metrics:   m,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Bool("configured", cfg.Enabled).Msg("Kafka disabled, transcripts are logged only")
		return p
	}

	transport := &kafka.Transport{
		Dial:        (&kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}).DialFunc,
		ClientID:    cfg.Principal,
		IdleTimeout: time.Minute,
	}
	p.partial.w = newWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.final.w = newWriter(cfg.Brokers, cfg.TopicFinal, transport)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether events reach Kafka or are only logged.
func (p *Publisher) Enabled() bool {
	return p.partial.w != nil && p.final.w != nil
}

// PublishPartial publishes an interim transcript.
func (p *Publisher) PublishPartial(ctx context.Context, event models.TranscriptPartial) error {
	return p.publish(ctx, p.partial, event.ClientID, event.SessionID, event.Provider, event)
}

// PublishFinal publishes a committed transcript.
func (p *Publisher) PublishFinal(ctx context.Context, event models.TranscriptFinal) error {
	return p.publish(ctx, p.final, event.ClientID, event.SessionID, event.Provider, event)
}

func (p *Publisher) publish(ctx context.Context, dst topicWriter, clientID, sessionID, provider string, event any) error {
	start := time.Now()
	record := func(err error) {
		p.metrics.RecordKafkaPublish(dst.topic, dst.kind, err, time.Since(start).Seconds())
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", dst.topic).Msg("Failed to marshal transcript")
		record(err)
		return err
	}

	logger := log.With().
		Str("topic", dst.topic).
		Str("clientId", clientID).
		Logger()
	logger.Debug().RawJSON("payload", payload).Msg("Publishing transcript")

	if dst.w == nil {
		record(nil)
		return nil
	}

	err = dst.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(clientID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(dst.kind)},
			{Key: "principal", Value: []byte(p.principal)},
			{Key: "sessionId", Value: []byte(sessionID)},
			{Key: "provider", Value: []byte(provider)},
		},
	})
	record(err)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to write transcript to Kafka")
	}
	return err
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, dst := range []topicWriter{p.partial, p.final} {
		if dst.w == nil {
			continue
		}
		if err := dst.w.Close(); err != nil {
			log.Error().Err(err).Str("topic", dst.topic).Msg("Error closing Kafka writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
