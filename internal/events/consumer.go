package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"transcription-relay/internal/models"
)

// Transcript is a transcript event read back from Kafka. Partial and final
// events share one shape on the wire.
type Transcript struct {
	Topic string
	Final bool
	models.TranscriptFinal
}

// DecodeTranscript parses a published event payload.
func DecodeTranscript(topic string, value []byte) (Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(value, &t.TranscriptFinal); err != nil {
		return Transcript{}, fmt.Errorf("decoding transcript from %s: %w", topic, err)
	}
	switch t.EventType {
	case models.EventTypeFinal:
		t.Final = true
	case models.EventTypePartial:
	default:
		return Transcript{}, fmt.Errorf("unexpected event type %q on %s", t.EventType, topic)
	}
	t.Topic = topic
	return t, nil
}

// ConsumerConfig configures a transcript tail.
type ConsumerConfig struct {
	Brokers []string
	Topics  []string
	// Since rewinds each reader to this far before now. Zero starts at the
	// newest offset.
	Since time.Duration
}

// Consumer reads transcript events from partition 0 of each topic. No
// consumer group is used, so every tail sees every event.
type Consumer struct {
	cfg     ConsumerConfig
	readers []*kafka.Reader
}

// NewConsumer creates one reader per topic.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	c := &Consumer{cfg: cfg}
	for _, topic := range cfg.Topics {
		c.readers = append(c.readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:   cfg.Brokers,
			Topic:     topic,
			Partition: 0,
			MinBytes:  1,
			MaxBytes:  10e6,
		}))
	}
	return c
}

// Run delivers decoded events to fn until ctx is cancelled. fn is called
// from one goroutine per topic.
func (c *Consumer) Run(ctx context.Context, fn func(Transcript)) error {
	var wg sync.WaitGroup
	for _, r := range c.readers {
		wg.Add(1)
		go func(r *kafka.Reader) {
			defer wg.Done()
			c.consume(ctx, r, fn)
		}(r)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) consume(ctx context.Context, r *kafka.Reader, fn func(Transcript)) {
	topic := r.Config().Topic
	if c.cfg.Since > 0 {
		if err := r.SetOffsetAt(ctx, time.Now().Add(-c.cfg.Since)); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to rewind reader")
		}
	} else if err := r.SetOffset(kafka.LastOffset); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek to newest offset")
	}
	log.Info().Str("topic", topic).Dur("since", c.cfg.Since).Msg("Consuming transcripts")

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		t, err := DecodeTranscript(topic, msg.Value)
		if err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping event")
			continue
		}
		fn(t)
	}
}

// Close closes every reader.
func (c *Consumer) Close() error {
	var err error
	for _, r := range c.readers {
		if e := r.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing reader")
			err = e
		}
	}
	return err
}
