// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/log"
)

// KafkaConfig names the went-live topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes lifecycle events published by other instances or
// external schedulers. Only events for the configured channels are emitted.
type KafkaSource struct {
	reader   messageReader
	channels map[string]struct{}
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewKafkaSource creates a consumer-group reader for cfg.Topic.
func NewKafkaSource(cfg KafkaConfig, channels []string) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1e6,
	})
	return newKafkaSource(reader, channels, clock.Real{})
}

func newKafkaSource(r messageReader, channels []string, c clock.Clock) *KafkaSource {
	set := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		set[strings.ToLower(ch)] = struct{}{}
	}
	return &KafkaSource{reader: r, channels: set, clock: c, logger: log.WithComponent("kafka")}
}

func (s *KafkaSource) Run(ctx context.Context, emit func(Event)) error {
	defer func() { _ = s.reader.Close() }()
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, kafka.ErrGroupClosed) {
				return err
			}
			s.logger.Warn().Err(err).Msg("kafka read failed")
			if err := clock.Sleep(ctx, s.clock, time.Second); err != nil {
				return err
			}
			continue
		}

		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			s.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping malformed event")
			continue
		}
		ev.Channel = strings.ToLower(ev.Channel)
		if _, ok := s.channels[ev.Channel]; !ok {
			continue
		}
		if ev.Kind != EventWentLive && ev.Kind != EventWentOffline {
			s.logger.Debug().Str("type", string(ev.Kind)).Msg("skipping unknown event type")
			continue
		}
		if ev.Source == "" {
			ev.Source = "kafka"
		}
		emit(ev)
	}
}

// KafkaPublisher forwards locally observed events to the topic.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a synchronous writer for cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}}
}

// Publish writes ev keyed by channel.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Channel),
		Value: raw,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Kind)},
			{Key: "source", Value: []byte("streamkeeper")},
		},
	})
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
