package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"

	"dca-indexer/internal/events"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/observability"
)

// DefaultKafkaKey routes every log to the same partition so the topic keeps
// ledger order.
const DefaultKafkaKey = "dca-logs"

// messageReader is the subset of kafka.Reader used by KafkaSource.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes raw logs published as JSON, one per message.
// Offsets are committed only when the Runner acknowledges a log.
type KafkaSource struct {
	reader messageReader
	logger logrus.FieldLogger
}

// KafkaOptions contains configuration for Kafka sources and sinks.
type KafkaOptions struct {
	Brokers []string
	Topic   string
	GroupID string // consumer group, required for committed offsets
	Key     string // Default: DefaultKafkaKey
	Logger  logrus.FieldLogger
}

// NewKafkaSource creates a consumer-group reader with manual commits.
func NewKafkaSource(opts KafkaOptions) (*KafkaSource, error) {
	if len(opts.Brokers) == 0 || opts.Topic == "" || opts.GroupID == "" {
		return nil, errors.New("kafka source: brokers, topic and group id are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        opts.Brokers,
		Topic:          opts.Topic,
		GroupID:        opts.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0, // synchronous commits
		StartOffset:    kafka.FirstOffset,
	})
	return newKafkaSource(reader, opts.Logger), nil
}

func newKafkaSource(reader messageReader, logger logrus.FieldLogger) *KafkaSource {
	return &KafkaSource{reader: reader, logger: logging.Component(logger, "kafka-source")}
}

// Next fetches the next message and decodes its log.
func (s *KafkaSource) Next(ctx context.Context) (*Delivery, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	observability.RecordKafkaMessage()

	var raw events.RawLog
	if err := sonnet.Unmarshal(msg.Value, &raw); err != nil {
		return nil, fmt.Errorf("%w: partition %d offset %d: %v", events.ErrMalformed, msg.Partition, msg.Offset, err)
	}
	observability.RecordLogReceived("kafka")

	return &Delivery{
		Log: raw,
		Ack: func(ctx context.Context) error {
			if err := s.reader.CommitMessages(ctx, msg); err != nil {
				return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
			}
			return nil
		},
	}, nil
}

// Close closes the underlying reader.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// messageWriter is the subset of kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes handled raw logs so other consumers can follow the
// same ordered stream.
type KafkaSink struct {
	writer messageWriter
	key    []byte
}

// NewKafkaSink creates a synchronous producer for opts.Topic.
func NewKafkaSink(opts KafkaOptions) (*KafkaSink, error) {
	if len(opts.Brokers) == 0 || opts.Topic == "" {
		return nil, errors.New("kafka sink: brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaSink(writer, opts.Key), nil
}

func newKafkaSink(writer messageWriter, key string) *KafkaSink {
	if key == "" {
		key = DefaultKafkaKey
	}
	return &KafkaSink{writer: writer, key: []byte(key)}
}

// Write publishes one log.
func (s *KafkaSink) Write(ctx context.Context, raw events.RawLog) error {
	data, err := sonnet.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: s.key, Value: data}); err != nil {
		return fmt.Errorf("publish log %s:%d: %w", raw.TxHash, raw.LogIndex, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var (
	_ StreamSource = (*KafkaSource)(nil)
	_ Sink         = (*KafkaSink)(nil)
)
