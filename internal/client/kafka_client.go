package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/util"
)

type KafkaProducer struct {
	Writer *kafka.Writer
	config *config.KafkaConfig
	logger *zap.Logger
}

type KafkaConsumer struct {
	Reader *kafka.Reader
	logger *zap.Logger
}

func NewKafkaProducer(cfg *config.Config, logger *zap.Logger) (*KafkaProducer, error) {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(kafkaConfig.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchSize:              100,
		BatchBytes:             1 << 20,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: cfg.IsDevelopment(),
	}
	if kafkaConfig.TLSEnabled {
		writer.Transport = &kafka.Transport{TLS: &tls.Config{MinVersion: tls.VersionTLS12}}
	}

	p := &KafkaProducer{Writer: writer, config: &kafkaConfig, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.HealthCheck(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to connect to Kafka brokers: %w", err)
	}

	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.Bool("tls", kafkaConfig.TLSEnabled))

	return p, nil
}

// NewKafkaConsumer joins groupID on topic. Offsets are committed explicitly
// with Commit once a message has been handled.
func NewKafkaConsumer(cfg *config.Config, topic, groupID string, logger *zap.Logger) *KafkaConsumer {
	readerConfig := kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		StartOffset:    kafka.FirstOffset,
		MaxWait:        2 * time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
	}
	if cfg.Kafka.TLSEnabled {
		readerConfig.Dialer = &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	logger.Info("Kafka consumer initialized",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", topic),
		zap.String("group_id", groupID))

	return &KafkaConsumer{Reader: kafka.NewReader(readerConfig), logger: logger}
}

func (p *KafkaProducer) Close() error {
	if p.Writer == nil {
		return nil
	}
	if err := p.Writer.Close(); err != nil {
		util.Error("failed to close Kafka producer", zap.Error(err))
		return err
	}
	util.Info("Kafka producer closed")
	return nil
}

func (c *KafkaConsumer) Close() error {
	if c.Reader == nil {
		return nil
	}
	if err := c.Reader.Close(); err != nil {
		util.Error("failed to close Kafka consumer", zap.Error(err))
		return err
	}
	util.Info("Kafka consumer closed")
	return nil
}

func (p *KafkaProducer) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	p.logger.Debug("Produced kafka message",
		zap.String("topic", topic),
		zap.ByteString("key", key),
		zap.Int("value_size", len(value)))
	return nil
}

// FetchMessage reads the next message without committing it.
func (c *KafkaConsumer) FetchMessage(ctx context.Context) (kafka.Message, error) {
	msg, err := c.Reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to read kafka message: %w", err)
	}
	c.logger.Debug("Consumed kafka message",
		zap.String("topic", msg.Topic),
		zap.ByteString("key", msg.Key),
		zap.Int64("offset", msg.Offset))
	return msg, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	return c.Reader.CommitMessages(ctx, msgs...)
}

// HealthCheck dials the first reachable broker and lists partitions.
func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	dialer := &kafka.Dialer{Timeout: 5 * time.Second, DualStack: true}
	if p.config.TLSEnabled {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	var errs []error
	for _, broker := range p.config.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = conn.ReadPartitions()
		conn.Close()
		if err != nil {
			return fmt.Errorf("failed to read Kafka partitions: %w", err)
		}
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}
