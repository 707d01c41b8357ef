package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pharmacy-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes one keyed event
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
	Close() error
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &Producer{writer: writer, logger: util.GetLogger()}
}

func encode(key string, event interface{}) (kafka.Message, error) {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}, nil
}

// PublishEvent publishes an event to Kafka
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	msg, err := encode(key, event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	return &Consumer{reader: reader, logger: util.GetLogger()}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// StartConsuming fetches messages until ctx ends. A message is committed only after
// the handler accepted it.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.reader.Config().Topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Consumer context cancelled, stopping")
				return ctx.Err()
			}
			c.logger.Error("Error fetching message", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("Error handling message",
				zap.Int64("offset", msg.Offset),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.Error(err))
		}
	}
}

var (
	ErrBusClosed = errors.New("local bus closed")
	ErrBusFull   = errors.New("local bus full")
)

// LocalBus delivers events to an in-process handler when no Kafka cluster is configured
type LocalBus struct {
	messages  chan kafka.Message
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewLocalBus creates a bus buffering up to size undelivered events
func NewLocalBus(size int) *LocalBus {
	return &LocalBus{
		messages: make(chan kafka.Message, size),
		done:     make(chan struct{}),
		logger:   util.GetLogger(),
	}
}

// PublishEvent queues an event without waiting. When the buffer is full the event is
// dropped and ErrBusFull returned, so a slow consumer never holds up the publisher.
func (b *LocalBus) PublishEvent(ctx context.Context, key string, event interface{}) error {
	msg, err := encode(key, event)
	if err != nil {
		return err
	}
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}
	select {
	case b.messages <- msg:
		return nil
	default:
		b.logger.Warn("Local bus full, event dropped", zap.String("key", key))
		return ErrBusFull
	}
}

// StartConsuming hands queued events to handler until ctx ends or the bus closes
func (b *LocalBus) StartConsuming(ctx context.Context, handler MessageHandler) error {
	b.logger.Info("Starting local event bus")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case msg := <-b.messages:
			if err := handler(ctx, msg); err != nil {
				b.logger.Error("Error handling message", zap.String("key", string(msg.Key)), zap.Error(err))
			}
		}
	}
}

// Close stops delivery. Queued events are discarded.
func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
