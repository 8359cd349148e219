package eventlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/redstone/orderflow/internal/fault"
	"github.com/redstone/orderflow/internal/logger"
)

// Producer writes to any topic; the topic is taken from each message.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, clientID string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
			Transport:    &kafka.Transport{ClientID: clientID},
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

func (p *Producer) Publish(ctx context.Context, msg Message) error {
	km := kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: toKafkaHeaders(msg.Headers),
		Time:    time.Now(),
	}
	if err := p.w.WriteMessages(ctx, km); err != nil {
		return fault.New(fault.KindPublish, "publish to "+msg.Topic, err)
	}
	return nil
}

// Consumer reads topics as a member of a consumer group.
type Consumer struct {
	brokers  []string
	clientID string
	log      *logger.Logger

	fetchBackoff time.Duration
}

func NewConsumer(brokers []string, clientID string, log *logger.Logger) *Consumer {
	return &Consumer{
		brokers:      brokers,
		clientID:     clientID,
		log:          log,
		fetchBackoff: 500 * time.Millisecond,
	}
}

func (c *Consumer) Subscribe(ctx context.Context, topic, groupID string, h Handler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
		Dialer: &kafka.Dialer{
			ClientID: c.clientID,
			Timeout:  10 * time.Second,
		},
	})
	defer r.Close()

	c.log.Info("consumer started", map[string]any{"topic": topic, "group": groupID})
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("reader for %s closed: %w", topic, err)
			}
			c.log.Error("fetch failed", map[string]any{"topic": topic, "err": err})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.fetchBackoff):
			}
			continue
		}

		if err := h(ctx, fromKafka(km)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handle %s[%d]@%d: %w", km.Topic, km.Partition, km.Offset, err)
		}
		if err := r.CommitMessages(ctx, km); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s[%d]@%d: %w", km.Topic, km.Partition, km.Offset, err)
		}
	}
}

func fromKafka(km kafka.Message) Message {
	var headers map[string]string
	if len(km.Headers) > 0 {
		headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			headers[h.Key] = string(h.Value)
		}
	}
	return Message{
		Topic:     km.Topic,
		Key:       km.Key,
		Value:     km.Value,
		Headers:   headers,
		Partition: km.Partition,
		Offset:    km.Offset,
		Time:      km.Time,
	}
}

func toKafkaHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
