package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka topic names from §6.
const (
	TopicPriceUpdates     = "price-updates"
	TopicOrderBookUpdates = "order-book-updates"
)

// PriceUpdate is the JSON record published to TopicPriceUpdates.
type PriceUpdate struct {
	MarketID string `json:"market_id"`
	YesPrice string `json:"yes_price"`
	NoPrice  string `json:"no_price"`
	Ts       int64  `json:"ts"`
}

// LevelJSON is one {price, shares, users} entry of an order-book-updates level array.
type LevelJSON struct {
	Price  string `json:"price"`
	Shares string `json:"shares"`
	Users  int    `json:"users"`
}

// OrderBookUpdate is the JSON record published to TopicOrderBookUpdates.
type OrderBookUpdate struct {
	MarketID string      `json:"market_id"`
	YesBids  []LevelJSON `json:"yes_bids"`
	YesAsks  []LevelJSON `json:"yes_asks"`
	NoBids   []LevelJSON `json:"no_bids"`
	NoAsks   []LevelJSON `json:"no_asks"`
	Ts       int64       `json:"ts"`
}

// KafkaPublisher publishes JSON records to the price-updates and
// order-book-updates topics, keyed by market id, auto-creating topics
// through a process-wide TopicCache.
type KafkaPublisher struct {
	writer *kafka.Writer
	admin  *kafka.Conn
	cache  *TopicCache
}

// NewKafkaPublisher dials one broker for topic administration and builds a
// writer across all brokers that hashes the record key to pick a partition,
// so every record for one market id lands on the same partition.
func NewKafkaPublisher(ctx context.Context, brokers []string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("bus: at least one kafka broker is required")
	}
	admin, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("bus: dial kafka admin conn: %w", err)
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}
	return &KafkaPublisher{writer: writer, admin: admin, cache: NewTopicCache()}, nil
}

// Close releases the writer and admin connection.
func (p *KafkaPublisher) Close() error {
	adminErr := p.admin.Close()
	writerErr := p.writer.Close()
	if writerErr != nil {
		return writerErr
	}
	return adminErr
}

func (p *KafkaPublisher) ensureTopic(topic string) error {
	return p.cache.EnsureExists(topic, func(topic string) error {
		err := p.admin.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		if err != nil && err != kafka.TopicAlreadyExists {
			return fmt.Errorf("bus: create topic %s: %w", topic, err)
		}
		return nil
	})
}

// PublishPriceUpdate publishes a price-updates record keyed by market id.
func (p *KafkaPublisher) PublishPriceUpdate(ctx context.Context, update PriceUpdate) error {
	if err := p.ensureTopic(TopicPriceUpdates); err != nil {
		return err
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("bus: marshal price update: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: TopicPriceUpdates,
		Key:   []byte(update.MarketID),
		Value: payload,
	})
}

// PublishOrderBookUpdate publishes an order-book-updates record keyed by market id.
func (p *KafkaPublisher) PublishOrderBookUpdate(ctx context.Context, update OrderBookUpdate) error {
	if err := p.ensureTopic(TopicOrderBookUpdates); err != nil {
		return err
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("bus: marshal order book update: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: TopicOrderBookUpdates,
		Key:   []byte(update.MarketID),
		Value: payload,
	})
}
