package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// OrderStream is a durable pull-consumer handle over the ORDER JetStream
// stream, delivering order.create / order.cancel / market.book.update.<id>
// messages at-least-once with manual ack (§4.4, §5).
type OrderStream struct {
	nc       *nats.Conn
	consumer jetstream.Consumer
}

// Connect dials natsURL, ensures the ORDER stream and its durable pull
// consumer exist, and returns a ready-to-fetch OrderStream.
func Connect(ctx context.Context, natsURL string) (*OrderStream, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{StreamSubjectWildcard, BookUpdateSubject(">")},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: create stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   DurableConsumerName,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: create consumer: %w", err)
	}

	return &OrderStream{nc: nc, consumer: consumer}, nil
}

// Close closes the underlying NATS connection without draining it.
func (s *OrderStream) Close() {
	s.nc.Close()
}

// Message is one delivered, not-yet-acked order event.
type Message struct {
	Subject Subject
	// MarketID is only populated for SubjectMarketBookUpdate.
	MarketID string
	// OrderID is the ASCII order id payload for order.create/order.cancel.
	OrderID string

	raw jetstream.Msg
}

// Ack acknowledges successful processing — full settlement plus dispatch
// for order.create, or removal for order.cancel (§4.4 step 7). A Message
// built outside Fetch (tests) has no underlying jetstream.Msg and acks as
// a no-op.
func (m *Message) Ack() error {
	if m.raw == nil {
		return nil
	}
	return m.raw.Ack()
}

// Fetch pulls up to max messages in one JetStream fetch request. ctx is not
// passed to the fetch: cancelling it does not interrupt a fetch in progress.
func (s *OrderStream) Fetch(_ context.Context, max int) ([]*Message, error) {
	batch, err := s.consumer.Fetch(max, jetstream.FetchMaxWait(0))
	if err != nil {
		return nil, fmt.Errorf("bus: fetch: %w", err)
	}

	var out []*Message
	for raw := range batch.Messages() {
		subj, marketID := ParseSubject(raw.Subject())
		out = append(out, &Message{
			Subject:  subj,
			MarketID: marketID,
			OrderID:  string(raw.Data()),
			raw:      raw,
		})
	}
	if err := batch.Error(); err != nil {
		return out, fmt.Errorf("bus: fetch batch: %w", err)
	}
	return out, nil
}

// PublishBookUpdate publishes a binary book-update payload to
// market.book.update.<marketID>, used when a client is subscribed to that
// market's book channel (§4.5).
func (s *OrderStream) PublishBookUpdate(_ context.Context, marketID string, payload []byte) error {
	if err := s.nc.Publish(BookUpdateSubject(marketID), payload); err != nil {
		return fmt.Errorf("bus: publish book update: %w", err)
	}
	return nil
}
