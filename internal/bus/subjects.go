// Package bus wires the durable NATS JetStream order stream and the Kafka
// price/book-update topics (§6 of the matching spec), grounded on
// original_source/order-service/src/handlers/nats_handler and kafka_admin.rs.
package bus

import "strings"

// Subject identifies which of the three routed NATS subjects a message
// belongs to.
type Subject int

const (
	SubjectUnknown Subject = iota
	SubjectOrderCreate
	SubjectOrderCancel
	SubjectMarketBookUpdate
)

const (
	// StreamName is the durable JetStream stream name. Despite the name,
	// it does not mean "order operations" — it means "owned by the
	// order-service" — and it also carries market.book.update.<id>.
	StreamName = "ORDER"
	// StreamSubjectWildcard is the order.* subject filter the stream is
	// created with; the stream also captures BookUpdateSubject(">").
	StreamSubjectWildcard = "order.>"
	// DurableConsumerName is the pull consumer's durable name.
	DurableConsumerName = "order_os"

	orderCreatePrefix = "order.create"
	orderCancelPrefix = "order.cancel"
	bookUpdatePrefix  = "market.book.update."
)

// ParseSubject classifies a raw NATS subject string.
func ParseSubject(raw string) (Subject, string) {
	switch {
	case raw == orderCreatePrefix:
		return SubjectOrderCreate, ""
	case raw == orderCancelPrefix:
		return SubjectOrderCancel, ""
	case strings.HasPrefix(raw, bookUpdatePrefix):
		return SubjectMarketBookUpdate, strings.TrimPrefix(raw, bookUpdatePrefix)
	default:
		return SubjectUnknown, ""
	}
}

// String renders a Subject for logging.
func (s Subject) String() string {
	switch s {
	case SubjectOrderCreate:
		return "order.create"
	case SubjectOrderCancel:
		return "order.cancel"
	case SubjectMarketBookUpdate:
		return "market.book.update"
	default:
		return "unknown"
	}
}

// BookUpdateSubject builds the per-market book-update subject.
func BookUpdateSubject(marketID string) string {
	return bookUpdatePrefix + marketID
}
