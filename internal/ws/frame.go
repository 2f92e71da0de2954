// Package ws implements the local websocket fan-out publisher: the
// client-facing surface of §6's "Websocket surface", grounded on the
// subscribe/channel/broadcast envelope from
// original_source/.../nats_handler (its protobuf Payload/Channel/WsMessage,
// reimagined here as the JSON envelope spec.md §6 actually specifies).
package ws

import "time"

// OperationType is the client's requested action on a channel.
type OperationType string

const (
	Subscribe   OperationType = "Subscribe"
	Unsubscribe OperationType = "Unsubscribe"
	Post        OperationType = "Post"
)

// Payload is the body of a client-sent message.
type Payload struct {
	Type    OperationType `json:"type"`
	Channel string        `json:"channel"`
	Params  string        `json:"params,omitempty"`
	Data    string        `json:"data,omitempty"`
}

// Frame is a full client-sent message: an optional correlation id plus a payload.
type Frame struct {
	ID      string   `json:"id,omitempty"`
	Payload *Payload `json:"payload"`
}

// Broadcast is a server-pushed message on a channel.
type Broadcast struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

const broadcastType = "broadcast"

// NewBroadcast builds a Broadcast frame for channel with the given payload.
func NewBroadcast(channel string, data any) Broadcast {
	return Broadcast{Type: broadcastType, Channel: channel, Data: data, Timestamp: time.Now()}
}

// PriceUpdatesChannel and OrderBookUpdateChannel build the two channel
// names the spec names directly.
func PriceUpdatesChannel(marketID string) string {
	return "price_updates:" + marketID
}

func OrderBookUpdateChannel(marketID string) string {
	return "order_book_update:" + marketID
}

// HeartbeatInterval is how often the publisher sends a keepalive.
const HeartbeatInterval = 30 * time.Second
