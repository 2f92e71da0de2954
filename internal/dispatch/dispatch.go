// Package dispatch implements Update Dispatch (§4.5): after a market's
// Global Book state changes, snapshot it under a brief read lock and fan
// the result out to every downstream consumer in parallel. A failure in
// any one leg is logged and never rolled back — settlement has already
// committed by the time dispatch runs.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"sibyl/internal/book"
	"sibyl/internal/bus"
	"sibyl/internal/globalbook"
	"sibyl/internal/store"
	"sibyl/internal/ws"
)

// bookUpdateMessage is the MessagePack-encoded payload for
// market.book.update.<market_id> (§6).
type bookUpdateMessage struct {
	MarketID  string         `msgpack:"market_id"`
	YesBook   []levelMessage `msgpack:"yes_book"`
	NoBook    []levelMessage `msgpack:"no_book"`
	Timestamp int64          `msgpack:"timestamp"`
}

type levelMessage struct {
	Price  string `msgpack:"price"`
	Shares string `msgpack:"shares"`
	Users  int    `msgpack:"users"`
}

// kafkaPublisher is the subset of *bus.KafkaPublisher dispatch depends on.
type kafkaPublisher interface {
	PublishPriceUpdate(ctx context.Context, update bus.PriceUpdate) error
	PublishOrderBookUpdate(ctx context.Context, update bus.OrderBookUpdate) error
}

// bookUpdatePublisher is the subset of *bus.OrderStream dispatch depends on.
type bookUpdatePublisher interface {
	PublishBookUpdate(ctx context.Context, marketID string, payload []byte) error
}

// socketPublisher is the subset of *ws.Publisher dispatch depends on.
type socketPublisher interface {
	Subscribed(channel string) bool
	Broadcast(channel string, data any)
}

// Dispatcher fans a MarketBook snapshot out to Kafka, the NATS book-update
// subject, the local websocket publisher, and the columnar time-series
// archive.
type Dispatcher struct {
	books   *globalbook.GlobalBook
	kafka   kafkaPublisher
	stream  bookUpdatePublisher
	pub     socketPublisher
	ts      store.TimeSeriesStore
	nowFunc func() time.Time
}

// New builds a Dispatcher. ts may be nil to skip the time-series archival
// leg (e.g. in tests). nowFunc defaults to time.Now; tests may override it.
func New(books *globalbook.GlobalBook, kafka kafkaPublisher, stream bookUpdatePublisher, pub socketPublisher, ts store.TimeSeriesStore) *Dispatcher {
	return &Dispatcher{books: books, kafka: kafka, stream: stream, pub: pub, ts: ts, nowFunc: time.Now}
}

// Dispatch snapshots marketID's book and publishes price/book updates on
// all four channels concurrently (§4.5). It returns an error only when the
// snapshot itself cannot be read (unknown market); individual publish
// failures are logged, never returned, since settlement already committed.
func (d *Dispatcher) Dispatch(ctx context.Context, marketID uuid.UUID) error {
	snap, ok := d.books.Snapshot(marketID)
	if !ok {
		return globalbook.ErrMarketNotLoaded
	}
	ts := d.nowFunc().UnixMilli()
	marketIDStr := marketID.String()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := d.kafka.PublishPriceUpdate(ctx, bus.PriceUpdate{
			MarketID: marketIDStr,
			YesPrice: snap.YesPrice.String(),
			NoPrice:  snap.NoPrice.String(),
			Ts:       ts,
		})
		if err != nil {
			log.Warn().Err(err).Str("market_id", marketIDStr).Msg("dispatch: publish price update")
		}
		return nil
	})

	group.Go(func() error {
		err := d.kafka.PublishOrderBookUpdate(ctx, bus.OrderBookUpdate{
			MarketID: marketIDStr,
			YesBids:  encodeLevelsJSON(snap.YesBids),
			YesAsks:  encodeLevelsJSON(snap.YesAsks),
			NoBids:   encodeLevelsJSON(snap.NoBids),
			NoAsks:   encodeLevelsJSON(snap.NoAsks),
			Ts:       ts,
		})
		if err != nil {
			log.Warn().Err(err).Str("market_id", marketIDStr).Msg("dispatch: publish order book update")
		}
		return nil
	})

	group.Go(func() error {
		channel := ws.OrderBookUpdateChannel(marketIDStr)
		if !d.pub.Subscribed(channel) {
			return nil
		}
		payload, err := encodeBookUpdate(marketIDStr, snap.YesBids, snap.YesAsks, snap.NoBids, snap.NoAsks, ts)
		if err != nil {
			log.Warn().Err(err).Str("market_id", marketIDStr).Msg("dispatch: encode book update")
			return nil
		}
		if err := d.stream.PublishBookUpdate(ctx, marketIDStr, payload); err != nil {
			log.Warn().Err(err).Str("market_id", marketIDStr).Msg("dispatch: publish book update")
		}
		return nil
	})

	group.Go(func() error {
		d.pub.Broadcast(ws.PriceUpdatesChannel(marketIDStr), map[string]string{
			"market_id": marketIDStr,
			"yes_price": snap.YesPrice.String(),
			"no_price":  snap.NoPrice.String(),
		})
		return nil
	})

	if d.ts != nil {
		group.Go(func() error {
			if err := d.ts.WritePriceUpdate(ctx, marketID, snap.YesPrice, snap.NoPrice, ts); err != nil {
				log.Warn().Err(err).Str("market_id", marketIDStr).Msg("dispatch: write price time-series row")
			}
			if err := d.ts.WriteOrderBookSnapshot(ctx, marketID, ts,
				encodeLevelsRow(snap.YesBids), encodeLevelsRow(snap.YesAsks),
				encodeLevelsRow(snap.NoBids), encodeLevelsRow(snap.NoAsks)); err != nil {
				log.Warn().Err(err).Str("market_id", marketIDStr).Msg("dispatch: write book time-series row")
			}
			return nil
		})
	}

	return group.Wait()
}

func encodeLevelsRow(levels []book.LevelSnapshot) []store.LevelRow {
	out := make([]store.LevelRow, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, store.LevelRow{Price: lvl.Price, Shares: lvl.Shares, Users: lvl.Users})
	}
	return out
}

func encodeLevelsJSON(levels []book.LevelSnapshot) []bus.LevelJSON {
	out := make([]bus.LevelJSON, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, bus.LevelJSON{Price: lvl.Price.String(), Shares: lvl.Shares.String(), Users: lvl.Users})
	}
	return out
}

func encodeBookUpdate(marketID string, yesBids, yesAsks, noBids, noAsks []book.LevelSnapshot, ts int64) ([]byte, error) {
	msg := bookUpdateMessage{
		MarketID:  marketID,
		YesBook:   append(encodeLevelsMsgpack(yesBids), encodeLevelsMsgpack(yesAsks)...),
		NoBook:    append(encodeLevelsMsgpack(noBids), encodeLevelsMsgpack(noAsks)...),
		Timestamp: ts,
	}
	return msgpack.Marshal(msg)
}

func encodeLevelsMsgpack(levels []book.LevelSnapshot) []levelMessage {
	out := make([]levelMessage, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, levelMessage{Price: lvl.Price.String(), Shares: lvl.Shares.String(), Users: lvl.Users})
	}
	return out
}
