// Package consumer implements the Order Consumer: the tomb-supervised
// service that pulls order.create/order.cancel messages off the durable
// bus, drives them through the Global Book, settles each match, dispatches
// the resulting update, and acks (§4.4).
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"sibyl/internal/book"
	"sibyl/internal/bus"
	"sibyl/internal/common"
	"sibyl/internal/dispatch"
	"sibyl/internal/globalbook"
	"sibyl/internal/metrics"
	"sibyl/internal/settlement"
	"sibyl/internal/store"
	"sibyl/internal/workerpool"
)

const defaultWorkers = 8
const fetchBatchSize = 32

// Stream is the subset of *bus.OrderStream the consumer depends on.
type Stream interface {
	Fetch(ctx context.Context, max int) ([]*bus.Message, error)
}

// Service drives messages from Stream through the matching and
// settlement pipeline.
type Service struct {
	stream   Stream
	orders   store.OrderStore
	markets  store.MarketStore
	users    store.UserStore
	books    *globalbook.GlobalBook
	settle   *settlement.Pipeline
	dispatch *dispatch.Dispatcher
	metrics  *metrics.Counters
	pool     workerpool.Pool
}

// New builds a Service with defaultWorkers fetch/process workers. counters
// may be nil, in which case metrics are simply not recorded.
func New(stream Stream, orders store.OrderStore, markets store.MarketStore, users store.UserStore,
	books *globalbook.GlobalBook, settle *settlement.Pipeline, d *dispatch.Dispatcher, counters *metrics.Counters) *Service {
	return &Service{
		stream:   stream,
		orders:   orders,
		markets:  markets,
		users:    users,
		books:    books,
		settle:   settle,
		dispatch: d,
		metrics:  counters,
		pool:     workerpool.New(defaultWorkers),
	}
}

// Run starts the fetch loop and worker pool under t, blocking until the
// tomb dies.
func (s *Service) Run(t *tomb.Tomb) error {
	t.Go(func() error {
		return s.fetchLoop(t)
	})
	s.pool.Setup(t, s.handleTask)
	return nil
}

func (s *Service) fetchLoop(t *tomb.Tomb) error {
	ctx := t.Context(nil)
	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		msgs, err := s.stream.Fetch(ctx, fetchBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("consumer: fetch")
			continue
		}
		for _, msg := range msgs {
			s.pool.AddTask(msg)
		}
	}
}

func (s *Service) handleTask(t *tomb.Tomb, task any) error {
	msg, ok := task.(*bus.Message)
	if !ok {
		return nil
	}

	ctx := t.Context(nil)
	if err := s.process(ctx, msg); err != nil {
		if errors.Is(err, book.ErrInvariantViolation) {
			log.Error().Err(err).Msg("consumer: matching invariant violated, aborting worker")
			return err
		}
		log.Warn().Err(err).Str("subject", msg.Subject.String()).Msg("consumer: message processing failed, not acking")
		return nil
	}
	return nil
}

func (s *Service) process(ctx context.Context, msg *bus.Message) error {
	switch msg.Subject {
	case bus.SubjectOrderCreate:
		return s.processCreate(ctx, msg)
	case bus.SubjectOrderCancel:
		return s.processCancel(ctx, msg)
	default:
		log.Warn().Int("subject", int(msg.Subject)).Msg("consumer: unknown subject, dropping")
		return msg.Ack()
	}
}

// processCreate implements §4.4 steps 1-7 for one order.create message.
func (s *Service) processCreate(ctx context.Context, msg *bus.Message) error {
	start := time.Now()
	orderID, err := uuid.Parse(msg.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", msg.OrderID).Msg("consumer: bad order id, dropping")
		return msg.Ack()
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			log.Warn().Str("order_id", msg.OrderID).Msg("consumer: order not found, dropping")
			return msg.Ack()
		}
		return fmt.Errorf("consumer: load order: %w", err)
	}

	if order.Status == common.StatusOpen {
		// Already rested from startup rehydration (§4.4 step 2).
		return msg.Ack()
	}

	mkt, err := s.markets.GetMarket(ctx, order.MarketID)
	if err != nil {
		return fmt.Errorf("consumer: load market: %w", err)
	}

	budget := decimal.Zero
	if order.Type == common.Market && order.Side == common.Buy {
		taker, err := s.users.GetUser(ctx, order.UserID)
		if err != nil {
			return fmt.Errorf("consumer: load user: %w", err)
		}
		budget = taker.Balance
	}

	order.Status = common.StatusOpen
	matches, err := s.books.Process(order, mkt.LiquidityB, budget)
	if err != nil {
		return fmt.Errorf("consumer: process order: %w", err)
	}

	finalStatus := order.Status
	if order.Type == common.Market && order.Remaining().IsPositive() {
		// Market orders never rest; an unfilled residual is dead on arrival.
		finalStatus = common.StatusExpired
	}
	if err := s.orders.UpdateOrderStatus(ctx, order.ID, finalStatus, order.FilledQuantity); err != nil {
		return fmt.Errorf("consumer: persist taker status: %w", err)
	}

	if err := s.settle.Settle(ctx, order, matches); err != nil {
		if s.metrics != nil {
			s.metrics.IncSettlementFailed()
		}
		return fmt.Errorf("consumer: settle: %w", err)
	}

	if err := s.dispatch.Dispatch(ctx, order.MarketID); err != nil {
		if s.metrics != nil {
			s.metrics.IncDispatchFailed()
		}
		log.Warn().Err(err).Str("market_id", order.MarketID.String()).Msg("consumer: dispatch failed")
	}

	if s.metrics != nil {
		s.metrics.IncOrdersReceived()
		if len(matches) > 0 {
			s.metrics.IncOrdersMatched(int64(len(matches)))
			s.metrics.IncTradesSettled(int64(2 * len(matches)))
		}
		s.metrics.ObserveSettlementLatency(time.Since(start).Microseconds())
	}

	return msg.Ack()
}

// processCancel implements the cancel path: remove from the book (if
// present) and transition to CANCELLED.
func (s *Service) processCancel(ctx context.Context, msg *bus.Message) error {
	orderID, err := uuid.Parse(msg.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", msg.OrderID).Msg("consumer: bad order id, dropping")
		return msg.Ack()
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return msg.Ack()
		}
		return fmt.Errorf("consumer: load order for cancel: %w", err)
	}

	if _, err := s.books.Remove(order.MarketID, order.ID, order.Outcome, order.Side, order.Price); err != nil {
		log.Warn().Err(err).Str("order_id", msg.OrderID).Msg("consumer: remove from book failed, order may predate rehydration")
	}

	if err := s.orders.UpdateOrderStatus(ctx, order.ID, common.StatusCancelled, order.FilledQuantity); err != nil {
		return fmt.Errorf("consumer: persist cancellation: %w", err)
	}

	if err := s.dispatch.Dispatch(ctx, order.MarketID); err != nil {
		if s.metrics != nil {
			s.metrics.IncDispatchFailed()
		}
		log.Warn().Err(err).Str("market_id", order.MarketID.String()).Msg("consumer: dispatch failed")
	}

	if s.metrics != nil {
		s.metrics.IncOrdersCancelled()
	}

	return msg.Ack()
}
