package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"sibyl/internal/authcontract"
	"sibyl/internal/bus"
	"sibyl/internal/config"
	"sibyl/internal/consumer"
	"sibyl/internal/dispatch"
	"sibyl/internal/globalbook"
	"sibyl/internal/metrics"
	"sibyl/internal/rehydrate"
	"sibyl/internal/settlement"
	"sibyl/internal/store"
	"sibyl/internal/ws"
)

// requireToken validates the bearer token (query param or header) before
// handing the connection to next; the websocket surface has no issuance
// story of its own (§6, authcontract is validation-only).
func requireToken(validator *authcontract.Validator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if _, err := validator.ValidateToken(token); err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	validator := authcontract.NewValidator(cfg.JWTSecret)

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pg.Close()

	orderStream, err := bus.Connect(ctx, cfg.NatsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer orderStream.Close()

	kafkaPub, err := bus.NewKafkaPublisher(ctx, cfg.KafkaBrokers)
	if err != nil {
		log.Fatal().Err(err).Msg("connect kafka")
	}
	defer kafkaPub.Close()

	var timeSeries store.TimeSeriesStore
	if cfg.ClickHouseAddr != "" {
		ch, err := store.NewClickHouseWriter(ctx, cfg.ClickHouseAddr)
		if err != nil {
			log.Error().Err(err).Msg("connect clickhouse, disabling time-series archival")
		} else {
			defer ch.Close()
			timeSeries = ch
		}
	}

	books := globalbook.New()

	if err := rehydrate.Run(ctx, pg, pg, books); err != nil {
		log.Fatal().Err(err).Msg("rehydrate")
	}

	counters := metrics.New()

	publisher := ws.NewPublisher()
	publisherStop := make(chan struct{})
	go publisher.Run(publisherStop)
	defer close(publisherStop)

	settlementPipeline := settlement.New(pg, pg)
	dispatcher := dispatch.New(books, kafkaPub, orderStream, publisher, timeSeries)
	svc := consumer.New(orderStream, pg, pg, pg, books, settlementPipeline, dispatcher, counters)

	mux := http.NewServeMux()
	mux.Handle("/ws", requireToken(validator, publisher))
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(counters)
	})

	httpSrv := &http.Server{
		Addr:              ":8080",
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server exited")
		}
	}()

	var t tomb.Tomb
	t.Go(func() error {
		return svc.Run(&t)
	})

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("consumer service exited with error")
	}
}
