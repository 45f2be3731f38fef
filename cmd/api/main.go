// Command api serves the HTTP surface: quote, initiate, confirm, and the
// SSE event streams.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/plm/crossbridge/api"
	"github.com/plm/crossbridge/idempotency"
	"github.com/plm/crossbridge/logging"
	"github.com/plm/crossbridge/quote"
	"github.com/plm/crossbridge/rates"
	redisstore "github.com/plm/crossbridge/storage/redis"
	"github.com/plm/crossbridge/messaging/nats"
	"github.com/plm/crossbridge/storage/postgres"
)

func main() {
	_ = godotenv.Load()
	log := logging.New("api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pgClient.Close()

	if err := pgClient.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}
	store := postgres.NewStore(pgClient)

	redisClient, err := redisstore.NewClient(ctx, redisstore.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	natsClient, err := nats.NewClient(ctx, nats.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer natsClient.Close()
	if err := natsClient.SetupStreams(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to set up streams")
	}

	rateCache := rates.NewCache(redisClient.Redis(), rates.NewSourceFromEnv(), log)
	quotes := quote.NewService(rateCache)
	idemStore := idempotency.NewStore(redisClient.Redis())

	mux := api.NewRouter(api.Deps{
		PaymentStore: store,
		Quotes:       quotes,
		Jobs:         natsClient,
		Idempotency:  idemStore,
		RateLimiter:  redisClient.EndpointLimiter(),
		EventStore:   store,
		Log:          log,
	})

	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
