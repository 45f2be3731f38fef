// Command orchestratorworker consumes the payment-processing stream and
// drives payments through onramp and offramp via the orchestrator.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/plm/crossbridge/engine/worker"
	"github.com/plm/crossbridge/logging"
	natsclient "github.com/plm/crossbridge/messaging/nats"
	"github.com/plm/crossbridge/providers"
	"github.com/plm/crossbridge/storage/postgres"
	redisstore "github.com/plm/crossbridge/storage/redis"
	"github.com/plm/crossbridge/worker/orchestrator"
)

const poolSize = 5

func main() {
	_ = godotenv.Load()
	log := logging.New("orchestrator-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pgClient.Close()
	store := postgres.NewStore(pgClient)

	redisClient, err := redisstore.NewClient(ctx, redisstore.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	natsClient, err := natsclient.NewClient(ctx, natsclient.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer natsClient.Close()
	if err := natsClient.SetupStreams(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to set up streams")
	}

	orch := orchestrator.New(
		store,
		natsClient,
		providers.NewStripeOnramp(),
		providers.NewHTTPOfframp(),
		providers.AlwaysSufficientBalanceOracle{},
		redisClient.OnrampBreaker(),
		redisClient.OfframpBreaker(),
		log,
	)

	pool := worker.NewPool(&worker.Config{MaxWorkers: poolSize})

	consumer, err := natsClient.CreateWorkQueueConsumer(ctx, natsclient.DefaultConsumerConfig(
		natsclient.PaymentProcessingStream, "orchestrator-worker",
	))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create consumer")
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var job natsclient.PaymentJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			log.Error().Err(err).Msg("malformed payment job, terminating")
			msg.Term()
			return
		}

		err := pool.Submit(ctx, job.PaymentID, func(ctx context.Context, paymentID string) error {
			return orch.ProcessPayment(ctx, paymentID)
		}, func(err error) {
			if err != nil {
				log.Error().Err(err).Str("payment_id", job.PaymentID).Msg("payment processing failed")
				delay := time.Second
				if md, mdErr := msg.Metadata(); mdErr == nil && md.NumDelivered > 0 {
					delay = time.Second << (md.NumDelivered - 1)
				}
				msg.NakWithDelay(delay)
				return
			}
			msg.Ack()
		})
		if err != nil {
			log.Error().Err(err).Str("payment_id", job.PaymentID).Msg("failed to submit job to pool")
			msg.Nak()
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start consuming")
	}
	defer consumeCtx.Stop()

	log.Info().Int("pool_size", poolSize).Msg("orchestrator worker started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	pool.Stop()
}
